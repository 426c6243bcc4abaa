// Package offline keeps outbound messages deliverable across platform
// outages. Messages that cannot be posted are parked in a local SQLite queue
// and replayed in order once connectivity returns.
package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// QueueItem is one parked outbound message. TempID doubles as the local
// message id so a replayed send can finalize the right row.
type QueueItem struct {
	TempID         string    `gorm:"column:temp_id;primaryKey;type:text"`
	ConversationID string    `gorm:"column:conversation_id;type:text;index"`
	Payload        []byte    `gorm:"column:payload;type:blob"`
	EnqueuedAt     time.Time `gorm:"column:enqueued_at;index"`
	Attempts       int       `gorm:"column:attempts"`
}

// TableName overrides the gorm default.
func (QueueItem) TableName() string {
	return "outbound_queue"
}

// SendFunc delivers one parked item. A nil return deletes the item.
type SendFunc func(ctx context.Context, item QueueItem) error

// ReplayResult reports what a replay pass accomplished.
type ReplayResult struct {
	Sent        int
	StillQueued int
}

// Queue is a durable FIFO of outbound messages backed by a SQLite file.
type Queue struct {
	db       *gorm.DB
	clinicID string

	replayMu sync.Mutex

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// NewQueue opens (or creates) the queue database at path.
func NewQueue(path, clinicID string) (*Queue, error) {
	if path == "" {
		return nil, fmt.Errorf("queue path cannot be empty")
	}

	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&QueueItem{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue schema: %w", err)
	}

	q := &Queue{
		db:       db,
		clinicID: clinicID,
		inFlight: make(map[string]struct{}),
	}
	q.publishDepth(context.Background())
	return q, nil
}

// Enqueue parks an outbound message. A missing TempID gets generated.
func (q *Queue) Enqueue(ctx context.Context, item QueueItem) error {
	if item.TempID == "" {
		item.TempID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = utils.Now()
	}

	if err := q.db.WithContext(ctx).Create(&item).Error; err != nil {
		return fmt.Errorf("failed to enqueue outbound message %s: %w", item.TempID, err)
	}

	logger.FromContext(ctx).Info("Parked outbound message for replay",
		zap.String("temp_id", item.TempID),
		zap.String("conversation_id", item.ConversationID),
	)
	q.publishDepth(ctx)
	return nil
}

// Depth returns the number of parked items.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.WithContext(ctx).Model(&QueueItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count queued messages: %w", err)
	}
	return count, nil
}

// Replay drains the queue in FIFO order. Only one replay runs at a time; a
// concurrent call returns ErrReplayInProgress immediately. The first send
// failure stops the pass so ordering survives partial outages.
func (q *Queue) Replay(ctx context.Context, send SendFunc) (ReplayResult, error) {
	if !q.replayMu.TryLock() {
		return ReplayResult{}, apperrors.ErrReplayInProgress
	}
	defer q.replayMu.Unlock()

	log := logger.FromContext(ctx)

	var items []QueueItem
	if err := q.db.WithContext(ctx).
		Order("enqueued_at ASC, temp_id ASC").
		Find(&items).Error; err != nil {
		observer.IncQueueReplay(q.clinicID, "fetch_error")
		return ReplayResult{}, fmt.Errorf("failed to load queued messages: %w", err)
	}
	if len(items) == 0 {
		return ReplayResult{}, nil
	}

	log.Info("Replaying parked outbound messages", zap.Int("queued", len(items)))

	result := ReplayResult{StillQueued: len(items)}
	for _, item := range items {
		if !q.acquire(item.TempID) {
			// A direct send holds this item right now; skip without
			// breaking FIFO for the rest would reorder, so stop here.
			log.Debug("Queue item in flight elsewhere, stopping replay pass",
				zap.String("temp_id", item.TempID))
			break
		}

		sendErr := send(ctx, item)
		if sendErr != nil {
			q.bumpAttempts(ctx, item, sendErr)
			q.release(item.TempID)
			observer.IncQueueReplay(q.clinicID, "partial")
			q.publishDepth(ctx)
			return result, nil
		}

		if err := q.db.WithContext(ctx).Delete(&QueueItem{}, "temp_id = ?", item.TempID).Error; err != nil {
			log.Error("Failed to delete replayed queue item",
				zap.String("temp_id", item.TempID),
				zap.Error(err))
		}
		q.release(item.TempID)
		result.Sent++
		result.StillQueued--
	}

	observer.IncQueueReplay(q.clinicID, "success")
	q.publishDepth(ctx)
	log.Info("Replay pass finished",
		zap.Int("sent", result.Sent),
		zap.Int("still_queued", result.StillQueued),
	)
	return result, nil
}

// Remove deletes an item that was delivered outside a replay pass.
func (q *Queue) Remove(ctx context.Context, tempID string) error {
	if err := q.db.WithContext(ctx).Delete(&QueueItem{}, "temp_id = ?", tempID).Error; err != nil {
		return fmt.Errorf("failed to remove queue item %s: %w", tempID, err)
	}
	q.publishDepth(ctx)
	return nil
}

// Acquire claims an item for a direct send so a replay pass cannot deliver
// it concurrently. Returns false when the item is already claimed.
func (q *Queue) Acquire(tempID string) bool {
	return q.acquire(tempID)
}

// Release frees a claim taken with Acquire.
func (q *Queue) Release(tempID string) {
	q.release(tempID)
}

// Close closes the underlying database handle.
func (q *Queue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (q *Queue) acquire(tempID string) bool {
	q.inFlightMu.Lock()
	defer q.inFlightMu.Unlock()
	if _, held := q.inFlight[tempID]; held {
		return false
	}
	q.inFlight[tempID] = struct{}{}
	return true
}

func (q *Queue) release(tempID string) {
	q.inFlightMu.Lock()
	defer q.inFlightMu.Unlock()
	delete(q.inFlight, tempID)
}

func (q *Queue) bumpAttempts(ctx context.Context, item QueueItem, sendErr error) {
	logger.FromContext(ctx).Warn("Replay send failed, keeping item queued",
		zap.String("temp_id", item.TempID),
		zap.Int("attempts", item.Attempts+1),
		zap.Error(sendErr),
	)
	if err := q.db.WithContext(ctx).Model(&QueueItem{}).
		Where("temp_id = ?", item.TempID).
		Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		logger.FromContext(ctx).Error("Failed to bump queue item attempts",
			zap.String("temp_id", item.TempID),
			zap.Error(err))
	}
}

func (q *Queue) publishDepth(ctx context.Context) {
	depth, err := q.Depth(ctx)
	if err != nil {
		return
	}
	observer.SetQueueDepth(q.clinicID, depth)
}

package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

const testClinicID = "clinic-test-123"

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	queue, err := NewQueue(filepath.Join(t.TempDir(), "queue.db"), testClinicID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return queue
}

func enqueueN(t *testing.T, queue *Queue, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("item-%02d", i)
		require.NoError(t, queue.Enqueue(context.Background(), QueueItem{
			TempID:         id,
			ConversationID: "conv-1",
			Payload:        []byte(fmt.Sprintf(`{"seq":%d}`, i)),
			EnqueuedAt:     base.Add(time.Duration(i) * time.Second),
		}))
		ids = append(ids, id)
	}
	return ids
}

func TestEnqueue_GeneratesTempID(t *testing.T) {
	queue := newTestQueue(t)

	require.NoError(t, queue.Enqueue(context.Background(), QueueItem{
		ConversationID: "conv-1",
		Payload:        []byte(`{}`),
	}))

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestReplay_FIFOAndDeleteAfterSend(t *testing.T) {
	queue := newTestQueue(t)
	ids := enqueueN(t, queue, 5)

	var delivered []string
	result, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		delivered = append(delivered, item.TempID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, ids, delivered)
	assert.Equal(t, 5, result.Sent)
	assert.Equal(t, 0, result.StillQueued)

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplay_StopsOnFirstFailure(t *testing.T) {
	queue := newTestQueue(t)
	enqueueN(t, queue, 4)

	var delivered []string
	result, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		if item.TempID == "item-02" {
			return errors.New("platform down again")
		}
		delivered = append(delivered, item.TempID)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"item-00", "item-01"}, delivered)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 2, result.StillQueued)

	// The failed item keeps its position and its attempt counter grows.
	var failed QueueItem
	require.NoError(t, queue.db.First(&failed, "temp_id = ?", "item-02").Error)
	assert.Equal(t, 1, failed.Attempts)
}

func TestReplay_FailedItemRetriedNextPass(t *testing.T) {
	queue := newTestQueue(t)
	enqueueN(t, queue, 2)

	_, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		return errors.New("offline")
	})
	require.NoError(t, err)

	var delivered []string
	result, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		delivered = append(delivered, item.TempID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-00", "item-01"}, delivered)
	assert.Equal(t, 2, result.Sent)
}

func TestReplay_NotReentrant(t *testing.T) {
	queue := newTestQueue(t)
	enqueueN(t, queue, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	_, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		return nil
	})
	assert.ErrorIs(t, err, apperrors.ErrReplayInProgress)

	close(release)
	wg.Wait()
}

func TestReplay_EmptyQueueIsNoOp(t *testing.T) {
	queue := newTestQueue(t)

	result, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		t.Fatal("send must not be called for an empty queue")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, result.Sent)
	assert.Zero(t, result.StillQueued)
}

func TestReplay_SkipsItemHeldByDirectSend(t *testing.T) {
	queue := newTestQueue(t)
	enqueueN(t, queue, 3)

	require.True(t, queue.Acquire("item-00"))
	defer queue.Release("item-00")

	result, err := queue.Replay(context.Background(), func(ctx context.Context, item QueueItem) error {
		t.Fatalf("item %s must not be delivered while head is held", item.TempID)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, result.Sent)
}

func TestRemove_DeletesItem(t *testing.T) {
	queue := newTestQueue(t)
	enqueueN(t, queue, 2)

	require.NoError(t, queue.Remove(context.Background(), "item-00"))

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	path := filepath.Join(t.TempDir(), "queue.db")

	queue, err := NewQueue(path, testClinicID)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(context.Background(), QueueItem{
		TempID:  "persisted",
		Payload: []byte(`{}`),
	}))
	require.NoError(t, queue.Close())

	reopened, err := NewQueue(path, testClinicID)
	require.NoError(t, err)
	defer reopened.Close()

	depth, err := reopened.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

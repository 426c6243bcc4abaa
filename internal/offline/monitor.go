package offline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// Monitor watches platform connectivity and triggers queue replays. Two
// triggers exist: an offline-to-online transition seen by the probe, and a
// cron fallback that replays on a fixed schedule in case a transition was
// missed.
type Monitor struct {
	queue       *Queue
	platformAPI platform.ClientAPI
	send        SendFunc

	probeEvery  time.Duration
	replayEvery time.Duration

	online    atomic.Bool
	scheduler *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMonitor creates a connectivity monitor. send is the replay delivery
// function, usually Outbound.ReplaySender().
func NewMonitor(queue *Queue, platformAPI platform.ClientAPI, send SendFunc, probeEvery, replayEvery time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		queue:       queue,
		platformAPI: platformAPI,
		send:        send,
		probeEvery:  probeEvery,
		replayEvery: replayEvery,
		scheduler:   cron.New(),
		ctx:         ctx,
		cancel:      cancel,
	}
	m.online.Store(true)
	return m
}

// Start launches the probe loop and the fallback replay schedule.
func (m *Monitor) Start() error {
	spec := fmt.Sprintf("@every %s", m.replayEvery)
	if _, err := m.scheduler.AddFunc(spec, func() {
		m.replay("cron_fallback")
	}); err != nil {
		return fmt.Errorf("failed to schedule fallback replay: %w", err)
	}
	m.scheduler.Start()

	utils.SafeGo(func() {
		m.probeLoop()
	}, nil)

	logger.Log.Info("Offline monitor started",
		zap.Duration("probe_every", m.probeEvery),
		zap.Duration("replay_every", m.replayEvery),
	)
	return nil
}

// Stop halts the probe loop and the scheduler.
func (m *Monitor) Stop() {
	m.cancel()
	stopCtx := m.scheduler.Stop()
	<-stopCtx.Done()
	logger.Log.Info("Offline monitor stopped")
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) probeLoop() {
	ticker := time.NewTicker(m.probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	probeCtx, cancel := context.WithTimeout(m.ctx, m.probeEvery)
	defer cancel()

	err := m.platformAPI.Ping(probeCtx)
	wasOnline := m.online.Swap(err == nil)

	switch {
	case err != nil && wasOnline:
		logger.Log.Warn("Platform went offline", zap.Error(err))
	case err == nil && !wasOnline:
		logger.Log.Info("Platform back online, replaying queued messages")
		m.replay("reconnect")
	}
}

func (m *Monitor) replay(trigger string) {
	result, err := m.queue.Replay(m.ctx, m.send)
	if err != nil {
		if errors.Is(err, apperrors.ErrReplayInProgress) {
			return
		}
		logger.Log.Error("Queue replay failed",
			zap.String("trigger", trigger),
			zap.Error(err))
		return
	}
	if result.Sent > 0 || result.StillQueued > 0 {
		logger.Log.Info("Queue replay pass",
			zap.String("trigger", trigger),
			zap.Int("sent", result.Sent),
			zap.Int("still_queued", result.StillQueued),
		)
	}
}

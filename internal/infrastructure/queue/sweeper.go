package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appintake "github.com/erp/reconciler/internal/application/intake"
	"github.com/erp/reconciler/internal/domain/intake"
)

// Sweeper re-enqueues events that are due in the event log: failed
// attempts whose backoff elapsed and events whose first dispatch was lost.
type Sweeper struct {
	events     intake.RawEventRepository
	dispatcher appintake.Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewSweeper creates a sweeper
func NewSweeper(events intake.RawEventRepository, dispatcher appintake.Dispatcher, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		events:     events,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logger,
		now:        time.Now,
	}
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop stops the sweep loop and waits for it
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Sweep enqueues one batch of due events and returns how many were enqueued
func (s *Sweeper) Sweep(ctx context.Context) int {
	ready, err := s.events.FindReady(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to scan ready events", zap.Error(err))
		return 0
	}
	sent := 0
	for _, ev := range ready {
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Warn("Failed to enqueue ready event",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
			return sent
		}
		sent++
	}
	if sent > 0 {
		s.logger.Debug("Ready events enqueued", zap.Int("count", sent))
	}
	return sent
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/reconciler/internal/domain/intake"
)

// PollTriggerConfig holds configuration for the poll trigger
type PollTriggerConfig struct {
	// Interval is how often each platform is polled
	Interval time.Duration
	// Lookback bounds how far back a window may start
	Lookback time.Duration
	// MaxManualWindow caps a manually triggered window
	MaxManualWindow time.Duration
}

// DefaultPollTriggerConfig returns default configuration
func DefaultPollTriggerConfig() PollTriggerConfig {
	return PollTriggerConfig{
		Interval:        time.Minute,
		Lookback:        24 * time.Hour,
		MaxManualWindow: 7 * 24 * time.Hour,
	}
}

// PollTrigger schedules one poll per platform every interval. Each window
// starts where the last scheduled one ended, but never earlier than
// now-Lookback; replays of an overlap are absorbed by intake idempotency.
type PollTrigger struct {
	config    PollTriggerConfig
	scheduler *PollScheduler
	platforms []intake.PlatformCode
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	lastEndMu sync.RWMutex
	lastEnd   map[intake.PlatformCode]time.Time
}

// NewPollTrigger creates a trigger for platforms
func NewPollTrigger(config PollTriggerConfig, scheduler *PollScheduler, platforms []intake.PlatformCode, logger *zap.Logger) *PollTrigger {
	if config.MaxManualWindow <= 0 {
		config.MaxManualWindow = DefaultPollTriggerConfig().MaxManualWindow
	}
	return &PollTrigger{
		config:    config,
		scheduler: scheduler,
		platforms: platforms,
		logger:    logger,
		now:       time.Now,
		lastEnd:   make(map[intake.PlatformCode]time.Time),
	}
}

// Start starts the trigger loop
func (t *PollTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return nil
	}
	if t.config.Interval <= 0 || t.config.Lookback <= 0 {
		return ErrInvalidConfig
	}
	t.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Poll trigger started",
		zap.Duration("interval", t.config.Interval),
		zap.Duration("lookback", t.config.Lookback),
		zap.Int("platforms", len(t.platforms)),
	)
	return nil
}

// Stop stops the trigger loop
func (t *PollTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Poll trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *PollTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.scheduleAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.scheduleAll()
		}
	}
}

// scheduleAll schedules the next window of every platform and returns how
// many jobs were submitted.
func (t *PollTrigger) scheduleAll() int {
	now := t.now()
	scheduled := 0
	for _, platform := range t.platforms {
		start := t.windowStart(platform, now)
		if !now.After(start) {
			continue
		}
		_, err := t.scheduler.SchedulePoll(platform, start, now)
		switch {
		case err == nil:
			t.setLastEnd(platform, now)
			scheduled++
		case errors.Is(err, ErrPollAlreadyInProgress):
			t.logger.Debug("Poll still in progress, window carried over", zap.String("platform", string(platform)))
		default:
			t.logger.Error("Failed to schedule poll",
				zap.String("platform", string(platform)),
				zap.Error(err),
			)
		}
	}
	return scheduled
}

func (t *PollTrigger) windowStart(platform intake.PlatformCode, now time.Time) time.Time {
	floor := now.Add(-t.config.Lookback)
	t.lastEndMu.RLock()
	last, ok := t.lastEnd[platform]
	t.lastEndMu.RUnlock()
	if ok && last.After(floor) {
		return last
	}
	return floor
}

func (t *PollTrigger) setLastEnd(platform intake.PlatformCode, end time.Time) {
	t.lastEndMu.Lock()
	t.lastEnd[platform] = end
	t.lastEndMu.Unlock()
}

// TriggerManualPoll schedules an immediate poll of an explicit window
func (t *PollTrigger) TriggerManualPoll(platform intake.PlatformCode, start, end time.Time) (*PollJob, error) {
	if !end.After(start) || end.Sub(start) > t.config.MaxManualWindow {
		return nil, ErrPollInvalidWindow
	}
	t.logger.Info("Manual poll triggered",
		zap.String("platform", string(platform)),
		zap.Time("start_time", start),
		zap.Time("end_time", end),
	)
	return t.scheduler.SchedulePoll(platform, start, end)
}

// Stats returns the trigger state for diagnostics
func (t *PollTrigger) Stats() map[string]any {
	t.mu.Lock()
	running := t.isRunning
	t.mu.Unlock()

	t.lastEndMu.RLock()
	defer t.lastEndMu.RUnlock()
	last := make(map[string]string, len(t.lastEnd))
	for p, end := range t.lastEnd {
		last[string(p)] = end.Format(time.RFC3339)
	}
	return map[string]any{
		"is_running": running,
		"interval":   t.config.Interval.String(),
		"lookback":   t.config.Lookback.String(),
		"last_end":   last,
	}
}

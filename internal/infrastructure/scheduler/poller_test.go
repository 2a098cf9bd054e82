package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintake "github.com/erp/reconciler/internal/application/intake"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeFeed struct {
	platform intake.PlatformCode
	pages    [][]intake.FeedOrder
	errAt    int // 1-based page that fails, 0 for none
	err      error

	mu    sync.Mutex
	calls []int
}

func (f *fakeFeed) Platform() intake.PlatformCode { return f.platform }

func (f *fakeFeed) ListModified(_ context.Context, _, _ time.Time, page, _ int) ([]intake.FeedOrder, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	if f.errAt == page {
		return nil, false, f.err
	}
	if page > len(f.pages) {
		return nil, false, nil
	}
	return f.pages[page-1], page < len(f.pages), nil
}

type fakeIngestor struct {
	mu       sync.Mutex
	statuses map[string]intake.IngestStatus
	fail     map[string]bool
	payloads []string
}

func (i *fakeIngestor) Submit(_ context.Context, platform intake.PlatformCode, payload []byte) (*appintake.SubmitResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payloads = append(i.payloads, string(payload))
	if i.fail[string(payload)] {
		return nil, errors.New("store unavailable")
	}
	status, ok := i.statuses[string(payload)]
	if !ok {
		status = intake.IngestAccepted
	}
	return &appintake.SubmitResult{EventID: uuid.New(), Status: status, Platform: string(platform)}, nil
}

func feedOrders(ids ...string) []intake.FeedOrder {
	out := make([]intake.FeedOrder, len(ids))
	for i, id := range ids {
		out[i] = intake.FeedOrder{ExternalOrderID: id, Payload: []byte(id)}
	}
	return out
}

type scriptedExecutor struct {
	calls atomic.Int32
	errs  []error
	gate  chan struct{}
}

func (e *scriptedExecutor) Execute(ctx context.Context, job *PollJob) error {
	n := int(e.calls.Add(1))
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= len(e.errs) && e.errs[n-1] != nil {
		return e.errs[n-1]
	}
	job.Complete(time.Now())
	return nil
}

func testPollSchedulerConfig() PollSchedulerConfig {
	cfg := DefaultPollSchedulerConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.JobTimeout = time.Second
	return cfg
}

func startPollScheduler(t *testing.T, cfg PollSchedulerConfig, exec PollExecutor) *PollScheduler {
	t.Helper()
	s, err := NewPollScheduler(cfg, exec, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

// ---------------------------------------------------------------------------
// PollJob Tests
// ---------------------------------------------------------------------------

func TestNewPollJob(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	job, err := NewPollJob(intake.PlatformTaobao, start, end, 3)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, PollJobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)

	_, err = NewPollJob(intake.PlatformTaobao, end, start, 3)
	assert.ErrorIs(t, err, ErrPollInvalidWindow)
	_, err = NewPollJob(intake.PlatformTaobao, end, end, 3)
	assert.ErrorIs(t, err, ErrPollInvalidWindow)
}

func TestPollJob_Complete(t *testing.T) {
	tests := []struct {
		name           string
		pulled, failed int
		expected       PollJobStatus
	}{
		{"all submitted", 10, 0, PollJobStatusSuccess},
		{"empty window", 0, 0, PollJobStatusSuccess},
		{"some failed", 10, 3, PollJobStatusPartial},
		{"all failed", 4, 4, PollJobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, _ := NewPollJob(intake.PlatformDouyin, time.Unix(0, 0), time.Unix(60, 0), 3)
			job.Start(time.Now())
			job.Pulled, job.Failed = tt.pulled, tt.failed
			job.Complete(time.Now())
			assert.Equal(t, tt.expected, job.Status)
			assert.NotNil(t, job.CompletedAt)
		})
	}
}

func TestPollJob_ShouldRetry(t *testing.T) {
	job, _ := NewPollJob(intake.PlatformTaobao, time.Unix(0, 0), time.Unix(60, 0), 2)

	job.Fail(errors.New("bad credentials"), false, time.Now())
	assert.False(t, job.ShouldRetry(), "permanent failures are not retried")

	job.Fail(shared.ErrTransientIntegration, true, time.Now())
	assert.True(t, job.ShouldRetry())

	job.RetryCount = 2
	assert.False(t, job.ShouldRetry())
}

func TestPollJob_ScheduleRetryBackoff(t *testing.T) {
	job, _ := NewPollJob(intake.PlatformTaobao, time.Unix(0, 0), time.Unix(60, 0), 20)
	now := time.Now()

	assert.Equal(t, time.Minute, job.ScheduleRetry(time.Minute, now))
	assert.Equal(t, 2*time.Minute, job.ScheduleRetry(time.Minute, now))
	assert.Equal(t, 4*time.Minute, job.ScheduleRetry(time.Minute, now))
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, PollJobStatusPending, job.Status)
	require.NotNil(t, job.NextRetryAt)
	assert.Equal(t, now.Add(4*time.Minute), *job.NextRetryAt)

	for i := 0; i < 10; i++ {
		job.ScheduleRetry(time.Minute, now)
	}
	assert.Equal(t, maxPollRetryDelay, job.ScheduleRetry(time.Minute, now))
}

// ---------------------------------------------------------------------------
// FeedPollExecutor Tests
// ---------------------------------------------------------------------------

func TestFeedPollExecutor_PagesAndCounts(t *testing.T) {
	feed := &fakeFeed{
		platform: intake.PlatformTaobao,
		pages:    [][]intake.FeedOrder{feedOrders("a", "b"), feedOrders("c", "d"), feedOrders("e")},
	}
	ing := &fakeIngestor{
		statuses: map[string]intake.IngestStatus{"b": intake.IngestDuplicate, "d": intake.IngestMalformed},
		fail:     map[string]bool{"e": true},
	}
	exec := NewFeedPollExecutor([]intake.FeedClient{feed}, ing, 2, newTestLogger())

	job, _ := NewPollJob(intake.PlatformTaobao, time.Now().Add(-time.Hour), time.Now(), 3)
	job.Start(time.Now())
	require.NoError(t, exec.Execute(context.Background(), job))

	assert.Equal(t, []int{1, 2, 3}, feed.calls)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ing.payloads)
	assert.Equal(t, 3, job.Pages)
	assert.Equal(t, 5, job.Pulled)
	assert.Equal(t, 2, job.Accepted)
	assert.Equal(t, 1, job.Duplicates)
	assert.Equal(t, 1, job.Malformed)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, PollJobStatusPartial, job.Status)
}

func TestFeedPollExecutor_FeedErrors(t *testing.T) {
	transient := fmt.Errorf("HTTP 503: %w", shared.ErrTransientIntegration)
	feed := &fakeFeed{
		platform: intake.PlatformDouyin,
		pages:    [][]intake.FeedOrder{feedOrders("x"), feedOrders("y")},
		errAt:    2,
		err:      transient,
	}
	exec := NewFeedPollExecutor([]intake.FeedClient{feed}, &fakeIngestor{}, 1, newTestLogger())

	job, _ := NewPollJob(intake.PlatformDouyin, time.Now().Add(-time.Hour), time.Now(), 3)
	err := exec.Execute(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollFailed)
	assert.True(t, isTransientPollError(err))

	feed.err = errors.New("invalid app key")
	err = exec.Execute(context.Background(), job)
	require.Error(t, err)
	assert.False(t, isTransientPollError(err))
}

func TestFeedPollExecutor_UnknownPlatform(t *testing.T) {
	exec := NewFeedPollExecutor(nil, &fakeIngestor{}, 10, newTestLogger())
	job, _ := NewPollJob(intake.PlatformTaobao, time.Now().Add(-time.Hour), time.Now(), 3)

	err := exec.Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrPollFailed)
	assert.Empty(t, exec.Platforms())
}

func TestFeedPollExecutor_CancelledContext(t *testing.T) {
	feed := &fakeFeed{platform: intake.PlatformTaobao, pages: [][]intake.FeedOrder{feedOrders("a")}}
	exec := NewFeedPollExecutor([]intake.FeedClient{feed}, &fakeIngestor{}, 10, newTestLogger())
	job, _ := NewPollJob(intake.PlatformTaobao, time.Now().Add(-time.Hour), time.Now(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, job)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.True(t, isTransientPollError(err))
	assert.Empty(t, feed.calls)
}

// ---------------------------------------------------------------------------
// PollScheduler Tests
// ---------------------------------------------------------------------------

func TestPollSchedulerConfig_Validate(t *testing.T) {
	cfg := DefaultPollSchedulerConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MaxConcurrentJobs = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultPollSchedulerConfig()
	cfg.RetryAttempts = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestPollScheduler_RunsJob(t *testing.T) {
	exec := &scriptedExecutor{}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)

	_, err := s.SchedulePoll(intake.PlatformTaobao, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PollJobStatusSuccess, s.GetJobHistory(1)[0].Status)
}

func TestPollScheduler_RetriesTransientFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{
		fmt.Errorf("%w: %w", ErrPollFailed, shared.ErrTransientIntegration),
		fmt.Errorf("%w: %w", ErrPollFailed, shared.ErrTransientIntegration),
	}}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)

	_, err := s.SchedulePoll(intake.PlatformTaobao, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exec.calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 3 }, time.Second, 5*time.Millisecond)
	history := s.GetJobHistory(0)
	assert.Equal(t, PollJobStatusSuccess, history[0].Status)
	assert.Equal(t, 2, history[0].RetryCount)
	assert.Equal(t, PollJobStatusFailed, history[1].Status)
}

func TestPollScheduler_DoesNotRetryPermanentFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{fmt.Errorf("%w: bad signature", ErrPollFailed)}}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)

	_, err := s.SchedulePoll(intake.PlatformDouyin, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), exec.calls.Load())

	// the platform is free again
	_, err = s.SchedulePoll(intake.PlatformDouyin, time.Now().Add(-time.Minute), time.Now())
	assert.NoError(t, err)
}

func TestPollScheduler_OnePollPerPlatform(t *testing.T) {
	exec := &scriptedExecutor{gate: make(chan struct{})}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)
	defer close(exec.gate)

	_, err := s.SchedulePoll(intake.PlatformTaobao, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	_, err = s.SchedulePoll(intake.PlatformTaobao, time.Now().Add(-time.Minute), time.Now())
	assert.ErrorIs(t, err, ErrPollAlreadyInProgress)
	_, err = s.SchedulePoll(intake.PlatformDouyin, time.Now().Add(-time.Minute), time.Now())
	assert.NoError(t, err)
}

func TestPollScheduler_NotRunning(t *testing.T) {
	s, err := NewPollScheduler(testPollSchedulerConfig(), &scriptedExecutor{}, newTestLogger())
	require.NoError(t, err)

	_, err = s.SchedulePoll(intake.PlatformTaobao, time.Now().Add(-time.Minute), time.Now())
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())
}

// ---------------------------------------------------------------------------
// PollTrigger Tests
// ---------------------------------------------------------------------------

func TestPollTrigger_Windows(t *testing.T) {
	exec := &scriptedExecutor{}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	trigger := NewPollTrigger(PollTriggerConfig{Interval: time.Minute, Lookback: time.Hour}, s,
		[]intake.PlatformCode{intake.PlatformTaobao}, newTestLogger())
	trigger.now = func() time.Time { return now }

	assert.Equal(t, base.Add(-time.Hour), trigger.windowStart(intake.PlatformTaobao, now), "first window starts at the lookback floor")

	require.Equal(t, 1, trigger.scheduleAll())
	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	first := s.GetJobHistory(1)[0]
	assert.Equal(t, base.Add(-time.Hour), first.StartTime)
	assert.Equal(t, base, first.EndTime)

	now = base.Add(time.Minute)
	assert.Equal(t, base, trigger.windowStart(intake.PlatformTaobao, now), "next window continues from the last end")

	now = base.Add(3 * time.Hour)
	assert.Equal(t, now.Add(-time.Hour), trigger.windowStart(intake.PlatformTaobao, now), "a stale end is clamped to the lookback")
}

func TestPollTrigger_CarriesWindowWhileBusy(t *testing.T) {
	exec := &scriptedExecutor{gate: make(chan struct{})}
	s := startPollScheduler(t, testPollSchedulerConfig(), exec)
	defer close(exec.gate)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	trigger := NewPollTrigger(PollTriggerConfig{Interval: time.Minute, Lookback: time.Hour}, s,
		[]intake.PlatformCode{intake.PlatformTaobao}, newTestLogger())
	trigger.now = func() time.Time { return now }

	require.Equal(t, 1, trigger.scheduleAll())
	now = base.Add(time.Minute)
	assert.Equal(t, 0, trigger.scheduleAll())
	assert.Equal(t, base, trigger.windowStart(intake.PlatformTaobao, now))
}

func TestPollTrigger_ManualWindow(t *testing.T) {
	s := startPollScheduler(t, testPollSchedulerConfig(), &scriptedExecutor{})
	trigger := NewPollTrigger(DefaultPollTriggerConfig(), s, nil, newTestLogger())

	now := time.Now()
	_, err := trigger.TriggerManualPoll(intake.PlatformTaobao, now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrPollInvalidWindow)
	_, err = trigger.TriggerManualPoll(intake.PlatformTaobao, now.Add(-8*24*time.Hour), now)
	assert.ErrorIs(t, err, ErrPollInvalidWindow)

	job, err := trigger.TriggerManualPoll(intake.PlatformTaobao, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, intake.PlatformTaobao, job.Platform)
}

func TestPollTrigger_StartStop(t *testing.T) {
	s := startPollScheduler(t, testPollSchedulerConfig(), &scriptedExecutor{})
	trigger := NewPollTrigger(PollTriggerConfig{Interval: time.Hour, Lookback: time.Hour}, s,
		[]intake.PlatformCode{intake.PlatformDouyin}, newTestLogger())

	require.NoError(t, trigger.Start(context.Background()))
	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, true, trigger.Stats()["is_running"])
	require.NoError(t, trigger.Stop(context.Background()))
	assert.Equal(t, false, trigger.Stats()["is_running"])

	bad := NewPollTrigger(PollTriggerConfig{}, s, nil, newTestLogger())
	assert.ErrorIs(t, bad.Start(context.Background()), ErrInvalidConfig)
}

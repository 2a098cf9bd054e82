package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/erp/reconciler/internal/domain/intake"
)

// PollJobStatus represents the status of a poll job
type PollJobStatus string

const (
	PollJobStatusPending   PollJobStatus = "PENDING"
	PollJobStatusRunning   PollJobStatus = "RUNNING"
	PollJobStatusSuccess   PollJobStatus = "SUCCESS"
	PollJobStatusPartial   PollJobStatus = "PARTIAL"
	PollJobStatusFailed    PollJobStatus = "FAILED"
	PollJobStatusCancelled PollJobStatus = "CANCELLED"
)

// maxPollRetryDelay caps the delay between poll retries
const maxPollRetryDelay = 30 * time.Minute

// PollJob pulls one time window of modified orders from one platform
type PollJob struct {
	ID          uuid.UUID
	Platform    intake.PlatformCode
	StartTime   time.Time
	EndTime     time.Time
	Status      PollJobStatus
	Error       string
	Transient   bool
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	// Results
	Pages      int
	Pulled     int
	Accepted   int
	Duplicates int
	Malformed  int
	Failed     int

	backoff *backoff.ExponentialBackOff
}

// NewPollJob creates a poll job for [start, end)
func NewPollJob(platform intake.PlatformCode, start, end time.Time, maxRetries int) (*PollJob, error) {
	if !end.After(start) {
		return nil, ErrPollInvalidWindow
	}
	return &PollJob{
		ID:         uuid.New(),
		Platform:   platform,
		StartTime:  start,
		EndTime:    end,
		Status:     PollJobStatusPending,
		MaxRetries: maxRetries,
	}, nil
}

// Start marks the job as running and clears the previous attempt's counts
func (j *PollJob) Start(now time.Time) {
	j.Status = PollJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
	j.Transient = false
	j.Pages, j.Pulled, j.Accepted, j.Duplicates, j.Malformed, j.Failed = 0, 0, 0, 0, 0, 0
}

// Complete marks the job as done; per-order submit failures make it partial
func (j *PollJob) Complete(now time.Time) {
	j.CompletedAt = &now
	switch {
	case j.Failed == 0:
		j.Status = PollJobStatusSuccess
	case j.Failed < j.Pulled:
		j.Status = PollJobStatusPartial
	default:
		j.Status = PollJobStatusFailed
	}
}

// Fail marks the job as failed. Only transient failures are retried.
func (j *PollJob) Fail(err error, transient bool, now time.Time) {
	j.Status = PollJobStatusFailed
	j.CompletedAt = &now
	j.Error = err.Error()
	j.Transient = transient
}

// ShouldRetry returns true if the job should be retried
func (j *PollJob) ShouldRetry() bool {
	return j.Status == PollJobStatusFailed && j.Transient && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the next attempt with exponential backoff, capped
// at maxPollRetryDelay, and returns the delay.
func (j *PollJob) ScheduleRetry(base time.Duration, now time.Time) time.Duration {
	if j.backoff == nil {
		j.backoff = backoff.NewExponentialBackOff()
		j.backoff.InitialInterval = base
		j.backoff.Multiplier = 2
		j.backoff.RandomizationFactor = 0
		j.backoff.MaxInterval = maxPollRetryDelay
		j.backoff.MaxElapsedTime = 0
		j.backoff.Reset()
	}
	j.RetryCount++
	delay := j.backoff.NextBackOff()
	j.Status = PollJobStatusPending
	next := now.Add(delay)
	j.NextRetryAt = &next
	return delay
}

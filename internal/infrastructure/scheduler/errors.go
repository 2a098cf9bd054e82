package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when work is submitted to a stopped scheduler or pool
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ---------------------------------------------------------------------------
	// Poll Errors
	// ---------------------------------------------------------------------------

	// ErrPollFailed is returned when a poll job fails
	ErrPollFailed = errors.New("platform poll failed")

	// ErrPollTimeout is returned when a poll job runs out of time
	ErrPollTimeout = errors.New("platform poll timed out")

	// ErrPollInvalidWindow is returned for an empty or inverted time window
	ErrPollInvalidWindow = errors.New("invalid poll time window")

	// ErrPollAlreadyInProgress is returned when a platform is already being polled
	ErrPollAlreadyInProgress = errors.New("poll already in progress for this platform")
)

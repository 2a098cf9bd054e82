package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/reconciler/internal/domain/intake"
)

// PollSchedulerConfig holds configuration for the poll scheduler
type PollSchedulerConfig struct {
	// MaxConcurrentJobs is the maximum number of concurrent poll jobs
	MaxConcurrentJobs int
	// QueueSize bounds the pending job queue
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// RetryAttempts is the number of retries for transiently failed jobs
	RetryAttempts int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
}

// DefaultPollSchedulerConfig returns default configuration
func DefaultPollSchedulerConfig() PollSchedulerConfig {
	return PollSchedulerConfig{
		MaxConcurrentJobs: 2,
		QueueSize:         32,
		JobTimeout:        5 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        30 * time.Second,
	}
}

// Validate validates the configuration
func (c *PollSchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 || c.RetryDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// PollScheduler runs poll jobs on a small worker pool. At most one job per
// platform is active at a time, counting jobs waiting for a retry.
type PollScheduler struct {
	config   PollSchedulerConfig
	executor PollExecutor
	logger   *zap.Logger
	now      func() time.Time

	jobs      chan *PollJob
	quit      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[intake.PlatformCode]bool
	retries   map[*PollJob]*time.Timer

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*PollJob
	maxHistory int
}

// NewPollScheduler creates a new poll scheduler
func NewPollScheduler(config PollSchedulerConfig, executor PollExecutor, logger *zap.Logger) (*PollScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PollScheduler{
		config:     config,
		executor:   executor,
		logger:     logger,
		now:        time.Now,
		active:     make(map[intake.PlatformCode]bool),
		retries:    make(map[*PollJob]*time.Timer),
		history:    make([]*PollJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the worker pool
func (s *PollScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.jobs = make(chan *PollJob, s.config.QueueSize)
	s.quit = make(chan struct{})

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Poll scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs, drops pending retries and waits for workers
func (s *PollScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for job, t := range s.retries {
		t.Stop()
		delete(s.retries, job)
	}
	s.active = make(map[intake.PlatformCode]bool)
	close(s.quit)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Poll scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Poll scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *PollScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SchedulePoll submits a poll of [start, end) for platform
func (s *PollScheduler) SchedulePoll(platform intake.PlatformCode, start, end time.Time) (*PollJob, error) {
	job, err := NewPollJob(platform, start, end, s.config.RetryAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitJob submits a job for execution
func (s *PollScheduler) SubmitJob(job *PollJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if s.active[job.Platform] {
		return ErrPollAlreadyInProgress
	}

	select {
	case s.jobs <- job:
		s.active[job.Platform] = true
		s.logger.Debug("Poll job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("platform", string(job.Platform)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *PollScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug("Poll worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Poll worker stopping", zap.Int("worker_id", workerID))
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *PollScheduler) processJob(ctx context.Context, job *PollJob, workerID int) {
	job.Start(s.now())

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	err := s.executor.Execute(jobCtx, job)
	if err == nil {
		s.release(job)
		s.addToHistory(job)
		return
	}

	job.Fail(err, isTransientPollError(err), s.now())
	s.logger.Error("Poll job failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("platform", string(job.Platform)),
		zap.Bool("transient", job.Transient),
		zap.Error(err),
	)
	s.addToHistory(job)

	if ctx.Err() != nil || !job.ShouldRetry() {
		s.release(job)
		return
	}
	s.scheduleRetry(job)
}

func (s *PollScheduler) scheduleRetry(job *PollJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}

	delay := job.ScheduleRetry(s.config.RetryDelay, s.now())
	s.logger.Info("Poll job scheduled for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", delay),
	)

	quit := s.quit
	jobs := s.jobs
	s.retries[job] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retries, job)
		s.mu.Unlock()
		select {
		case <-quit:
		case jobs <- job:
		default:
			s.logger.Warn("Failed to re-queue poll job for retry", zap.String("job_id", job.ID.String()))
			s.release(job)
		}
	})
}

func (s *PollScheduler) release(job *PollJob) {
	s.mu.Lock()
	delete(s.active, job.Platform)
	s.mu.Unlock()
}

func (s *PollScheduler) addToHistory(job *PollJob) {
	snapshot := *job
	snapshot.backoff = nil

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append([]*PollJob{&snapshot}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent job runs, newest first
func (s *PollScheduler) GetJobHistory(limit int) []*PollJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*PollJob, limit)
	copy(result, s.history[:limit])
	return result
}

package scheduler

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
)

// PoolConfig holds configuration for the reconcile pool
type PoolConfig struct {
	// Partitions is the number of serial workers; events of one order always
	// land on the same partition.
	Partitions int
	// QueueSize bounds each partition's queue
	QueueSize int
	// PollInterval is how often the event log is scanned for ready events
	PollInterval time.Duration
	// BatchSize caps one scan
	BatchSize int
	// JobTimeout bounds the processing of one event
	JobTimeout time.Duration
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Partitions:   8,
		QueueSize:    256,
		PollInterval: time.Second,
		BatchSize:    200,
		JobTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration
func (c *PoolConfig) Validate() error {
	if c.Partitions <= 0 || c.QueueSize <= 0 || c.BatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 || c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// flight is one event queued or being processed. Waiters block on done.
type flight struct {
	eventID   uuid.UUID
	partition int
	done      chan struct{}
	result    *reconcile.Result
	err       error
}

// ReconcilePool processes stored events on a fixed set of partitions.
// Partitioning by order keeps the events of one order serial; the dispatcher
// loop re-reads the event log so retries and lost dispatches are picked up.
type ReconcilePool struct {
	config    PoolConfig
	processor reconcile.Processor
	events    intake.RawEventRepository
	logger    *zap.Logger
	now       func() time.Time

	queues []chan *flight

	flightMu sync.Mutex
	inflight map[uuid.UUID]*flight

	mu        sync.Mutex
	isRunning bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewReconcilePool creates a pool
func NewReconcilePool(config PoolConfig, processor reconcile.Processor, events intake.RawEventRepository, logger *zap.Logger) (*ReconcilePool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	queues := make([]chan *flight, config.Partitions)
	for i := range queues {
		queues[i] = make(chan *flight, config.QueueSize)
	}
	return &ReconcilePool{
		config:    config,
		processor: processor,
		events:    events,
		logger:    logger,
		now:       time.Now,
		queues:    queues,
		inflight:  make(map[uuid.UUID]*flight),
	}, nil
}

// Start starts one worker per partition and the dispatcher loop
func (p *ReconcilePool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true
	p.quit = make(chan struct{})

	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.dispatchLoop()

	p.logger.Info("Reconcile pool started",
		zap.Int("partitions", p.config.Partitions),
		zap.Int("queue_size", p.config.QueueSize),
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Duration("job_timeout", p.config.JobTimeout),
	)
	return nil
}

// Stop stops dispatching and waits for the event being processed on each
// partition. Queued events stay unprocessed in the log and are picked up on
// the next start.
func (p *ReconcilePool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Reconcile pool stop timed out")
		return ctx.Err()
	}

	p.flightMu.Lock()
	abandoned := p.inflight
	p.inflight = make(map[uuid.UUID]*flight)
	p.flightMu.Unlock()
	for _, f := range abandoned {
		f.err = ErrSchedulerNotRunning
		close(f.done)
	}
	for _, q := range p.queues {
	drain:
		for {
			select {
			case <-q:
			default:
				break drain
			}
		}
	}

	p.logger.Info("Reconcile pool stopped gracefully", zap.Int("abandoned", len(abandoned)))
	return nil
}

// Dispatch queues ev without waiting. An event already queued or running is
// not queued twice.
func (p *ReconcilePool) Dispatch(_ context.Context, ev *intake.RawEvent) error {
	_, err := p.enqueue(ev)
	return err
}

// Await queues ev unless it is already in flight, then waits for its result
func (p *ReconcilePool) Await(ctx context.Context, ev *intake.RawEvent) (*reconcile.Result, error) {
	f, err := p.enqueue(ev)
	if err != nil {
		return nil, err
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ReconcilePool) enqueue(ev *intake.RawEvent) (*flight, error) {
	p.mu.Lock()
	running := p.isRunning
	p.mu.Unlock()
	if !running {
		return nil, ErrSchedulerNotRunning
	}

	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if f, ok := p.inflight[ev.ID]; ok {
		return f, nil
	}

	f := &flight{
		eventID:   ev.ID,
		partition: Partition(ev.PartitionKey(), len(p.queues)),
		done:      make(chan struct{}),
	}
	select {
	case p.queues[f.partition] <- f:
		p.inflight[ev.ID] = f
		return f, nil
	default:
		return nil, ErrJobQueueFull
	}
}

// Partition maps a partition key onto n partitions with FNV-1a
func Partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (p *ReconcilePool) worker(partition int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("partition", partition))
	log.Debug("Reconcile worker started")

	for {
		// quit wins over queued work
		select {
		case <-p.quit:
			log.Debug("Reconcile worker stopping")
			return
		default:
		}
		select {
		case <-p.quit:
			log.Debug("Reconcile worker stopping")
			return
		case f := <-p.queues[partition]:
			p.run(f, log)
		}
	}
}

func (p *ReconcilePool) run(f *flight, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	res, err := p.processor.Process(ctx, f.eventID)
	if err != nil {
		log.Debug("Event processing returned error",
			zap.String("event_id", f.eventID.String()),
			zap.Error(err),
		)
	} else if !res.AlreadyProcessed {
		log.Debug("Event processed",
			zap.String("event_id", f.eventID.String()),
			zap.String("order_id", res.ExternalOrderID),
			zap.String("outcome", string(res.Outcome)),
		)
	}

	p.flightMu.Lock()
	if cur, ok := p.inflight[f.eventID]; ok && cur == f {
		delete(p.inflight, f.eventID)
		f.result, f.err = res, err
		close(f.done)
	}
	p.flightMu.Unlock()
}

func (p *ReconcilePool) dispatchLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.dispatchReady()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.dispatchReady()
		}
	}
}

// dispatchReady queues every event that is due, oldest first
func (p *ReconcilePool) dispatchReady() int {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PollInterval+5*time.Second)
	defer cancel()

	ready, err := p.events.FindReady(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("Failed to scan ready events", zap.Error(err))
		return 0
	}
	queued := 0
	for _, ev := range ready {
		if _, err := p.enqueue(ev); err != nil {
			if !errors.Is(err, ErrJobQueueFull) {
				return queued
			}
			continue
		}
		queued++
	}
	if len(ready) > 0 {
		p.logger.Debug("Ready events dispatched", zap.Int("found", len(ready)), zap.Int("queued", queued))
	}
	return queued
}

// QueueDepths returns the number of queued events per partition
func (p *ReconcilePool) QueueDepths() []int {
	out := make([]int, len(p.queues))
	for i, q := range p.queues {
		out[i] = len(q)
	}
	return out
}

// InFlight returns the number of events queued or being processed
func (p *ReconcilePool) InFlight() int {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	return len(p.inflight)
}

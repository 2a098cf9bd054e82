package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
)

// WorkerConfig holds configuration for the asynq worker servers
type WorkerConfig struct {
	Prefix     string
	Partitions int
}

// Worker consumes reconcile tasks. Every partition queue has its own server
// with a concurrency of one, so the events of an order are handled one at a
// time in enqueue order, as they are by the local pool.
type Worker struct {
	queues    []string
	servers   []*asynq.Server
	mux       *asynq.ServeMux
	processor reconcile.Processor
	logger    *zap.Logger
}

// NewWorker creates one worker server per partition queue on redis
func NewWorker(redis asynq.RedisConnOpt, cfg WorkerConfig, processor reconcile.Processor, logger *zap.Logger) *Worker {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultQueuePrefix
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	w := &Worker{
		processor: processor,
		logger:    logger,
		mux:       asynq.NewServeMux(),
	}
	for i := 0; i < cfg.Partitions; i++ {
		name := QueueName(cfg.Prefix, i)
		w.queues = append(w.queues, name)
		w.servers = append(w.servers, asynq.NewServer(redis, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{name: 1},
			Logger:      logger.Named(name).Sugar(),
		}))
	}
	w.mux.HandleFunc(TaskTypeReconcile, w.HandleReconcile)
	return w
}

// Queues returns the partition queues served, one server each
func (w *Worker) Queues() []string {
	return append([]string(nil), w.queues...)
}

// Start starts every partition server in the background. If one fails to
// start, the ones already running are shut down.
func (w *Worker) Start() error {
	w.logger.Info("Queue worker starting", zap.Int("partitions", len(w.servers)))
	for i, srv := range w.servers {
		if err := srv.Start(w.mux); err != nil {
			for _, started := range w.servers[:i] {
				started.Shutdown()
			}
			return fmt.Errorf("start worker for %s: %w", w.queues[i], err)
		}
	}
	return nil
}

// Stop waits for active tasks and shuts the servers down
func (w *Worker) Stop() {
	for _, srv := range w.servers {
		srv.Shutdown()
	}
	w.logger.Info("Queue worker stopped")
}

// HandleReconcile processes one task. Processing failures are recorded on
// the event and retried from the event log, so only a payload that cannot
// be decoded or an event that cannot be loaded fails the task.
func (w *Worker) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p EventPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode reconcile task: %v: %w", err, asynq.SkipRetry)
	}

	res, err := w.processor.Process(ctx, p.EventID)
	if err != nil {
		if res == nil && isLoadFailure(err) {
			return err
		}
		w.logger.Debug("Event processing returned error",
			zap.String("event_id", p.EventID.String()),
			zap.Int("attempt", p.Attempt),
			zap.Error(err),
		)
		return nil
	}
	if !res.AlreadyProcessed {
		w.logger.Debug("Event processed",
			zap.String("event_id", p.EventID.String()),
			zap.String("order_id", res.ExternalOrderID),
			zap.String("outcome", string(res.Outcome)),
		)
	}
	return nil
}

// isLoadFailure reports a failure that happened before anything was
// recorded on the event. A missing event is never retried.
func isLoadFailure(err error) bool {
	return errors.Is(err, reconcile.ErrLoadEvent) && !errors.Is(err, intake.ErrEventNotFound)
}

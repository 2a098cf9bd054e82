// Package queue carries stored events to reconciliation workers over asynq.
// Each order hashes to one of a fixed set of queues so a worker deployment
// can be scaled out while keeping the per-order partitioning of the local pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
)

// TaskTypeReconcile is the task type of a reconcile task
const TaskTypeReconcile = "reconcile:event"

// DefaultQueuePrefix names the partition queues: <prefix>_1 ... <prefix>_N
const DefaultQueuePrefix = "reconcile"

// EventPayload is the body of a reconcile task
type EventPayload struct {
	EventID uuid.UUID `json:"event_id"`
	Attempt int       `json:"attempt"`
}

// QueueName returns the queue of a partition (0-based)
func QueueName(prefix string, partition int) string {
	return fmt.Sprintf("%s_%d", prefix, partition+1)
}

// RedisOpt builds the asynq connection option from redis config
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Dispatcher enqueues events as asynq tasks
type Dispatcher struct {
	client     *asynq.Client
	prefix     string
	partitions int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. The caller owns client.
func NewDispatcher(client *asynq.Client, prefix string, partitions int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}
	if partitions <= 0 {
		partitions = 1
	}
	return &Dispatcher{
		client:     client,
		prefix:     prefix,
		partitions: partitions,
		timeout:    timeout,
		logger:     logger,
	}
}

// TaskID identifies one processing attempt of an event. A redelivery of
// the same attempt collides with the queued task; a retry gets a new ID.
func TaskID(ev *intake.RawEvent) string {
	return fmt.Sprintf("%s#%d", ev.ID, ev.AttemptCount)
}

// Dispatch enqueues ev on its order's queue. An attempt already queued is
// not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *intake.RawEvent) error {
	payload, err := json.Marshal(EventPayload{EventID: ev.ID, Attempt: ev.AttemptCount})
	if err != nil {
		return err
	}
	queue := QueueName(d.prefix, scheduler.Partition(ev.PartitionKey(), d.partitions))
	opts := []asynq.Option{
		asynq.TaskID(TaskID(ev)),
		asynq.Queue(queue),
		asynq.MaxRetry(3),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeReconcile, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue event %s: %w", ev.ID, err)
	}
	d.logger.Debug("Event enqueued",
		zap.String("event_id", ev.ID.String()),
		zap.String("queue", info.Queue),
		zap.String("task_id", info.ID),
	)
	return nil
}

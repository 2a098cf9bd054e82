package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appintake "github.com/erp/reconciler/internal/application/intake"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
)

// Ingestor accepts raw platform payloads
type Ingestor interface {
	Submit(ctx context.Context, platform intake.PlatformCode, payload []byte) (*appintake.SubmitResult, error)
}

// PollExecutor executes poll jobs
type PollExecutor interface {
	Execute(ctx context.Context, job *PollJob) error
}

// FeedPollExecutor pages through a platform feed and submits every order
// payload to intake.
type FeedPollExecutor struct {
	feeds    map[intake.PlatformCode]intake.FeedClient
	ingestor Ingestor
	pageSize int
	logger   *zap.Logger
	now      func() time.Time
}

// NewFeedPollExecutor creates an executor over the given feed clients
func NewFeedPollExecutor(feeds []intake.FeedClient, ingestor Ingestor, pageSize int, logger *zap.Logger) *FeedPollExecutor {
	byPlatform := make(map[intake.PlatformCode]intake.FeedClient, len(feeds))
	for _, f := range feeds {
		byPlatform[f.Platform()] = f
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &FeedPollExecutor{
		feeds:    byPlatform,
		ingestor: ingestor,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Platforms returns the platforms this executor can poll
func (e *FeedPollExecutor) Platforms() []intake.PlatformCode {
	out := make([]intake.PlatformCode, 0, len(e.feeds))
	for _, p := range intake.AllPlatforms() {
		if _, ok := e.feeds[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Execute pulls every page of the job's window. A feed error aborts the job;
// a submit error only counts against the order that caused it.
func (e *FeedPollExecutor) Execute(ctx context.Context, job *PollJob) error {
	feed, ok := e.feeds[job.Platform]
	if !ok {
		return fmt.Errorf("%w: no feed client for %s", ErrPollFailed, job.Platform)
	}

	e.logger.Info("Starting platform poll",
		zap.String("job_id", job.ID.String()),
		zap.String("platform", string(job.Platform)),
		zap.Time("start_time", job.StartTime),
		zap.Time("end_time", job.EndTime),
	)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrPollTimeout, err)
		}

		orders, hasNext, err := feed.ListModified(ctx, job.StartTime, job.EndTime, page, e.pageSize)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrPollTimeout, err)
			}
			return fmt.Errorf("%w: page %d: %w", ErrPollFailed, page, err)
		}
		job.Pages++
		job.Pulled += len(orders)

		for _, o := range orders {
			e.submit(ctx, job, o)
		}

		e.logger.Debug("Polled page of orders",
			zap.String("job_id", job.ID.String()),
			zap.Int("page", page),
			zap.Int("orders_in_page", len(orders)),
			zap.Int("total_so_far", job.Pulled),
		)

		if !hasNext || len(orders) == 0 {
			break
		}
	}

	job.Complete(e.now())
	e.logger.Info("Platform poll completed",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("pulled", job.Pulled),
		zap.Int("accepted", job.Accepted),
		zap.Int("duplicates", job.Duplicates),
		zap.Int("malformed", job.Malformed),
		zap.Int("failed", job.Failed),
	)
	return nil
}

func (e *FeedPollExecutor) submit(ctx context.Context, job *PollJob, o intake.FeedOrder) {
	res, err := e.ingestor.Submit(ctx, job.Platform, o.Payload)
	if err != nil {
		job.Failed++
		e.logger.Error("Failed to submit polled order",
			zap.String("platform", string(job.Platform)),
			zap.String("external_order_id", o.ExternalOrderID),
			zap.Error(err),
		)
		return
	}
	switch res.Status {
	case intake.IngestAccepted:
		job.Accepted++
	case intake.IngestDuplicate:
		job.Duplicates++
	case intake.IngestMalformed:
		job.Malformed++
	}
}

// isTransientPollError reports whether a failed poll is worth retrying
func isTransientPollError(err error) bool {
	return errors.Is(err, shared.ErrTransientIntegration) || errors.Is(err, ErrPollTimeout)
}

var _ PollExecutor = (*FeedPollExecutor)(nil)

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	intakeapp "github.com/erp/reconciler/internal/application/intake"
	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
)

// EventService is the intake surface the event endpoints use
type EventService interface {
	Submit(ctx context.Context, platform intake.PlatformCode, payload []byte) (*intakeapp.SubmitResult, error)
	Ingest(ctx context.Context, platform intake.PlatformCode, payload []byte) (*intakeapp.SubmitResult, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*intakeapp.EventResponse, error)
	ListDeadLetters(ctx context.Context, filter shared.Filter) (shared.Paginated[intakeapp.EventResponse], error)
	Requeue(ctx context.Context, id uuid.UUID) (*intakeapp.EventResponse, error)
}

// Awaiter processes a stored event and hands back its result. The worker
// pool and the inline runner both satisfy it.
type Awaiter interface {
	Await(ctx context.Context, ev *intake.RawEvent) (*reconcile.Result, error)
}

// EventHandler serves event submission and dead-letter management
type EventHandler struct {
	BaseHandler
	events      EventService
	awaiter     Awaiter
	waitTimeout time.Duration
}

// NewEventHandler creates an EventHandler. Without an awaiter ?wait=true
// behaves like a plain submission.
func NewEventHandler(events EventService, awaiter Awaiter, waitTimeout time.Duration) *EventHandler {
	return &EventHandler{
		events:      events,
		awaiter:     awaiter,
		waitTimeout: waitTimeout,
	}
}

// SubmitEventResponse is the answer to a submission. Result is only set
// when the caller waited and processing finished in time.
type SubmitEventResponse struct {
	*intakeapp.SubmitResult
	Result *reconcile.Result `json:"result,omitempty"`
}

// Submit stores a raw platform payload and schedules it for reconciliation.
//
// POST /events/:platform[?wait=true]
//
// 202 when the event was accepted (or quarantined as malformed), 200 for a
// duplicate or a finished wait, 422 when a waited reservation was rejected.
func (h *EventHandler) Submit(c *gin.Context) {
	platform, err := intake.ParsePlatform(c.Param("platform"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.ErrorWithCode(c, dto.ErrCodeTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait || h.awaiter == nil {
		res, err := h.events.Submit(c.Request.Context(), platform, payload)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.respondSubmitted(c, &SubmitEventResponse{SubmitResult: res})
		return
	}

	res, err := h.events.Ingest(c.Request.Context(), platform, payload)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if res.Status != intake.IngestAccepted {
		h.respondSubmitted(c, &SubmitEventResponse{SubmitResult: res})
		return
	}

	ctx := c.Request.Context()
	if h.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.waitTimeout)
		defer cancel()
	}
	result, err := h.awaiter.Await(ctx, res.Event)
	switch {
	case err == nil:
		h.Success(c, &SubmitEventResponse{SubmitResult: res, Result: result})
	case ledgerapp.IsInsufficientStock(err):
		h.ErrorWithCode(c, dto.ErrCodeInsufficientStock, err.Error())
	default:
		// The failure is on the event log and the event will be retried.
		logger.FromGin(c).Info("Waited submission not finished, left for retry",
			zap.String("event_id", res.EventID.String()),
			zap.Error(err),
		)
		h.respondSubmitted(c, &SubmitEventResponse{SubmitResult: res})
	}
}

func (h *EventHandler) respondSubmitted(c *gin.Context, resp *SubmitEventResponse) {
	if resp.Status == intake.IngestDuplicate {
		h.Success(c, resp)
		return
	}
	h.Accepted(c, resp)
}

// Get returns one stored event.
//
// GET /events/:id
func (h *EventHandler) Get(c *gin.Context) {
	id, ok := h.parseEventID(c)
	if !ok {
		return
	}
	ev, err := h.events.GetEvent(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ev)
}

// ListDeadLetters returns dead-lettered events, oldest first.
//
// GET /events/dead-letters
func (h *EventHandler) ListDeadLetters(c *gin.Context) {
	filter, ok := h.bindList(c)
	if !ok {
		return
	}
	page, err := h.events.ListDeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Requeue resets a dead-lettered event and schedules it again.
//
// POST /events/dead-letters/:id/requeue
func (h *EventHandler) Requeue(c *gin.Context) {
	id, ok := h.parseEventID(c)
	if !ok {
		return
	}
	ev, err := h.events.Requeue(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, ev)
}

func (h *EventHandler) parseEventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "Invalid event ID format")
		return uuid.Nil, false
	}
	return id, true
}

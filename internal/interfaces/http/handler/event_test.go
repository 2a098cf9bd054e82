package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	intakeapp "github.com/erp/reconciler/internal/application/intake"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/order"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
)

const taobaoPayload = `{"tid":"1001","status":"WAIT_SELLER_SEND_GOODS","modified":"2026-01-05 10:00:00"}`

func setupEventRouter(svc EventService, awaiter Awaiter) *gin.Engine {
	h := NewEventHandler(svc, awaiter, time.Second)
	r := newTestEngine()
	r.POST("/events/:platform", h.Submit)
	r.GET("/events/dead-letters", h.ListDeadLetters)
	r.GET("/events/:id", h.Get)
	r.POST("/events/dead-letters/:id/requeue", h.Requeue)
	return r
}

func acceptedResult() *intakeapp.SubmitResult {
	ev := &intake.RawEvent{ID: uuid.New(), Platform: intake.PlatformTaobao, ExternalOrderID: "1001"}
	return &intakeapp.SubmitResult{
		EventID:         ev.ID,
		Status:          intake.IngestAccepted,
		Platform:        string(ev.Platform),
		ExternalOrderID: ev.ExternalOrderID,
		IdempotencyKey:  "TAOBAO:1001:1",
		Event:           ev,
	}
}

func TestEventHandler_Submit(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := new(MockEventService)
		res := acceptedResult()
		svc.On("Submit", mock.Anything, intake.PlatformTaobao, []byte(taobaoPayload)).Return(res, nil)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/taobao", strings.NewReader(taobaoPayload))

		assert.Equal(t, http.StatusAccepted, w.Code)
		var got SubmitEventResponse
		decodeData(t, w, &got)
		assert.Equal(t, res.EventID, got.EventID)
		assert.Equal(t, intake.IngestAccepted, got.Status)
		assert.Nil(t, got.Result)
		svc.AssertExpectations(t)
	})

	t.Run("duplicate", func(t *testing.T) {
		svc := new(MockEventService)
		res := acceptedResult()
		res.Status = intake.IngestDuplicate
		svc.On("Submit", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/TAOBAO", strings.NewReader(taobaoPayload))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed is quarantined", func(t *testing.T) {
		svc := new(MockEventService)
		res := acceptedResult()
		res.Status = intake.IngestMalformed
		svc.On("Submit", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/TAOBAO", strings.NewReader(`{`))
		assert.Equal(t, http.StatusAccepted, w.Code)
		var got SubmitEventResponse
		decodeData(t, w, &got)
		assert.Equal(t, intake.IngestMalformed, got.Status)
	})

	t.Run("unknown platform", func(t *testing.T) {
		svc := new(MockEventService)
		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/amazon", strings.NewReader(taobaoPayload))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeUnknownPlatform, decodeResponse(t, w).Error.Code)
		svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty payload", func(t *testing.T) {
		svc := new(MockEventService)
		svc.On("Submit", mock.Anything, intake.PlatformDouyin, mock.Anything).Return(nil, intake.ErrEmptyPayload)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/douyin", strings.NewReader(""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeResponse(t, w).Error.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		svc := new(MockEventService)
		svc.On("Submit", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(nil, errors.New("connection refused"))

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/taobao", strings.NewReader(taobaoPayload))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeResponse(t, w)
		assert.NotContains(t, resp.Error.Message, "connection refused")
		assert.NotEmpty(t, resp.Error.RequestID)
	})

	t.Run("body over limit", func(t *testing.T) {
		svc := new(MockEventService)
		h := NewEventHandler(svc, nil, 0)
		r := newTestEngine()
		r.POST("/events/:platform", func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 8)
			h.Submit(c)
		})

		w := perform(r, http.MethodPost, "/events/taobao", strings.NewReader(taobaoPayload))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodeTooLarge, decodeResponse(t, w).Error.Code)
	})
}

func TestEventHandler_SubmitWait(t *testing.T) {
	t.Run("returns the reconcile result", func(t *testing.T) {
		svc := new(MockEventService)
		awaiter := new(MockAwaiter)
		res := acceptedResult()
		svc.On("Ingest", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)
		awaiter.On("Await", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		}), res.Event).Return(&reconcile.Result{
			EventID:      res.EventID,
			Outcome:      order.OutcomeAccepted,
			FromStatus:   order.StatusNew,
			ToStatus:     order.StatusPaid,
			OrderVersion: 1,
		}, nil)

		w := perform(setupEventRouter(svc, awaiter), http.MethodPost, "/events/taobao?wait=true", strings.NewReader(taobaoPayload))

		require.Equal(t, http.StatusOK, w.Code)
		var got SubmitEventResponse
		decodeData(t, w, &got)
		require.NotNil(t, got.Result)
		assert.Equal(t, order.OutcomeAccepted, got.Result.Outcome)
		assert.Equal(t, 1, got.Result.OrderVersion)
		svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
		awaiter.AssertExpectations(t)
	})

	t.Run("insufficient stock reaches the caller", func(t *testing.T) {
		svc := new(MockEventService)
		awaiter := new(MockAwaiter)
		res := acceptedResult()
		svc.On("Ingest", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)
		awaiter.On("Await", mock.Anything, res.Event).Return(nil, shared.NewDomainError(shared.CodeInsufficientStock, "SKU-1: requested 3, available 1"))

		w := perform(setupEventRouter(svc, awaiter), http.MethodPost, "/events/taobao?wait=true", strings.NewReader(taobaoPayload))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeInsufficientStock, decodeResponse(t, w).Error.Code)
	})

	t.Run("other failures stay accepted", func(t *testing.T) {
		for _, cause := range []error{context.DeadlineExceeded, shared.ErrTransientIntegration, shared.ErrConflict} {
			svc := new(MockEventService)
			awaiter := new(MockAwaiter)
			res := acceptedResult()
			svc.On("Ingest", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)
			awaiter.On("Await", mock.Anything, res.Event).Return(nil, cause)

			w := perform(setupEventRouter(svc, awaiter), http.MethodPost, "/events/taobao?wait=1", strings.NewReader(taobaoPayload))

			assert.Equal(t, http.StatusAccepted, w.Code, cause.Error())
			var got SubmitEventResponse
			decodeData(t, w, &got)
			assert.Equal(t, intake.IngestAccepted, got.Status)
		}
	})

	t.Run("duplicate is not awaited", func(t *testing.T) {
		svc := new(MockEventService)
		awaiter := new(MockAwaiter)
		res := acceptedResult()
		res.Status = intake.IngestDuplicate
		svc.On("Ingest", mock.Anything, intake.PlatformTaobao, mock.Anything).Return(res, nil)

		w := perform(setupEventRouter(svc, awaiter), http.MethodPost, "/events/taobao?wait=true", strings.NewReader(taobaoPayload))

		assert.Equal(t, http.StatusOK, w.Code)
		awaiter.AssertNotCalled(t, "Await", mock.Anything, mock.Anything)
	})
}

func TestEventHandler_DeadLetters(t *testing.T) {
	id := uuid.New()

	t.Run("list uses query paging", func(t *testing.T) {
		svc := new(MockEventService)
		filter := shared.Filter{Page: 2, PageSize: 5, OrderDir: "asc"}
		page := shared.NewPaginated([]intakeapp.EventResponse{{ID: id, DeadLettered: true}}, 6, 2, 5)
		svc.On("ListDeadLetters", mock.Anything, filter).Return(page, nil)

		w := perform(setupEventRouter(svc, nil), http.MethodGet, "/events/dead-letters?page=2&page_size=5", nil)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(6), resp.Meta.Total)
		assert.Equal(t, 2, resp.Meta.TotalPages)
	})

	t.Run("list rejects oversized pages", func(t *testing.T) {
		middleware.SetupValidator()
		w := perform(setupEventRouter(new(MockEventService), nil), http.MethodGet, "/events/dead-letters?page_size=1000", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeResponse(t, w).Error.Code)
	})

	t.Run("requeue", func(t *testing.T) {
		svc := new(MockEventService)
		svc.On("Requeue", mock.Anything, id).Return(&intakeapp.EventResponse{ID: id}, nil)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/dead-letters/"+id.String()+"/requeue", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("requeue of a live event", func(t *testing.T) {
		svc := new(MockEventService)
		svc.On("Requeue", mock.Anything, id).Return(nil, intake.ErrNotDeadLettered)

		w := perform(setupEventRouter(svc, nil), http.MethodPost, "/events/dead-letters/"+id.String()+"/requeue", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidState, decodeResponse(t, w).Error.Code)
	})

	t.Run("get unknown event", func(t *testing.T) {
		svc := new(MockEventService)
		svc.On("GetEvent", mock.Anything, id).Return(nil, intake.ErrEventNotFound)

		w := perform(setupEventRouter(svc, nil), http.MethodGet, "/events/"+id.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := perform(setupEventRouter(new(MockEventService), nil), http.MethodGet, "/events/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decodeResponse(t, w).Error.Code)
	})
}

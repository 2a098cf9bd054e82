package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	intakeapp "github.com/erp/reconciler/internal/application/intake"
	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	orderapp "github.com/erp/reconciler/internal/application/order"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	return r
}

func perform(r http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData unmarshals the data field of a success response into out
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// ============================================================================
// Mock Services
// ============================================================================

type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) Submit(ctx context.Context, platform intake.PlatformCode, payload []byte) (*intakeapp.SubmitResult, error) {
	args := m.Called(ctx, platform, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intakeapp.SubmitResult), args.Error(1)
}

func (m *MockEventService) Ingest(ctx context.Context, platform intake.PlatformCode, payload []byte) (*intakeapp.SubmitResult, error) {
	args := m.Called(ctx, platform, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intakeapp.SubmitResult), args.Error(1)
}

func (m *MockEventService) GetEvent(ctx context.Context, id uuid.UUID) (*intakeapp.EventResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intakeapp.EventResponse), args.Error(1)
}

func (m *MockEventService) ListDeadLetters(ctx context.Context, filter shared.Filter) (shared.Paginated[intakeapp.EventResponse], error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(shared.Paginated[intakeapp.EventResponse]), args.Error(1)
}

func (m *MockEventService) Requeue(ctx context.Context, id uuid.UUID) (*intakeapp.EventResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intakeapp.EventResponse), args.Error(1)
}

type MockAwaiter struct {
	mock.Mock
}

func (m *MockAwaiter) Await(ctx context.Context, ev *intake.RawEvent) (*reconcile.Result, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Result), args.Error(1)
}

type MockStockService struct {
	mock.Mock
}

func (m *MockStockService) GetBalance(ctx context.Context, sku string) (*ledgerapp.BalanceResponse, error) {
	args := m.Called(ctx, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerapp.BalanceResponse), args.Error(1)
}

func (m *MockStockService) ListBalances(ctx context.Context, filter shared.Filter) (shared.Paginated[ledgerapp.BalanceResponse], error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(shared.Paginated[ledgerapp.BalanceResponse]), args.Error(1)
}

func (m *MockStockService) ListMovements(ctx context.Context, sku string, filter shared.Filter) (shared.Paginated[ledgerapp.MovementResponse], error) {
	args := m.Called(ctx, sku, filter)
	return args.Get(0).(shared.Paginated[ledgerapp.MovementResponse]), args.Error(1)
}

func (m *MockStockService) Adjust(ctx context.Context, sku string, req ledgerapp.AdjustRequest) (*ledgerapp.BalanceResponse, error) {
	args := m.Called(ctx, sku, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerapp.BalanceResponse), args.Error(1)
}

func (m *MockStockService) Audit(ctx context.Context, sku string, repair bool) (*ledgerapp.DriftResponse, error) {
	args := m.Called(ctx, sku, repair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerapp.DriftResponse), args.Error(1)
}

func (m *MockStockService) AuditAll(ctx context.Context, repair bool) (*ledgerapp.AuditReport, error) {
	args := m.Called(ctx, repair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledgerapp.AuditReport), args.Error(1)
}

type MockOrderQueries struct {
	mock.Mock
}

func (m *MockOrderQueries) Get(ctx context.Context, platform, externalOrderID string) (*orderapp.OrderResponse, error) {
	args := m.Called(ctx, platform, externalOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orderapp.OrderResponse), args.Error(1)
}

func (m *MockOrderQueries) Transitions(ctx context.Context, platform, externalOrderID string, filter shared.Filter) (shared.Paginated[orderapp.TransitionResponse], error) {
	args := m.Called(ctx, platform, externalOrderID, filter)
	return args.Get(0).(shared.Paginated[orderapp.TransitionResponse]), args.Error(1)
}

type MockPollTrigger struct {
	mock.Mock
}

func (m *MockPollTrigger) TriggerManualPoll(platform intake.PlatformCode, start, end time.Time) (*scheduler.PollJob, error) {
	args := m.Called(platform, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.PollJob), args.Error(1)
}

func (m *MockPollTrigger) Stats() map[string]any {
	return m.Called().Get(0).(map[string]any)
}

type stubHistory []*scheduler.PollJob

func (s stubHistory) GetJobHistory(limit int) []*scheduler.PollJob {
	if limit < len(s) {
		return s[:limit]
	}
	return s
}

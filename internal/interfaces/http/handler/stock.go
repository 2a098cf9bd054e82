package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
)

// StockService is the ledger surface the stock endpoints use
type StockService interface {
	GetBalance(ctx context.Context, sku string) (*ledgerapp.BalanceResponse, error)
	ListBalances(ctx context.Context, filter shared.Filter) (shared.Paginated[ledgerapp.BalanceResponse], error)
	ListMovements(ctx context.Context, sku string, filter shared.Filter) (shared.Paginated[ledgerapp.MovementResponse], error)
	Adjust(ctx context.Context, sku string, req ledgerapp.AdjustRequest) (*ledgerapp.BalanceResponse, error)
	Audit(ctx context.Context, sku string, repair bool) (*ledgerapp.DriftResponse, error)
	AuditAll(ctx context.Context, repair bool) (*ledgerapp.AuditReport, error)
}

// StockHandler serves balances, movements, adjustments and audits
type StockHandler struct {
	BaseHandler
	stock StockService
}

// NewStockHandler creates a StockHandler
func NewStockHandler(stock StockService) *StockHandler {
	return &StockHandler{stock: stock}
}

// GetBalance returns the position of one SKU. Unknown SKUs report zero.
//
// GET /stock/:sku
func (h *StockHandler) GetBalance(c *gin.Context) {
	balance, err := h.stock.GetBalance(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balance)
}

// ListBalances returns balances ordered by SKU.
//
// GET /stock
func (h *StockHandler) ListBalances(c *gin.Context) {
	filter, ok := h.bindList(c)
	if !ok {
		return
	}
	page, err := h.stock.ListBalances(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// ListMovements returns the SKU's movement log in ledger order.
//
// GET /stock/:sku/movements
func (h *StockHandler) ListMovements(c *gin.Context) {
	filter, ok := h.bindList(c)
	if !ok {
		return
	}
	page, err := h.stock.ListMovements(c.Request.Context(), c.Param("sku"), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Adjust records a receipt or count correction.
//
// POST /stock/:sku/adjustments
func (h *StockHandler) Adjust(c *gin.Context) {
	var req ledgerapp.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	balance, err := h.stock.Adjust(c.Request.Context(), c.Param("sku"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, balance)
}

// Audit replays one SKU's movements and compares with the stored balance.
//
// POST /stock/:sku/audit[?repair=true]
func (h *StockHandler) Audit(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.Query("repair"))
	drift, err := h.stock.Audit(c.Request.Context(), c.Param("sku"), repair)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, drift)
}

// AuditAll audits every SKU that has a balance or a movement.
//
// POST /audit/stock[?repair=true]
func (h *StockHandler) AuditAll(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.Query("repair"))
	report, err := h.stock.AuditAll(c.Request.Context(), repair)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

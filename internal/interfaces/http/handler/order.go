package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	orderapp "github.com/erp/reconciler/internal/application/order"
	"github.com/erp/reconciler/internal/domain/shared"
)

// OrderQueries is the read side of the order projection
type OrderQueries interface {
	Get(ctx context.Context, platform, externalOrderID string) (*orderapp.OrderResponse, error)
	Transitions(ctx context.Context, platform, externalOrderID string, filter shared.Filter) (shared.Paginated[orderapp.TransitionResponse], error)
}

// OrderHandler serves the reconciled order view
type OrderHandler struct {
	BaseHandler
	orders OrderQueries
}

// NewOrderHandler creates an OrderHandler
func NewOrderHandler(orders OrderQueries) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Get returns an order with its line items and allocations.
//
// GET /orders/:platform/:external_id
func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("platform"), c.Param("external_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, o)
}

// Transitions returns the order's transition history, oldest first.
//
// GET /orders/:platform/:external_id/transitions
func (h *OrderHandler) Transitions(c *gin.Context) {
	filter, ok := h.bindList(c)
	if !ok {
		return
	}
	page, err := h.orders.Transitions(c.Request.Context(), c.Param("platform"), c.Param("external_id"), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

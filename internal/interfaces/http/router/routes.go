package router

import (
	"github.com/erp/reconciler/internal/interfaces/http/handler"
)

// Handlers are the API handlers to mount. Polls may be nil when the poller
// is disabled.
type Handlers struct {
	Events *handler.EventHandler
	Stock  *handler.StockHandler
	Orders *handler.OrderHandler
	Polls  *handler.PollHandler
	System *handler.SystemHandler
}

// RegisterAPI mounts every reconciler route on r
func RegisterAPI(r *Router, h Handlers) *Router {
	events := NewDomainGroup("events", "/events")
	events.POST("/:platform", h.Events.Submit)
	events.GET("/dead-letters", h.Events.ListDeadLetters)
	events.GET("/:id", h.Events.Get)
	events.POST("/dead-letters/:id/requeue", h.Events.Requeue)

	stock := NewDomainGroup("stock", "/stock")
	stock.GET("", h.Stock.ListBalances)
	stock.GET("/:sku", h.Stock.GetBalance)
	stock.GET("/:sku/movements", h.Stock.ListMovements)
	stock.POST("/:sku/adjustments", h.Stock.Adjust)
	stock.POST("/:sku/audit", h.Stock.Audit)

	audit := NewDomainGroup("audit", "/audit")
	audit.POST("/stock", h.Stock.AuditAll)

	orders := NewDomainGroup("orders", "/orders")
	orders.GET("/:platform/:external_id", h.Orders.Get)
	orders.GET("/:platform/:external_id/transitions", h.Orders.Transitions)

	system := NewDomainGroup("system", "/system")
	system.GET("/info", h.System.GetSystemInfo)

	r.Register(events).
		Register(stock).
		Register(audit).
		Register(orders).
		Register(system)

	if h.Polls != nil {
		polls := NewDomainGroup("polls", "/polls")
		polls.GET("", h.Polls.Status)
		polls.POST("/:platform", h.Polls.Trigger)
		r.Register(polls)
	}
	return r
}

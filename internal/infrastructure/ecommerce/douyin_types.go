package ecommerce

import (
	"encoding/json"
)

// ---------------------------------------------------------------------------
// Common Douyin API Response Types
// ---------------------------------------------------------------------------

// DouyinResponse is the base response wrapper for all Douyin API calls
type DouyinResponse struct {
	// ErrNo is the error code (0 for success)
	ErrNo int `json:"err_no"`
	// Message is the error message
	Message string `json:"message"`
	// LogID is the request trace ID for debugging
	LogID string `json:"log_id,omitempty"`
}

// IsSuccess returns true if the response indicates success
func (r *DouyinResponse) IsSuccess() bool {
	return r.ErrNo == 0
}

// ---------------------------------------------------------------------------
// Order Related Types
// ---------------------------------------------------------------------------

// DouyinOrderListResponse is the response for the order.searchList API
type DouyinOrderListResponse struct {
	DouyinResponse
	Data *DouyinOrderListData `json:"data,omitempty"`
}

// DouyinOrderListData contains one page of orders, kept raw for intake
type DouyinOrderListData struct {
	Total int64             `json:"total"`
	List  []json.RawMessage `json:"shop_order_list,omitempty"`
}

// DouyinOrder represents an order pushed or listed by Douyin
type DouyinOrder struct {
	OrderID     string `json:"order_id"`
	ShopID      int64  `json:"shop_id"`
	OrderStatus int    `json:"order_status"`
	OrderType   int    `json:"order_type"`

	// Timestamps (Unix seconds)
	CreateTime int64 `json:"create_time"`
	UpdateTime int64 `json:"update_time"`
	PayTime    int64 `json:"pay_time"`
	FinishTime int64 `json:"finish_time"`

	// Amounts (in cents/fen)
	OrderAmount int64 `json:"order_amount"`
	PayAmount   int64 `json:"pay_amount"`

	LogisticsInfo *DouyinLogisticsInfo `json:"logistics_info,omitempty"`
	SkuOrderList  []DouyinSkuOrder     `json:"sku_order_list,omitempty"`
}

// DouyinLogisticsInfo contains logistics/shipping information
type DouyinLogisticsInfo struct {
	Company     string `json:"company"`
	TrackingNo  string `json:"tracking_no"`
	ShipTime    int64  `json:"ship_time"`
	CompanyCode string `json:"company_code"`
}

// DouyinSkuOrder represents a SKU order item
type DouyinSkuOrder struct {
	OrderID       string `json:"order_id"`
	ParentOrderID string `json:"parent_order_id"`
	SkuOrderID    string `json:"sku_order_id"`
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	SkuID         int64  `json:"sku_id"`
	Code          string `json:"code"`
	ItemNum       int64  `json:"item_num"`
	OriginAmount  int64  `json:"origin_amount"`
	PayAmount     int64  `json:"pay_amount"`
	OutSkuID      string `json:"out_sku_id"`
	OrderStatus   int    `json:"order_status"`
}

// Douyin order status codes
const (
	// DouyinOrderStatusPendingPayment - awaiting payment
	DouyinOrderStatusPendingPayment = 1
	// DouyinOrderStatusPendingShipment - paid, stock being prepared
	DouyinOrderStatusPendingShipment = 2
	// DouyinOrderStatusShipped - shipped
	DouyinOrderStatusShipped = 3
	// DouyinOrderStatusCompleted - completed
	DouyinOrderStatusCompleted = 4
	// DouyinOrderStatusCancelled - cancelled
	DouyinOrderStatusCancelled = 5
	// DouyinOrderStatusRefunding - after-sale in progress
	DouyinOrderStatusRefunding = 6
	// DouyinOrderStatusRefunded - after-sale closed with refund
	DouyinOrderStatusRefunded = 7
	// DouyinOrderStatusPartShipped - some packages shipped
	DouyinOrderStatusPartShipped = 101
	// DouyinOrderStatusReturnShipping - buyer sent the goods back
	DouyinOrderStatusReturnShipping = 102
)

// centsPerYuan converts Douyin amounts in fen to yuan
const centsPerYuan = 100

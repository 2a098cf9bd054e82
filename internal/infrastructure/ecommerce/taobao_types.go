package ecommerce

import (
	"encoding/json"
)

// ---------------------------------------------------------------------------
// Common Taobao API Response Types
// ---------------------------------------------------------------------------

// TaobaoResponse is the base response wrapper for Taobao API calls
type TaobaoResponse struct {
	// ErrorResponse contains error information if the request failed
	ErrorResponse *TaobaoErrorResponse `json:"error_response,omitempty"`
}

// TaobaoErrorResponse represents an error response from Taobao API
type TaobaoErrorResponse struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	SubCode   string `json:"sub_code,omitempty"`
	SubMsg    string `json:"sub_msg,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// IsSuccess returns true if the response indicates success
func (r *TaobaoResponse) IsSuccess() bool {
	return r.ErrorResponse == nil
}

// ---------------------------------------------------------------------------
// Trade Types
// ---------------------------------------------------------------------------

// TaobaoTradesIncrementResponse is the response of taobao.trades.sold.increment.get
type TaobaoTradesIncrementResponse struct {
	TaobaoResponse
	TradesSoldIncrementGetResponse *TradesSoldIncrementGetResponse `json:"trades_sold_increment_get_response,omitempty"`
}

// TradesSoldIncrementGetResponse contains one page of modified trades.
// Trades are kept raw so the poller can hand them to intake unchanged.
type TradesSoldIncrementGetResponse struct {
	TotalResults int64 `json:"total_results"`
	HasNext      bool  `json:"has_next"`
	Trades       *struct {
		Trade []json.RawMessage `json:"trade,omitempty"`
	} `json:"trades,omitempty"`
}

// TaobaoTrade is a trade as carried by a trade notification or the
// increment API. Only the fields the reconciler reads are declared.
type TaobaoTrade struct {
	Tid         int64         `json:"tid"`
	TidStr      string        `json:"tid_str,omitempty"`
	Status      string        `json:"status"`
	Created     string        `json:"created,omitempty"`
	Modified    string        `json:"modified"`
	PayTime     string        `json:"pay_time,omitempty"`
	ConsignTime string        `json:"consign_time,omitempty"`
	EndTime     string        `json:"end_time,omitempty"`
	Payment     string        `json:"payment,omitempty"`
	Orders      *TaobaoOrders `json:"orders,omitempty"`
}

// TaobaoOrders wraps the sub-orders of a trade
type TaobaoOrders struct {
	Order []TaobaoOrder `json:"order,omitempty"`
}

// TaobaoOrder is one sub-order (line) of a trade
type TaobaoOrder struct {
	Oid          int64  `json:"oid"`
	OidStr       string `json:"oid_str,omitempty"`
	NumIid       int64  `json:"num_iid"`
	SkuID        string `json:"sku_id,omitempty"`
	OuterIid     string `json:"outer_iid,omitempty"`
	OuterSkuID   string `json:"outer_sku_id,omitempty"`
	Title        string `json:"title,omitempty"`
	Num          int64  `json:"num"`
	Price        string `json:"price"`
	Status       string `json:"status,omitempty"`
	RefundStatus string `json:"refund_status,omitempty"`
}

// Taobao trade statuses
const (
	TaobaoTradeNoCreatePay      = "TRADE_NO_CREATE_PAY"
	TaobaoWaitBuyerPay          = "WAIT_BUYER_PAY"
	TaobaoPayPending            = "PAY_PENDING"
	TaobaoWaitPreAuthConfirm    = "WAIT_PRE_AUTH_CONFIRM"
	TaobaoWaitSellerSendGoods   = "WAIT_SELLER_SEND_GOODS"
	TaobaoSellerConsignedPart   = "SELLER_CONSIGNED_PART"
	TaobaoWaitBuyerConfirmGoods = "WAIT_BUYER_CONFIRM_GOODS"
	TaobaoTradeBuyerSigned      = "TRADE_BUYER_SIGNED"
	TaobaoTradeFinished         = "TRADE_FINISHED"
	TaobaoTradeClosed           = "TRADE_CLOSED"
	TaobaoTradeClosedByTaobao   = "TRADE_CLOSED_BY_TAOBAO"
)

// Taobao sub-order refund statuses
const (
	TaobaoRefundNone                   = "NO_REFUND"
	TaobaoRefundWaitSellerAgree        = "WAIT_SELLER_AGREE"
	TaobaoRefundWaitBuyerReturnGoods   = "WAIT_BUYER_RETURN_GOODS"
	TaobaoRefundWaitSellerConfirmGoods = "WAIT_SELLER_CONFIRM_GOODS"
	TaobaoRefundSellerRefuse           = "SELLER_REFUSE_BUYER"
	TaobaoRefundClosed                 = "CLOSED"
	TaobaoRefundSuccess                = "SUCCESS"
)

// taobaoTimeLayout is the layout of every Taobao timestamp field
const taobaoTimeLayout = "2006-01-02 15:04:05"

package ecommerce

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
)

// chinaStandardTime is the zone Taobao timestamps are written in
var chinaStandardTime = time.FixedZone("CST", 8*60*60)

// taobaoStatusMap maps trade statuses onto the canonical state graph
var taobaoStatusMap = map[string]order.Status{
	TaobaoTradeNoCreatePay:      order.StatusNew,
	TaobaoWaitBuyerPay:          order.StatusNew,
	TaobaoPayPending:            order.StatusNew,
	TaobaoWaitPreAuthConfirm:    order.StatusNew,
	TaobaoWaitSellerSendGoods:   order.StatusPaid,
	TaobaoSellerConsignedPart:   order.StatusPacking,
	TaobaoWaitBuyerConfirmGoods: order.StatusShipped,
	TaobaoTradeBuyerSigned:      order.StatusDelivered,
	TaobaoTradeFinished:         order.StatusDelivered,
	TaobaoTradeClosed:           order.StatusCancelled,
	TaobaoTradeClosedByTaobao:   order.StatusCancelled,
}

// taobaoRefundMap maps sub-order refund statuses onto the return branch.
// It only applies once the trade has shipped.
var taobaoRefundMap = map[string]order.Status{
	TaobaoRefundWaitSellerAgree:        order.StatusToReturn,
	TaobaoRefundWaitBuyerReturnGoods:   order.StatusReturnInitiated,
	TaobaoRefundWaitSellerConfirmGoods: order.StatusReturnInitiated,
	TaobaoRefundSuccess:                order.StatusReturned,
}

// TaobaoNormalizer turns Taobao trade notifications into envelopes
type TaobaoNormalizer struct{}

// NewTaobaoNormalizer creates a Taobao normalizer
func NewTaobaoNormalizer() *TaobaoNormalizer {
	return &TaobaoNormalizer{}
}

// Platform returns the platform code
func (n *TaobaoNormalizer) Platform() intake.PlatformCode {
	return intake.PlatformTaobao
}

// Normalize parses a trade and derives its canonical status. The version
// token is status and modified time, so a trade re-sent unchanged maps to
// the same idempotency key.
func (n *TaobaoNormalizer) Normalize(payload []byte) (*intake.Envelope, error) {
	var trade TaobaoTrade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return nil, fmt.Errorf("taobao: decode trade: %w", err)
	}

	orderID := trade.TidStr
	if orderID == "" && trade.Tid > 0 {
		orderID = strconv.FormatInt(trade.Tid, 10)
	}
	if orderID == "" {
		return nil, intake.ErrMissingOrderID
	}
	if trade.Modified == "" {
		return nil, intake.ErrMissingVersionToken
	}
	modified, err := time.ParseInLocation(taobaoTimeLayout, trade.Modified, chinaStandardTime)
	if err != nil {
		return nil, fmt.Errorf("taobao: parse modified %q: %w", trade.Modified, err)
	}

	status, err := taobaoCanonicalStatus(&trade)
	if err != nil {
		return nil, err
	}

	lines, err := taobaoLines(&trade)
	if err != nil {
		return nil, err
	}

	return &intake.Envelope{
		Platform:        intake.PlatformTaobao,
		ExternalOrderID: orderID,
		VersionToken:    trade.Status + "@" + strconv.FormatInt(modified.UnixMilli(), 10),
		EventType:       "trade." + strings.ToLower(trade.Status),
		Status:          status,
		SequenceHint:    modified.UnixMilli(),
		Lines:           lines,
		PlatformStatus:  trade.Status,
	}, nil
}

func taobaoCanonicalStatus(trade *TaobaoTrade) (order.Status, error) {
	status, ok := taobaoStatusMap[trade.Status]
	if !ok {
		return "", fmt.Errorf("%w: taobao %q", intake.ErrUnmappedStatus, trade.Status)
	}

	shipped := trade.ConsignTime != "" || status.Reached(order.StatusShipped)
	if !shipped {
		return status, nil
	}

	// A trade closed after consignment was refunded in full.
	if status == order.StatusCancelled {
		return order.StatusReturned, nil
	}

	refund := status
	if trade.Orders != nil {
		for _, o := range trade.Orders.Order {
			if r, ok := taobaoRefundMap[o.RefundStatus]; ok && r.Reached(refund) {
				refund = r
			}
		}
	}
	return refund, nil
}

func taobaoLines(trade *TaobaoTrade) ([]order.LineItem, error) {
	if trade.Orders == nil {
		return nil, nil
	}
	lines := make([]order.LineItem, 0, len(trade.Orders.Order))
	for _, o := range trade.Orders.Order {
		lineID := o.OidStr
		if lineID == "" {
			lineID = strconv.FormatInt(o.Oid, 10)
		}
		sku := ledger.NormalizeSKU(firstNonEmpty(o.OuterSkuID, o.SkuID, o.OuterIid, numericID(o.NumIid)))
		if sku == "" {
			return nil, fmt.Errorf("taobao: sub-order %s has no sku", lineID)
		}
		price := decimal.Zero
		if o.Price != "" {
			p, err := decimal.NewFromString(o.Price)
			if err != nil {
				return nil, fmt.Errorf("taobao: sub-order %s price %q: %w", lineID, o.Price, err)
			}
			price = p
		}
		lines = append(lines, order.LineItem{
			LineID:    lineID,
			SKU:       sku,
			Quantity:  o.Num,
			UnitPrice: price,
		})
	}
	return lines, nil
}

func numericID(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

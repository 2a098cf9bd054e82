package ecommerce

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/order"
)

// DouyinNormalizer turns Douyin order payloads into envelopes
type DouyinNormalizer struct{}

// NewDouyinNormalizer creates a Douyin normalizer
func NewDouyinNormalizer() *DouyinNormalizer {
	return &DouyinNormalizer{}
}

// Platform returns the platform code
func (n *DouyinNormalizer) Platform() intake.PlatformCode {
	return intake.PlatformDouyin
}

// Normalize parses an order. update_time is the sequence hint and, with the
// status code, the version token.
func (n *DouyinNormalizer) Normalize(payload []byte) (*intake.Envelope, error) {
	var o DouyinOrder
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, fmt.Errorf("douyin: decode order: %w", err)
	}
	if o.OrderID == "" {
		return nil, intake.ErrMissingOrderID
	}
	if o.UpdateTime <= 0 {
		return nil, intake.ErrMissingVersionToken
	}

	status, err := mapDouyinOrderStatus(&o)
	if err != nil {
		return nil, err
	}
	lines, err := douyinLines(&o)
	if err != nil {
		return nil, err
	}

	code := strconv.Itoa(o.OrderStatus)
	return &intake.Envelope{
		Platform:        intake.PlatformDouyin,
		ExternalOrderID: o.OrderID,
		VersionToken:    code + "@" + strconv.FormatInt(o.UpdateTime, 10),
		EventType:       "order.status." + code,
		Status:          status,
		SequenceHint:    o.UpdateTime,
		Lines:           lines,
		PlatformStatus:  code,
	}, nil
}

// mapDouyinOrderStatus maps a Douyin status code to the canonical status.
// After-sale codes land on the return branch only once goods have shipped;
// before that a refund is a cancellation.
func mapDouyinOrderStatus(o *DouyinOrder) (order.Status, error) {
	shipped := o.LogisticsInfo != nil && o.LogisticsInfo.ShipTime > 0
	switch o.OrderStatus {
	case DouyinOrderStatusPendingPayment:
		return order.StatusNew, nil
	case DouyinOrderStatusPendingShipment:
		return order.StatusPaid, nil
	case DouyinOrderStatusPartShipped:
		return order.StatusReadyToShip, nil
	case DouyinOrderStatusShipped:
		return order.StatusShipped, nil
	case DouyinOrderStatusCompleted:
		return order.StatusDelivered, nil
	case DouyinOrderStatusCancelled:
		return order.StatusCancelled, nil
	case DouyinOrderStatusRefunding:
		if shipped {
			return order.StatusToReturn, nil
		}
		return order.StatusPaid, nil
	case DouyinOrderStatusReturnShipping:
		return order.StatusReturnInitiated, nil
	case DouyinOrderStatusRefunded:
		if shipped {
			return order.StatusReturned, nil
		}
		return order.StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: douyin %d", intake.ErrUnmappedStatus, o.OrderStatus)
	}
}

func douyinLines(o *DouyinOrder) ([]order.LineItem, error) {
	lines := make([]order.LineItem, 0, len(o.SkuOrderList))
	for _, item := range o.SkuOrderList {
		sku := ledger.NormalizeSKU(firstNonEmpty(item.Code, item.OutSkuID, numericID(item.SkuID)))
		if sku == "" {
			return nil, fmt.Errorf("douyin: sku order %s has no sku", item.SkuOrderID)
		}
		price := decimal.Zero
		if item.ItemNum > 0 {
			price = decimal.NewFromInt(item.OriginAmount).
				Div(decimal.NewFromInt(centsPerYuan)).
				Div(decimal.NewFromInt(item.ItemNum)).
				Round(2)
		}
		lines = append(lines, order.LineItem{
			LineID:    item.SkuOrderID,
			SKU:       sku,
			Quantity:  item.ItemNum,
			UnitPrice: price,
		})
	}
	return lines, nil
}

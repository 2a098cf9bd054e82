package order

import (
	"sort"

	"github.com/shopspring/decimal"
)

// LineItem is one order line as reported by the platform.
type LineItem struct {
	LineID    string          `json:"line_id" validate:"required"`
	SKU       string          `json:"sku" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SKUQuantity is the total quantity ordered for one SKU.
type SKUQuantity struct {
	SKU      string
	Quantity int64
	// LineID is the first line that carried the SKU; movements reference it.
	LineID string
}

// QuantitiesBySKU folds lines into one entry per SKU, sorted by SKU so that
// locks and writes always happen in the same order.
func QuantitiesBySKU(lines []LineItem) []SKUQuantity {
	idx := make(map[string]int)
	out := make([]SKUQuantity, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.SKU]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.SKU] = len(out)
		out = append(out, SKUQuantity{SKU: l.SKU, Quantity: l.Quantity, LineID: l.LineID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

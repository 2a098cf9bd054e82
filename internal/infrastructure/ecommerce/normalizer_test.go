package ecommerce

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/order"
)

// ---------------------------------------------------------------------------
// Taobao
// ---------------------------------------------------------------------------

func TestTaobaoNormalizer_Normalize(t *testing.T) {
	payload := []byte(`{
		"tid": 3012345678901,
		"status": "WAIT_SELLER_SEND_GOODS",
		"modified": "2026-03-01 10:00:00",
		"orders": {"order": [
			{"oid": 11, "outer_sku_id": " sku-a ", "num": 2, "price": "19.90"},
			{"oid": 12, "sku_id": "ＳＫＵ-Ｂ", "num": 1, "price": "5.00"}
		]}
	}`)

	env, err := NewTaobaoNormalizer().Normalize(payload)
	require.NoError(t, err)

	wantSeq := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, intake.PlatformTaobao, env.Platform)
	assert.Equal(t, "3012345678901", env.ExternalOrderID)
	assert.Equal(t, order.StatusPaid, env.Status)
	assert.Equal(t, wantSeq, env.SequenceHint)
	assert.Equal(t, "WAIT_SELLER_SEND_GOODS@1772330400000", env.VersionToken)
	assert.Equal(t, "WAIT_SELLER_SEND_GOODS", env.PlatformStatus)
	require.Len(t, env.Lines, 2)
	assert.Equal(t, "11", env.Lines[0].LineID)
	assert.Equal(t, "SKU-A", env.Lines[0].SKU)
	assert.Equal(t, int64(2), env.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("19.90").Equal(env.Lines[0].UnitPrice))
	assert.Equal(t, "SKU-B", env.Lines[1].SKU)
}

func TestTaobaoNormalizer_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    order.Status
	}{
		{
			name:    "awaiting payment",
			payload: `{"tid":1,"status":"WAIT_BUYER_PAY","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusNew,
		},
		{
			name:    "partially consigned",
			payload: `{"tid":1,"status":"SELLER_CONSIGNED_PART","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusPacking,
		},
		{
			name:    "shipped",
			payload: `{"tid":1,"status":"WAIT_BUYER_CONFIRM_GOODS","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusShipped,
		},
		{
			name:    "finished",
			payload: `{"tid":1,"status":"TRADE_FINISHED","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusDelivered,
		},
		{
			name:    "closed before shipping",
			payload: `{"tid":1,"status":"TRADE_CLOSED","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusCancelled,
		},
		{
			name:    "closed after shipping",
			payload: `{"tid":1,"status":"TRADE_CLOSED","consign_time":"2026-02-27 09:00:00","modified":"2026-03-01 10:00:00"}`,
			want:    order.StatusReturned,
		},
		{
			name: "refund requested after shipping",
			payload: `{"tid":1,"status":"WAIT_BUYER_CONFIRM_GOODS","modified":"2026-03-01 10:00:00",
				"orders":{"order":[{"oid":2,"outer_sku_id":"A","num":1,"refund_status":"WAIT_SELLER_AGREE"}]}}`,
			want: order.StatusToReturn,
		},
		{
			name: "goods on the way back",
			payload: `{"tid":1,"status":"TRADE_BUYER_SIGNED","modified":"2026-03-01 10:00:00",
				"orders":{"order":[
					{"oid":2,"outer_sku_id":"A","num":1,"refund_status":"WAIT_SELLER_AGREE"},
					{"oid":3,"outer_sku_id":"B","num":1,"refund_status":"WAIT_SELLER_CONFIRM_GOODS"}
				]}}`,
			want: order.StatusReturnInitiated,
		},
		{
			name: "refund before shipping is ignored",
			payload: `{"tid":1,"status":"WAIT_SELLER_SEND_GOODS","modified":"2026-03-01 10:00:00",
				"orders":{"order":[{"oid":2,"outer_sku_id":"A","num":1,"refund_status":"WAIT_SELLER_AGREE"}]}}`,
			want: order.StatusPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewTaobaoNormalizer().Normalize([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Status)
		})
	}
}

func TestTaobaoNormalizer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"missing tid", `{"status":"WAIT_BUYER_PAY","modified":"2026-03-01 10:00:00"}`, intake.ErrMissingOrderID},
		{"missing modified", `{"tid":1,"status":"WAIT_BUYER_PAY"}`, intake.ErrMissingVersionToken},
		{"unknown status", `{"tid":1,"status":"SOMETHING_NEW","modified":"2026-03-01 10:00:00"}`, intake.ErrUnmappedStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTaobaoNormalizer().Normalize([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := NewTaobaoNormalizer().Normalize([]byte(`<xml/>`))
		assert.Error(t, err)
	})

	t.Run("bad price", func(t *testing.T) {
		_, err := NewTaobaoNormalizer().Normalize([]byte(`{"tid":1,"status":"WAIT_BUYER_PAY","modified":"2026-03-01 10:00:00",
			"orders":{"order":[{"oid":2,"outer_sku_id":"A","num":1,"price":"abc"}]}}`))
		assert.Error(t, err)
	})
}

func TestTaobaoNormalizer_SameTradeSameKey(t *testing.T) {
	payload := []byte(`{"tid":77,"status":"WAIT_BUYER_CONFIRM_GOODS","modified":"2026-03-01 10:00:00"}`)
	a, err := NewTaobaoNormalizer().Normalize(payload)
	require.NoError(t, err)
	b, err := NewTaobaoNormalizer().Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, a.IdempotencyKey(), b.IdempotencyKey())

	later, err := NewTaobaoNormalizer().Normalize([]byte(`{"tid":77,"status":"WAIT_BUYER_CONFIRM_GOODS","modified":"2026-03-01 10:00:05"}`))
	require.NoError(t, err)
	assert.NotEqual(t, a.IdempotencyKey(), later.IdempotencyKey())
	assert.Greater(t, later.SequenceHint, a.SequenceHint)
}

// ---------------------------------------------------------------------------
// Douyin
// ---------------------------------------------------------------------------

func TestDouyinNormalizer_Normalize(t *testing.T) {
	payload := []byte(`{
		"order_id": "6920000000001",
		"order_status": 2,
		"update_time": 1772330400,
		"sku_order_list": [
			{"sku_order_id": "6920000000001-1", "code": "sku-a", "item_num": 3, "origin_amount": 5970},
			{"sku_order_id": "6920000000001-2", "sku_id": 884422, "item_num": 1, "origin_amount": 990}
		]
	}`)

	env, err := NewDouyinNormalizer().Normalize(payload)
	require.NoError(t, err)

	assert.Equal(t, intake.PlatformDouyin, env.Platform)
	assert.Equal(t, "6920000000001", env.ExternalOrderID)
	assert.Equal(t, order.StatusPaid, env.Status)
	assert.Equal(t, int64(1772330400), env.SequenceHint)
	assert.Equal(t, "2@1772330400", env.VersionToken)
	require.Len(t, env.Lines, 2)
	assert.Equal(t, "SKU-A", env.Lines[0].SKU)
	assert.Equal(t, int64(3), env.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("19.90").Equal(env.Lines[0].UnitPrice))
	assert.Equal(t, "884422", env.Lines[1].SKU)
}

func TestDouyinNormalizer_StatusMapping(t *testing.T) {
	shipped := &DouyinLogisticsInfo{ShipTime: 1772330000}
	tests := []struct {
		name      string
		status    int
		logistics *DouyinLogisticsInfo
		want      order.Status
	}{
		{"pending payment", DouyinOrderStatusPendingPayment, nil, order.StatusNew},
		{"pending shipment", DouyinOrderStatusPendingShipment, nil, order.StatusPaid},
		{"part shipped", DouyinOrderStatusPartShipped, nil, order.StatusReadyToShip},
		{"shipped", DouyinOrderStatusShipped, shipped, order.StatusShipped},
		{"completed", DouyinOrderStatusCompleted, shipped, order.StatusDelivered},
		{"cancelled", DouyinOrderStatusCancelled, nil, order.StatusCancelled},
		{"refunding before shipping", DouyinOrderStatusRefunding, nil, order.StatusPaid},
		{"refunding after shipping", DouyinOrderStatusRefunding, shipped, order.StatusToReturn},
		{"return in transit", DouyinOrderStatusReturnShipping, shipped, order.StatusReturnInitiated},
		{"refunded before shipping", DouyinOrderStatusRefunded, nil, order.StatusCancelled},
		{"refunded after shipping", DouyinOrderStatusRefunded, shipped, order.StatusReturned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapDouyinOrderStatus(&DouyinOrder{OrderStatus: tt.status, LogisticsInfo: tt.logistics})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := mapDouyinOrderStatus(&DouyinOrder{OrderStatus: 999})
	assert.ErrorIs(t, err, intake.ErrUnmappedStatus)
}

func TestDouyinNormalizer_Errors(t *testing.T) {
	_, err := NewDouyinNormalizer().Normalize([]byte(`{"order_status":2,"update_time":1}`))
	assert.ErrorIs(t, err, intake.ErrMissingOrderID)

	_, err = NewDouyinNormalizer().Normalize([]byte(`{"order_id":"1","order_status":2}`))
	assert.ErrorIs(t, err, intake.ErrMissingVersionToken)

	_, err = NewDouyinNormalizer().Normalize([]byte(`{"order_id":"1","order_status":2,"update_time":1,
		"sku_order_list":[{"sku_order_id":"x","item_num":1}]}`))
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Canonical
// ---------------------------------------------------------------------------

func TestCanonicalNormalizer_Normalize(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt-1",
		"order_id": "ORD-1",
		"event_type": "order.paid",
		"status": "paid",
		"sequence": 42,
		"lines": [{"line_id": "L1", "sku": " abc-1 ", "quantity": 2, "unit_price": "3.50"}]
	}`)

	env, err := NewCanonicalNormalizer().Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", env.ExternalOrderID)
	assert.Equal(t, "evt-1", env.VersionToken)
	assert.Equal(t, "order.paid", env.EventType)
	assert.Equal(t, order.StatusPaid, env.Status)
	assert.Equal(t, int64(42), env.SequenceHint)
	require.Len(t, env.Lines, 1)
	assert.Equal(t, "ABC-1", env.Lines[0].SKU)
	assert.Equal(t, "CANONICAL:ORD-1:evt-1", env.IdempotencyKey())
}

func TestCanonicalNormalizer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"missing order", `{"event_id":"e","status":"PAID"}`, intake.ErrMissingOrderID},
		{"missing event id", `{"order_id":"o","status":"PAID"}`, intake.ErrMissingVersionToken},
		{"unknown status", `{"event_id":"e","order_id":"o","status":"LOST"}`, intake.ErrUnmappedStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCanonicalNormalizer().Normalize([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_Normalize(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []intake.PlatformCode{intake.PlatformTaobao, intake.PlatformDouyin, intake.PlatformCanonical}, reg.Platforms())

	t.Run("dispatches by platform", func(t *testing.T) {
		env, err := reg.Normalize(intake.PlatformCanonical, []byte(`{"event_id":"e","order_id":"o","status":"NEW"}`))
		require.NoError(t, err)
		assert.Equal(t, order.StatusNew, env.Status)
	})

	t.Run("unknown platform", func(t *testing.T) {
		_, err := NewRegistry(NewCanonicalNormalizer()).Normalize(intake.PlatformTaobao, []byte(`{}`))
		assert.ErrorIs(t, err, intake.ErrUnknownPlatform)
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := reg.Normalize(intake.PlatformDouyin, nil)
		assert.ErrorIs(t, err, intake.ErrEmptyPayload)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := reg.Normalize(intake.PlatformCanonical, []byte(`{"event_id":"e","order_id":"o","status":"PAID",
			"lines":[{"line_id":"L1","sku":"A","quantity":0}]}`))
		assert.Error(t, err)
	})

	t.Run("rejects oversized order id", func(t *testing.T) {
		long := make([]byte, 200)
		for i := range long {
			long[i] = 'x'
		}
		_, err := reg.Normalize(intake.PlatformCanonical, []byte(`{"event_id":"e","order_id":"`+string(long)+`","status":"PAID"}`))
		assert.Error(t, err)
	})
}

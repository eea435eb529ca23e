package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMovementSignedQty(t *testing.T) {
	cases := []struct {
		name string
		m    StockMovement
		want int
	}{
		{"in", StockMovement{Type: MovementIn, Qty: 4}, 4},
		{"out", StockMovement{Type: MovementOut, Qty: 4}, -4},
		{"transfer in", StockMovement{Type: MovementTransferIn, Qty: 2}, 2},
		{"transfer out", StockMovement{Type: MovementTransferOut, Qty: 2}, -2},
		{"adjust down", StockMovement{Type: MovementAdjustment, Qty: 3, QtyBefore: 10, QtyAfter: 7}, -3},
		{"adjust up", StockMovement{Type: MovementAdjustment, Qty: 3, QtyBefore: 7, QtyAfter: 10}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.m.SignedQty())
		})
	}
}

func TestLifecycleOf(t *testing.T) {
	now := time.Now()
	assert.Equal(t, LifecycleActive, LifecycleOf(true, nil))
	assert.Equal(t, LifecycleDeactivated, LifecycleOf(false, nil))
	assert.Equal(t, LifecycleDeleted, LifecycleOf(true, &now))

	active, deleted := LifecycleDeleted.Columns(now)
	assert.False(t, active)
	assert.NotNil(t, deleted)
}

func TestOrderRecalculateTotal(t *testing.T) {
	o := Order{Items: []OrderItem{
		{VariantID: "a", Qty: 2, Price: decimal.RequireFromString("150000")},
		{VariantID: "b", Qty: 1, Price: decimal.RequireFromString("99500.50")},
		{VariantID: "a", Qty: 1, Price: decimal.RequireFromString("150000")},
	}}
	o.RecalculateTotal()

	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("549500.50")))
	assert.True(t, o.Items[0].Subtotal.Equal(decimal.RequireFromString("300000")))
	assert.Equal(t, map[string]int{"a": 3, "b": 1}, o.QtyByVariant())
}

func TestWebhookStatusClasses(t *testing.T) {
	assert.True(t, WebhookProcessed.Terminal())
	assert.True(t, WebhookIgnored.Terminal())
	for _, s := range []WebhookStatus{WebhookReceived, WebhookUnmapped, WebhookError} {
		assert.True(t, s.Retryable(), s)
		assert.False(t, s.Terminal(), s)
	}
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := &InsufficientStockError{Shortages: []Shortage{{VariantID: "v1", Need: 3, Have: 2}}}
	assert.Equal(t, "insufficient stock: variant v1 need 3 have 2", err.Error())
}

func TestParseChannel(t *testing.T) {
	c, ok := ParseChannel(" shopee ")
	assert.True(t, ok)
	assert.Equal(t, ChannelShopee, c)
	assert.True(t, c.External())

	_, ok = ParseChannel("lazada")
	assert.False(t, ok)
}

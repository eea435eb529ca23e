package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stockledger-backend/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		texts []string
		want  Action
	}{
		{[]string{"READY_TO_SHIP"}, ActionSale},
		{[]string{"COMPLETED", "order.update"}, ActionSale},
		{[]string{"CANCELLED"}, ActionCancel},
		{[]string{"IN_CANCEL"}, ActionCancel},
		{[]string{"TO_RETURN"}, ActionReturn},
		{[]string{"REFUND_REQUESTED", "cancel"}, ActionReturn},
		{nil, ActionSale},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.texts...), "%v", tt.texts)
	}
	assert.Equal(t, "RETURN", ActionReturn.String())
}

func TestUnpaid(t *testing.T) {
	assert.True(t, unpaid("UNPAID"))
	assert.True(t, unpaid("awaiting_payment"))
	assert.False(t, unpaid("PAID", "READY_TO_SHIP"))
}

func TestShopeeExtractor(t *testing.T) {
	doc, err := decodePayload([]byte(`{
		"shop_id": 1001,
		"data": {
			"ordersn": "220101ABCD",
			"status": "READY_TO_SHIP",
			"create_time": 1700000000,
			"item_list": [
				{"model_sku": "SHP-KPH-M", "model_quantity_purchased": 2, "model_discounted_price": "85000"},
				{"item_sku": "SHP-KFL-L"},
				{"model_sku": "", "model_quantity_purchased": 1},
				{"model_sku": "SHP-ZERO", "model_quantity_purchased": 0}
			]
		}
	}`))
	require.NoError(t, err)

	x := ExtractorFor(domain.ChannelShopee).Extract(doc)
	assert.Equal(t, "220101ABCD", x.ExternalOrderID)
	assert.Equal(t, []string{"READY_TO_SHIP"}, x.Statuses)
	require.NotNil(t, x.OrderedAt)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *x.OrderedAt)
	require.Len(t, x.Items, 2)
	assert.Equal(t, "SHP-KPH-M", x.Items[0].SKU)
	assert.Equal(t, 2, x.Items[0].Qty)
	require.NotNil(t, x.Items[0].Price)
	assert.Equal(t, "85000", x.Items[0].Price.String())
	assert.Equal(t, ExtractedItem{SKU: "SHP-KFL-L", Qty: 1}, x.Items[1])
}

func TestTikTokExtractor(t *testing.T) {
	doc, err := decodePayload([]byte(`{
		"type": 1,
		"data": {
			"order_id": 576461413038785752,
			"order_status": "AWAITING_SHIPMENT",
			"create_time": "2024-05-01T10:00:00+07:00",
			"line_items": [{"seller_sku": "TT-KPH-M", "quantity": "3", "sale_price": "79000.50"}]
		}
	}`))
	require.NoError(t, err)

	x := ExtractorFor(domain.ChannelTikTok).Extract(doc)
	assert.Equal(t, "576461413038785752", x.ExternalOrderID)
	assert.Contains(t, x.Statuses, "AWAITING_SHIPMENT")
	require.NotNil(t, x.OrderedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), *x.OrderedAt)
	require.Len(t, x.Items, 1)
	assert.Equal(t, 3, x.Items[0].Qty)
	assert.Equal(t, "79000.5", x.Items[0].Price.String())
}

func TestGenericExtractorAndMillis(t *testing.T) {
	doc, err := decodePayload([]byte(`{"externalOrderId":"R-1","status":"paid","orderedAt":1700000000123,"items":[{"sku":"A","qty":1,"price":-5}]}`))
	require.NoError(t, err)

	x := ExtractorFor(domain.ChannelReseller).Extract(doc)
	assert.Equal(t, "R-1", x.ExternalOrderID)
	require.NotNil(t, x.OrderedAt)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), *x.OrderedAt)
	require.Len(t, x.Items, 1)
	assert.Nil(t, x.Items[0].Price)
}

func TestDecodePayloadRejectsNonObjects(t *testing.T) {
	_, err := decodePayload([]byte(`"hello"`))
	assert.ErrorIs(t, err, errNotObject)
	_, err = decodePayload([]byte(`{`))
	assert.Error(t, err)
}

func TestQuantityMustBeWholeNumber(t *testing.T) {
	doc, err := decodePayload([]byte(`{"data":{"ordersn":"SP-Q","item_list":[
		{"model_sku":"A","model_quantity_purchased":2.9},
		{"model_sku":"B","model_quantity_purchased":1e300},
		{"model_sku":"C","model_quantity_purchased":3.0},
		{"model_sku":"D","model_quantity_purchased":2.5,"quantity":4},
		{"model_sku":"E","model_quantity_purchased":99999999999999999999}
	]}}`))
	require.NoError(t, err)

	x := ExtractorFor(domain.ChannelShopee).Extract(doc)
	assert.Equal(t, []ExtractedItem{
		{SKU: "A", Qty: 1},
		{SKU: "B", Qty: 1},
		{SKU: "C", Qty: 3},
		{SKU: "D", Qty: 4},
		{SKU: "E", Qty: 1},
	}, x.Items)

	n, ok := asInt(json.Number("2.9"))
	assert.False(t, ok)
	assert.Zero(t, n)
	n, ok = asInt(json.Number("12"))
	assert.True(t, ok)
	assert.Equal(t, 12, n)
}

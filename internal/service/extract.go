package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"stockledger-backend/internal/domain"
)

// ExtractedItem is one normalized order line from an external payload.
type ExtractedItem struct {
	SKU   string
	Qty   int
	Price *decimal.Decimal
}

// ExtractedOrder is the normalized view of an external order payload.
type ExtractedOrder struct {
	ExternalOrderID string
	Statuses        []string
	Items           []ExtractedItem
	OrderedAt       *time.Time
}

// Extractor reads an order from a decoded JSON payload.
type Extractor interface {
	Extract(doc map[string]any) ExtractedOrder
}

// fieldExtractor probes candidate field paths in order. Paths use dots to
// descend into nested objects.
type fieldExtractor struct {
	OrderID    []string
	Items      []string
	SKU        []string
	Qty        []string
	Price      []string
	Status     []string
	OrderedAt  []string
	DefaultQty int
}

var (
	shopeeExtractor = fieldExtractor{
		OrderID:    []string{"data.ordersn", "ordersn", "data.order_sn", "order_sn", "order_id"},
		Items:      []string{"data.item_list", "item_list", "data.items", "items"},
		SKU:        []string{"model_sku", "item_sku", "sku", "seller_sku"},
		Qty:        []string{"model_quantity_purchased", "quantity_purchased", "quantity", "qty"},
		Price:      []string{"model_discounted_price", "model_original_price", "price"},
		Status:     []string{"data.status", "data.order_status", "order_status", "status"},
		OrderedAt:  []string{"data.create_time", "create_time", "timestamp"},
		DefaultQty: 1,
	}
	tiktokExtractor = fieldExtractor{
		OrderID:    []string{"data.order_id", "order_id", "data.id", "id"},
		Items:      []string{"data.line_items", "line_items", "data.item_list", "item_list", "items"},
		SKU:        []string{"seller_sku", "sku_id", "sku"},
		Qty:        []string{"quantity", "qty"},
		Price:      []string{"sale_price", "sku_sale_price", "price"},
		Status:     []string{"data.order_status", "order_status", "data.status", "status", "type"},
		OrderedAt:  []string{"data.create_time", "create_time", "data.update_time"},
		DefaultQty: 1,
	}
	genericExtractor = fieldExtractor{
		OrderID:    []string{"externalOrderId", "external_order_id", "order_id", "orderId", "id", "data.order_id"},
		Items:      []string{"items", "line_items", "data.items"},
		SKU:        []string{"sku", "externalSkuId", "seller_sku"},
		Qty:        []string{"qty", "quantity"},
		Price:      []string{"price"},
		Status:     []string{"status", "event", "type"},
		OrderedAt:  []string{"orderedAt", "created_at", "create_time"},
		DefaultQty: 1,
	}
)

// ExtractorFor selects the extraction strategy for a channel.
func ExtractorFor(channel domain.Channel) Extractor {
	switch channel {
	case domain.ChannelShopee:
		return shopeeExtractor
	case domain.ChannelTikTok:
		return tiktokExtractor
	default:
		return genericExtractor
	}
}

var errNotObject = errors.New("payload is not a JSON object")

// decodePayload parses a raw body keeping numbers exact.
func decodePayload(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return doc, nil
}

func (f fieldExtractor) Extract(doc map[string]any) ExtractedOrder {
	out := ExtractedOrder{ExternalOrderID: firstString(doc, f.OrderID)}
	for _, p := range f.Status {
		if s := asString(lookup(doc, p)); s != "" {
			out.Statuses = append(out.Statuses, s)
		}
	}
	for _, p := range f.OrderedAt {
		if t, ok := asTime(lookup(doc, p)); ok {
			out.OrderedAt = &t
			break
		}
	}
	for _, p := range f.Items {
		list, ok := lookup(doc, p).([]any)
		if !ok || len(list) == 0 {
			continue
		}
		for _, raw := range list {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			sku := firstString(item, f.SKU)
			if sku == "" {
				continue
			}
			qty := f.DefaultQty
			for _, q := range f.Qty {
				if n, ok := asInt(lookup(item, q)); ok {
					qty = n
					break
				}
			}
			if qty <= 0 {
				continue
			}
			line := ExtractedItem{SKU: sku, Qty: qty}
			for _, pp := range f.Price {
				if d, ok := asDecimal(lookup(item, pp)); ok {
					line.Price = &d
					break
				}
			}
			out.Items = append(out.Items, line)
		}
		break
	}
	return out
}

func lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func firstString(doc map[string]any, paths []string) string {
	for _, p := range paths {
		if s := asString(lookup(doc, p)); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// asInt accepts whole numbers that fit in an int. Fractional or oversized
// quantities read as absent.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i < math.MinInt || i > math.MaxInt {
				return 0, false
			}
			return int(i), true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) && f > -float64(math.MaxInt) && f < float64(math.MaxInt) {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func asDecimal(v any) (decimal.Decimal, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		secs, err := t.Int64()
		if err != nil || secs <= 0 {
			return time.Time{}, false
		}
		if secs > 1e12 {
			return time.UnixMilli(secs).UTC(), true
		}
		return time.Unix(secs, 0).UTC(), true
	case string:
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(t)); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

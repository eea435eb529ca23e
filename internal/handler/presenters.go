package handler

import (
	"stockledger-backend/internal/domain"
)

func outletJSON(o domain.Outlet) map[string]any {
	return map[string]any{
		"id":        o.ID,
		"name":      o.Name,
		"type":      o.Type,
		"lifecycle": o.Lifecycle,
		"createdAt": o.CreatedAt,
		"updatedAt": o.UpdatedAt,
	}
}

func variantJSON(v domain.Variant) map[string]any {
	return map[string]any{
		"id":               v.ID,
		"productId":        v.ProductID,
		"productName":      v.ProductName,
		"size":             v.Size,
		"sku":              v.SKU,
		"price":            v.Price,
		"minQty":           v.MinQty,
		"lifecycle":        v.Lifecycle,
		"productLifecycle": v.ProductLifecycle,
		"sellable":         v.Sellable(),
	}
}

func stockJSON(s domain.Stock) map[string]any {
	return map[string]any{
		"outletId":  s.OutletID,
		"variantId": s.VariantID,
		"sku":       s.SKU,
		"qty":       s.Qty,
		"updatedAt": s.UpdatedAt,
	}
}

func movementJSON(m domain.StockMovement) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"type":      m.Type,
		"outletId":  m.OutletID,
		"variantId": m.VariantID,
		"qty":       m.Qty,
		"signedQty": m.SignedQty(),
		"qtyBefore": m.QtyBefore,
		"qtyAfter":  m.QtyAfter,
		"note":      m.Note,
		"refType":   m.RefType,
		"refId":     m.RefID,
		"actorId":   m.ActorID,
		"createdAt": m.CreatedAt,
	}
}

func orderJSON(o domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"id":          it.ID,
			"variantId":   it.VariantID,
			"externalSku": it.ExternalSKU,
			"qty":         it.Qty,
			"price":       it.Price,
			"subtotal":    it.Subtotal,
		})
	}
	return map[string]any{
		"id":              o.ID,
		"channel":         o.Channel,
		"source":          o.Source,
		"externalOrderId": o.ExternalOrderID,
		"outletId":        o.OutletID,
		"status":          o.Status,
		"totalAmount":     o.TotalAmount,
		"note":            o.Note,
		"orderedAt":       o.OrderedAt,
		"createdBy":       o.CreatedBy,
		"items":           items,
		"createdAt":       o.CreatedAt,
		"updatedAt":       o.UpdatedAt,
	}
}

func skuMapJSON(m domain.ChannelSkuMap) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"channel":       m.Channel,
		"externalSkuId": m.ExternalSkuID,
		"variantId":     m.VariantID,
		"createdAt":     m.CreatedAt,
	}
}

func webhookEventJSON(e domain.WebhookEvent, withPayload bool) map[string]any {
	out := map[string]any{
		"id":              e.ID,
		"channel":         e.Channel,
		"idempotencyKey":  e.IdempotencyKey,
		"externalOrderId": e.ExternalOrderID,
		"status":          e.Status,
		"errorMessage":    e.ErrorMessage,
		"attempts":        e.Attempts,
		"receivedAt":      e.ReceivedAt,
		"processedAt":     e.ProcessedAt,
	}
	if withPayload {
		out["payload"] = string(e.Payload)
	}
	return out
}

func batchJSON(b domain.CsvImportBatch, withRows bool) map[string]any {
	out := map[string]any{
		"id":         b.ID,
		"channel":    b.Channel,
		"outletId":   b.OutletID,
		"fileName":   b.FileName,
		"status":     b.Status,
		"message":    b.Message,
		"totalRows":  b.TotalRows,
		"createdBy":  b.CreatedBy,
		"createdAt":  b.CreatedAt,
		"updatedAt":  b.UpdatedAt,
		"importedAt": b.ImportedAt,
	}
	if !withRows {
		return out
	}
	rows := make([]map[string]any, 0, len(b.Rows))
	for _, r := range b.Rows {
		rows = append(rows, map[string]any{
			"rowNumber":       r.RowNumber,
			"externalOrderId": r.ExternalOrderID,
			"externalSku":     r.ExternalSKU,
			"qty":             r.Qty,
			"price":           r.Price,
			"orderDate":       r.OrderDate,
			"variantId":       r.VariantID,
			"orderId":         r.OrderID,
			"status":          r.Status,
			"errorMessage":    r.ErrorMessage,
		})
	}
	out["rows"] = rows
	return out
}

func stockInItemsJSON(items []domain.StockInItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{"variantId": it.VariantID, "qty": it.Qty})
	}
	return out
}

func transferItemsJSON(items []domain.StockTransferItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{"variantId": it.VariantID, "qty": it.Qty})
	}
	return out
}

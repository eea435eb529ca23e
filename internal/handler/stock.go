package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

type StockHandler struct {
	Ledger service.LedgerService
}

func (h StockHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stock", h.list)
	r.Get("/stock/movements", h.movements)
	r.Post("/stock/in", h.stockIn)
	r.Post("/stock/transfers", h.transfer)
	r.Post("/stock/adjustments", h.adjust)
	r.Post("/stock/opnames", h.opname)
	r.Post("/stock/verify", h.verify)
}

type stockLineRequest struct {
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

func stockLines(in []stockLineRequest) []service.StockLine {
	out := make([]service.StockLine, 0, len(in))
	for _, it := range in {
		out = append(out, service.StockLine{VariantID: it.VariantID, Qty: it.Qty})
	}
	return out
}

func (h StockHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Ledger.ListStock(r.Context(), r.URL.Query().Get("outletId"), queryLimit(r, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, s := range items {
		resp = append(resp, stockJSON(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h StockHandler) movements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Ledger.ListMovements(r.Context(), domain.MovementFilter{
		OutletID:  q.Get("outletId"),
		VariantID: q.Get("variantId"),
		RefType:   domain.RefType(q.Get("refType")),
		RefID:     q.Get("refId"),
		Limit:     queryLimit(r, 100),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, m := range items {
		resp = append(resp, movementJSON(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h StockHandler) stockIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		OutletID string             `json:"outletId"`
		Items    []stockLineRequest `json:"items"`
		Supplier string             `json:"supplier"`
		Note     string             `json:"note"`
		Date     string             `json:"date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	doc, err := h.Ledger.StockIn(r.Context(), actor, service.StockInInput{
		OutletID:   req.OutletID,
		Items:      stockLines(req.Items),
		Supplier:   req.Supplier,
		Note:       req.Note,
		ReceivedAt: date,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         doc.ID,
		"outletId":   doc.OutletID,
		"supplier":   doc.Supplier,
		"note":       doc.Note,
		"receivedAt": doc.ReceivedAt,
		"items":      stockInItemsJSON(doc.Items),
	})
}

func (h StockHandler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		FromOutletID string             `json:"fromOutletId"`
		ToOutletID   string             `json:"toOutletId"`
		Items        []stockLineRequest `json:"items"`
		Note         string             `json:"note"`
		Date         string             `json:"date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	doc, err := h.Ledger.Transfer(r.Context(), actor, service.TransferInput{
		FromOutletID:  req.FromOutletID,
		ToOutletID:    req.ToOutletID,
		Items:         stockLines(req.Items),
		Note:          req.Note,
		TransferredAt: date,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            doc.ID,
		"fromOutletId":  doc.FromOutletID,
		"toOutletId":    doc.ToOutletID,
		"note":          doc.Note,
		"transferredAt": doc.TransferredAt,
		"items":         transferItemsJSON(doc.Items),
	})
}

func (h StockHandler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		OutletID  string `json:"outletId"`
		VariantID string `json:"variantId"`
		DeltaQty  int    `json:"deltaQty"`
		Reason    string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := h.Ledger.Adjust(r.Context(), actor, service.AdjustmentInput{
		OutletID:  req.OutletID,
		VariantID: req.VariantID,
		DeltaQty:  req.DeltaQty,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        doc.ID,
		"outletId":  doc.OutletID,
		"variantId": doc.VariantID,
		"deltaQty":  doc.DeltaQty,
		"reason":    doc.Reason,
		"createdBy": doc.CreatedBy,
	})
}

func (h StockHandler) opname(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		OutletID string `json:"outletId"`
		Items    []struct {
			VariantID  string `json:"variantId"`
			CountedQty int    `json:"countedQty"`
		} `json:"items"`
		Note string `json:"note"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	in := service.OpnameInput{OutletID: req.OutletID, Note: req.Note}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OpnameLine{VariantID: it.VariantID, CountedQty: it.CountedQty})
	}
	doc, err := h.Ledger.Opname(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(doc.Items))
	for _, it := range doc.Items {
		items = append(items, map[string]any{
			"variantId":  it.VariantID,
			"systemQty":  it.SystemQty,
			"countedQty": it.CountedQty,
			"diff":       it.Diff,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       doc.ID,
		"outletId": doc.OutletID,
		"note":     doc.Note,
		"items":    items,
	})
}

func (h StockHandler) verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))
	drifts, err := h.Ledger.VerifyLedger(r.Context(), actor, r.URL.Query().Get("outletId"), repair)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(drifts))
	for _, d := range drifts {
		resp = append(resp, map[string]any{
			"outletId":    d.OutletID,
			"variantId":   d.VariantID,
			"stockQty":    d.StockQty,
			"movementSum": d.MovementSum,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(drifts) == 0,
		"repaired":   repair && len(drifts) > 0,
		"drifts":     resp,
	})
}

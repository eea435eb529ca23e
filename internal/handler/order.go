package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

type OrderHandler struct {
	Orders service.OrderService
}

func (h OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.list)
	r.Post("/orders", h.create)
	r.Get("/orders/{id}", h.get)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/return", h.returned)
}

func (h OrderHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Channel         string `json:"channel"`
		OutletID        string `json:"outletId"`
		ExternalOrderID string `json:"externalOrderId"`
		Status          string `json:"status"`
		Note            string `json:"note"`
		OrderedAt       string `json:"orderedAt"`
		Items           []struct {
			VariantID string           `json:"variantId"`
			Qty       int              `json:"qty"`
			Price     *decimal.Decimal `json:"price"`
		} `json:"items"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	orderedAt, err := parseDate(req.OrderedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid orderedAt")
		return
	}
	in := service.CreateOrderInput{
		Channel:         domain.Channel(req.Channel),
		OutletID:        req.OutletID,
		ExternalOrderID: req.ExternalOrderID,
		Status:          domain.OrderStatus(req.Status),
		Note:            req.Note,
		OrderedAt:       orderedAt,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OrderLine{VariantID: it.VariantID, Qty: it.Qty, Price: it.Price})
	}
	res, err := h.Orders.Create(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	resp := orderJSON(*res.Order)
	resp["created"] = res.Created
	writeJSON(w, status, resp)
}

func (h OrderHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Orders.List(r.Context(), domain.OrderFilter{
		Channel: domain.Channel(q.Get("channel")),
		Status:  domain.OrderStatus(q.Get("status")),
		Limit:   queryLimit(r, 100),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, o := range items {
		resp = append(resp, orderJSON(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h OrderHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(*o))
}

func (h OrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.Cancel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(*o))
}

func (h OrderHandler) returned(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	o, err := h.Orders.Return(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(*o))
}

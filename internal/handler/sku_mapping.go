package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

type SkuMappingHandler struct {
	Skus service.SkuService
}

func (h SkuMappingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sku-mappings", h.list)
	r.Post("/sku-mappings", h.create)
	r.Post("/sku-mappings/resolve", h.resolve)
	r.Delete("/sku-mappings/{id}", h.delete)
}

func (h SkuMappingHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Skus.List(r.Context(), domain.Channel(r.URL.Query().Get("channel")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, m := range items {
		resp = append(resp, skuMapJSON(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h SkuMappingHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Channel       string `json:"channel"`
		ExternalSkuID string `json:"externalSkuId"`
		VariantID     string `json:"variantId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.Skus.Create(r.Context(), actor, service.CreateMappingInput{
		Channel:       domain.Channel(req.Channel),
		ExternalSkuID: req.ExternalSkuID,
		VariantID:     req.VariantID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, skuMapJSON(*m))
}

func (h SkuMappingHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string   `json:"channel"`
		Skus    []string `json:"skus"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Skus.Resolve(r.Context(), domain.Channel(req.Channel), req.Skus)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	unmapped := res.Unmapped
	if unmapped == nil {
		unmapped = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mapped":   res.Mapped,
		"unmapped": unmapped,
	})
}

func (h SkuMappingHandler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.Skus.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

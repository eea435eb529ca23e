package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

// CatalogHandler serves outlets and the read-only variant catalog.
type CatalogHandler struct {
	Catalog service.CatalogService
}

func (h CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/outlets", h.listOutlets)
	r.Post("/outlets", h.createOutlet)
	r.Get("/variants", h.listVariants)
}

func (h CatalogHandler) listOutlets(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListOutlets(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, o := range items {
		resp = append(resp, outletJSON(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h CatalogHandler) createOutlet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := h.Catalog.CreateOutlet(r.Context(), actor, service.CreateOutletInput{
		Name: req.Name,
		Type: domain.OutletType(req.Type),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outletJSON(*o))
}

func (h CatalogHandler) listVariants(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.ListVariants(r.Context(), queryLimit(r, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, v := range items {
		resp = append(resp, variantJSON(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

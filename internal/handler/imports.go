package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

// ImportHandler drives the batch import workflow through a single endpoint
// whose mode selects preview, submit or finalize.
type ImportHandler struct {
	Imports service.CsvImportService
}

func (h ImportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/imports", h.list)
	r.Post("/imports", h.run)
	r.Get("/imports/{id}", h.get)
}

type importRequest struct {
	Mode       string `json:"mode"`
	BatchID    string `json:"batchId"`
	Channel    string `json:"channel"`
	OutletID   string `json:"outletId"`
	FileName   string `json:"fileName"`
	CsvText    string `json:"csvText"`
	XlsxBase64 string `json:"xlsxBase64"`
	Mapping    struct {
		OrderID string `json:"orderId"`
		SKU     string `json:"sku"`
		Qty     string `json:"qty"`
		Date    string `json:"date"`
		Price   string `json:"price"`
	} `json:"mapping"`
}

func (req importRequest) input() service.ImportInput {
	return service.ImportInput{
		Channel:    domain.Channel(req.Channel),
		OutletID:   req.OutletID,
		FileName:   req.FileName,
		CsvText:    req.CsvText,
		XlsxBase64: req.XlsxBase64,
		Mapping: service.ColumnMapping{
			OrderID: req.Mapping.OrderID,
			SKU:     req.Mapping.SKU,
			Qty:     req.Mapping.Qty,
			Date:    req.Mapping.Date,
			Price:   req.Mapping.Price,
		},
	}
}

func (h ImportHandler) run(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch strings.ToLower(req.Mode) {
	case "preview":
		out, err := h.Imports.Preview(r.Context(), req.input())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "submit":
		b, err := h.Imports.Submit(r.Context(), actor, req.input())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, batchJSON(*b, true))
	case "finalize":
		if req.BatchID == "" {
			writeError(w, http.StatusBadRequest, "batchId is required")
			return
		}
		b, err := h.Imports.Finalize(r.Context(), actor, req.BatchID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batchJSON(*b, true))
	default:
		writeError(w, http.StatusBadRequest, "mode must be preview, submit or finalize")
	}
}

func (h ImportHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Imports.List(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, b := range items {
		resp = append(resp, batchJSON(b, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h ImportHandler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Imports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchJSON(*b, true))
}

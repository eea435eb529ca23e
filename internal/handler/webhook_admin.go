package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

type WebhookAdminHandler struct {
	Service service.WebhookService
}

func (h WebhookAdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook-events", h.list)
	r.Post("/webhook-events/retry-pending", h.retryPending)
	r.Get("/webhook-events/{id}", h.get)
	r.Post("/webhook-events/{id}/retry", h.retry)
}

func (h WebhookAdminHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.WebhookEventFilter{
		Channel: domain.Channel(strings.ToUpper(q.Get("channel"))),
		Limit:   queryLimit(r, 100),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, domain.WebhookStatus(strings.ToUpper(s)))
			}
		}
	}
	items, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]map[string]any, 0, len(items))
	for _, e := range items {
		resp = append(resp, webhookEventJSON(e, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h WebhookAdminHandler) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookEventJSON(*e, true))
}

func (h WebhookAdminHandler) retry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	res, err := h.Service.Retry(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResultJSON(res))
}

func (h WebhookAdminHandler) retryPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	var channel domain.Channel
	if req.Channel != "" {
		c, ok := domain.ParseChannel(req.Channel)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown channel")
			return
		}
		channel = c
	}
	summary, err := h.Service.RetryPending(r.Context(), actor, channel, req.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

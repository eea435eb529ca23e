package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/service"
)

const maxWebhookBytes = 1 << 20

// WebhookHandler receives marketplace deliveries. Secret returns the shared
// secret configured for a channel; a secret starting with "$2" is treated as
// a bcrypt hash. With AllowUnsigned, channels without a secret accept
// unauthenticated calls.
type WebhookHandler struct {
	Service       service.WebhookService
	Secret        func(channel string) string
	AllowUnsigned bool
}

func (h WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{channel}", h.receive)
}

func (h WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	channel, ok := domain.ParseChannel(chi.URLParam(r, "channel"))
	if !ok || !channel.External() {
		writeError(w, http.StatusNotFound, "unknown webhook channel")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if !h.authorized(string(channel), r, body) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret or signature")
		return
	}

	res, err := h.Service.Receive(r.Context(), channel, body)
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "webhook could not be stored, retry later")
		return
	}

	resp := webhookResultJSON(res)
	if res.Event.Status == domain.WebhookError && !res.Duplicate {
		writeFailure(w, http.StatusConflict, "WEBHOOK_ERROR", res.Event.ErrorMessage, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h WebhookHandler) authorized(channel string, r *http.Request, body []byte) bool {
	secret := ""
	if h.Secret != nil {
		secret = h.Secret(channel)
	}
	if secret == "" {
		return h.AllowUnsigned
	}
	if provided := r.Header.Get("X-Webhook-Secret"); provided != "" {
		return checkSharedSecret(secret, provided)
	}
	if sig := r.Header.Get("X-Signature"); sig != "" {
		return checkSignature(secret, sig, body)
	}
	return false
}

func checkSharedSecret(secret, provided string) bool {
	if strings.HasPrefix(secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1
}

// checkSignature verifies a hex HMAC-SHA256 of the raw body, with or without
// a "sha256=" prefix.
func checkSignature(secret, signature string, body []byte) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func webhookResultJSON(res service.WebhookResult) map[string]any {
	out := map[string]any{
		"eventId":   res.Event.ID,
		"status":    res.Event.Status,
		"duplicate": res.Duplicate,
		"attempts":  res.Event.Attempts,
	}
	if res.Event.ErrorMessage != "" {
		out["message"] = res.Event.ErrorMessage
	}
	if res.OrderID != "" {
		out["orderId"] = res.OrderID
	}
	if len(res.Unmapped) > 0 {
		out["unmappedSkus"] = res.Unmapped
	}
	if len(res.Shortages) > 0 {
		out["shortages"] = res.Shortages
	}
	return out
}

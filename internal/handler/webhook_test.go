package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"stockledger-backend/internal/service"
	"stockledger-backend/internal/store/memory"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCheckSignature(t *testing.T) {
	body := []byte(`{"data":{"ordersn":"SP-1"}}`)
	sig := sign("s3cret", body)

	assert.True(t, checkSignature("s3cret", sig, body))
	assert.True(t, checkSignature("s3cret", "sha256="+sig, body))
	assert.False(t, checkSignature("other", sig, body))
	assert.False(t, checkSignature("s3cret", sig, append(body, ' ')))
	assert.False(t, checkSignature("s3cret", "zz", body))
}

func TestCheckSharedSecret(t *testing.T) {
	assert.True(t, checkSharedSecret("plain", "plain"))
	assert.False(t, checkSharedSecret("plain", "plain2"))

	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, checkSharedSecret(string(hash), "hashed-secret"))
	assert.False(t, checkSharedSecret(string(hash), "guess"))
}

func newWebhookRouter(secret string, allowUnsigned bool) http.Handler {
	st := memory.NewSeeded()
	h := WebhookHandler{
		Service:       service.WebhookService{Store: st, Outlets: service.OutletResolver{}},
		Secret:        func(string) string { return secret },
		AllowUnsigned: allowUnsigned,
	}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func postWebhook(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookUnsignedOnlyWhenAllowed(t *testing.T) {
	body := `{"data":{"order_id":"TT-1","order_status":"AWAITING_SHIPMENT","line_items":[{"seller_sku":"X","quantity":1}]}}`

	rec := postWebhook(newWebhookRouter("", false), "/webhooks/tiktok", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(newWebhookRouter("", true), "/webhooks/tiktok", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"UNMAPPED"`)
}

func TestWebhookIgnoresMalformedPayload(t *testing.T) {
	h := newWebhookRouter("k", false)
	rec := postWebhook(h, "/webhooks/shopee", "not json", map[string]string{"X-Webhook-Secret": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"IGNORED"`)

	rec = postWebhook(h, "/webhooks/unknown", "{}", map[string]string{"X-Webhook-Secret": "k"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

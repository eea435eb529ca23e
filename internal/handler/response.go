package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/server/authctx"
	"stockledger-backend/internal/store"
)

const maxBodyBytes = 8 << 20

type apiError struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type apiResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Data    any       `json:"data"`
	Error   *apiError `json:"error,omitempty"`
}

func writeRawJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if status >= 400 {
		writeRawJSON(w, status, apiResponse{
			Status:  "error",
			Message: "",
			Data:    payload,
			Error: &apiError{
				Code:   status,
				Status: http.StatusText(status),
			},
		})
		return
	}
	writeRawJSON(w, status, apiResponse{
		Status:  "ok",
		Message: "",
		Data:    payload,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeFailure(w, status, "", message, nil)
}

// writeFailure writes an error envelope carrying a machine-readable reason
// and optional details (shortages, unmapped SKUs).
func writeFailure(w http.ResponseWriter, status int, reason, message string, data any) {
	if status < 400 {
		status = http.StatusInternalServerError
	}
	writeRawJSON(w, status, apiResponse{
		Status:  "error",
		Message: message,
		Data:    data,
		Error: &apiError{
			Code:   status,
			Status: http.StatusText(status),
			Reason: reason,
		},
	})
}

// writeServiceError translates service and store errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		shortage   *domain.InsufficientStockError
		unmapped   *domain.UnmappedSkuError
		inactive   *domain.ProductInactiveError
	)
	switch {
	case errors.As(err, &validation):
		writeFailure(w, http.StatusBadRequest, "VALIDATION", validation.Error(), map[string]any{"field": validation.Field})
	case errors.Is(err, domain.ErrInvalidDelta):
		writeFailure(w, http.StatusBadRequest, "INVALID_DELTA", err.Error(), nil)
	case errors.As(err, &shortage):
		writeFailure(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), map[string]any{"shortages": shortage.Shortages})
	case errors.As(err, &unmapped):
		writeFailure(w, http.StatusUnprocessableEntity, "UNMAPPED_SKU", err.Error(), map[string]any{
			"channel": unmapped.Channel,
			"skus":    unmapped.SKUs,
		})
	case errors.As(err, &inactive):
		writeFailure(w, http.StatusUnprocessableEntity, "PRODUCT_INACTIVE", err.Error(), map[string]any{"variantId": inactive.VariantID})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeFailure(w, http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, domain.ErrOutletInactive):
		writeFailure(w, http.StatusUnprocessableEntity, "OUTLET_INACTIVE", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		writeFailure(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, store.ErrDuplicate):
		writeFailure(w, http.StatusConflict, "DUPLICATE", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// actorFrom returns the authenticated actor. Routes are mounted behind the
// auth middleware, so a missing user is answered with 401.
func actorFrom(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	user := authctx.FromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return domain.Actor{}, false
	}
	return user.Actor(), true
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/store"
)

func TestWriteServiceError(t *testing.T) {
	cases := []struct {
		err    error
		code   int
		reason string
	}{
		{domain.Invalid("items", "at least one item is required"), http.StatusBadRequest, "VALIDATION"},
		{domain.ErrInvalidDelta, http.StatusBadRequest, "INVALID_DELTA"},
		{&domain.InsufficientStockError{Shortages: []domain.Shortage{{VariantID: "v1", Need: 3, Have: 1}}}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{&domain.UnmappedSkuError{Channel: domain.ChannelShopee, SKUs: []string{"A"}}, http.StatusUnprocessableEntity, "UNMAPPED_SKU"},
		{fmt.Errorf("create: %w", &domain.ProductInactiveError{VariantID: "v2"}), http.StatusUnprocessableEntity, "PRODUCT_INACTIVE"},
		{domain.ErrInvalidTransition, http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
		{fmt.Errorf("outlet o1: %w", domain.ErrOutletInactive), http.StatusUnprocessableEntity, "OUTLET_INACTIVE"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("outlet o1: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{store.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
		{errors.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tc.err)
			assert.Equal(t, tc.code, rec.Code)

			var body apiResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			require.NotNil(t, body.Error)
			assert.Equal(t, tc.reason, body.Error.Reason)
		})
	}
}

func TestShortageDetailsAreReturned(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, &domain.InsufficientStockError{Shortages: []domain.Shortage{
		{OutletID: "o1", VariantID: "v1", Need: 3, Have: 1},
	}})

	var body struct {
		Data struct {
			Shortages []domain.Shortage `json:"shortages"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []domain.Shortage{{OutletID: "o1", VariantID: "v1", Need: 3, Have: 1}}, body.Data.Shortages)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDate("2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 14, d.Day())

	d, err = parseDate("2026-03-14T08:30:00+07:00")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Hour())

	_, err = parseDate("14/03/2026")
	assert.Error(t, err)
}

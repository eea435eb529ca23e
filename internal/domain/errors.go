package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDelta      = errors.New("deltaQty must not be zero")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOutletInactive    = errors.New("outlet is not active")
	ErrForbidden         = errors.New("operation requires an admin")
)

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Shortage is one (outlet, variant) whose resulting quantity would be negative.
type Shortage struct {
	OutletID  string `json:"outletId"`
	VariantID string `json:"variantId"`
	Need      int    `json:"need"`
	Have      int    `json:"have"`
}

// InsufficientStockError lists every shortage found while validating an operation.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortages) == 0 {
		return "insufficient stock"
	}
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("variant %s need %d have %d", s.VariantID, s.Need, s.Have))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// ProductInactiveError is returned when an order references a variant whose
// product or variant is deactivated or deleted.
type ProductInactiveError struct {
	VariantID string
}

func (e *ProductInactiveError) Error() string {
	return fmt.Sprintf("product of variant %s is not active", e.VariantID)
}

// UnmappedSkuError lists external SKUs with no ChannelSkuMap entry.
type UnmappedSkuError struct {
	Channel Channel
	SKUs    []string
}

func (e *UnmappedSkuError) Error() string {
	return fmt.Sprintf("unmapped %s SKUs: %s", e.Channel, strings.Join(e.SKUs, ", "))
}

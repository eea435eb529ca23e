package handler

import (
	"time"
)

const dateLayout = "2006-01-02"

// parseDate accepts an RFC 3339 timestamp or a plain date. Empty input
// yields the zero time so the service applies its default.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed, nil
}

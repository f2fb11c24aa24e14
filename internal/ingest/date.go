package ingest

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the accepted input layouts, tried in order; all are
// normalized to UTC midnight for date-only grouping (spec.md §4.4).
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
}

// parseDate normalizes a CSV date cell to UTC midnight. An empty string
// is rejected: dateService is required for every record.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("dateService is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

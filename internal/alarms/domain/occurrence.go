package domain

import (
	"errors"
	"time"
)

// occurrenceKeyLayout is the canonical occurrence key format: UTC with
// millisecond precision, sortable lexically. The same anchor always
// produces the same key, so rescheduling one firing is idempotent while
// a new anchor yields a new occurrence identity.
const occurrenceKeyLayout = "2006-01-02T15:04:05.000Z"

// ErrInvalidOccurrenceKey is returned when an occurrence key does not
// match the canonical layout.
var ErrInvalidOccurrenceKey = errors.New("domain: invalid occurrence key")

// OccurrenceKey derives the canonical key for an anchor time.
func OccurrenceKey(anchor time.Time) string {
	return anchor.UTC().Format(occurrenceKeyLayout)
}

// ParseOccurrenceKey parses a canonical occurrence key back to its anchor.
func ParseOccurrenceKey(key string) (time.Time, error) {
	if len(key) != len(occurrenceKeyLayout) {
		return time.Time{}, ErrInvalidOccurrenceKey
	}
	parsed, err := time.Parse(occurrenceKeyLayout, key)
	if err != nil {
		return time.Time{}, ErrInvalidOccurrenceKey
	}
	return parsed.UTC(), nil
}

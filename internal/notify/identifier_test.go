package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

func TestIdentifierRoundTrip(t *testing.T) {
	anchor := time.Date(2026, 6, 15, 7, 0, 0, 0, time.UTC)
	id := Identifier{
		AlarmID:       uuid.New(),
		OccurrenceKey: domain.OccurrenceKey(anchor),
		Index:         7,
	}
	parsed := ParseIdentifier(id.String())
	if parsed == nil {
		t.Fatalf("parse returned nil for %q", id.String())
	}
	if *parsed != id {
		t.Fatalf("round trip mismatch: got %+v want %+v", *parsed, id)
	}
}

func TestIdentifierEncoding(t *testing.T) {
	alarmID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	id := Identifier{AlarmID: alarmID, OccurrenceKey: "2026-06-15T07:00:00.000Z", Index: 0}
	want := "alarm-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00.000Z-0"
	if got := id.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseIdentifierRejectsMalformed(t *testing.T) {
	valid := Identifier{AlarmID: uuid.New(), OccurrenceKey: "2026-06-15T07:00:00.000Z", Index: 3}.String()
	if ParseIdentifier(valid) == nil {
		t.Fatalf("control identifier must parse: %q", valid)
	}

	cases := map[string]string{
		"wrong prefix":      "alert-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00.000Z-0",
		"truncated uuid":    "alarm-11111111-2222-3333-4444-5555-occ-2026-06-15T07:00:00.000Z-0",
		"missing marker":    "alarm-11111111-2222-3333-4444-555555555555-2026-06-15T07:00:00.000Z-0",
		"bad occurrence":    "alarm-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00Z-0",
		"non-numeric index": "alarm-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00.000Z-x",
		"signed index":      "alarm-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00.000Z-+3",
		"missing index":     "alarm-11111111-2222-3333-4444-555555555555-occ-2026-06-15T07:00:00.000Z-",
		"empty":             "",
	}
	for name, input := range cases {
		if got := ParseIdentifier(input); got != nil {
			t.Fatalf("%s: expected nil, got %+v", name, got)
		}
	}
}

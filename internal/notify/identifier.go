package notify

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

const (
	identifierPrefix  = "alarm-"
	occurrenceMarker  = "-occ-"
	canonicalUUIDSize = 36
)

// Identifier is the composite key for one notification in a chain:
// alarm-{alarmUUID}-occ-{occurrenceKey}-{index}. The string encoding is a
// bit-exact contract with the platform surface; round-trips are exact.
type Identifier struct {
	AlarmID       uuid.UUID
	OccurrenceKey string
	Index         int
}

// String encodes the identifier.
func (id Identifier) String() string {
	return identifierPrefix + id.AlarmID.String() + occurrenceMarker + id.OccurrenceKey + "-" + strconv.Itoa(id.Index)
}

// ParseIdentifier decodes an identifier string. Malformed input yields
// nil rather than an error; delivered notifications routinely carry
// identifiers from other sources and those are simply not ours.
func ParseIdentifier(s string) *Identifier {
	rest, ok := strings.CutPrefix(s, identifierPrefix)
	if !ok {
		return nil
	}
	marker := strings.Index(rest, occurrenceMarker)
	if marker != canonicalUUIDSize {
		return nil
	}
	alarmID, err := uuid.Parse(rest[:marker])
	if err != nil {
		return nil
	}
	tail := rest[marker+len(occurrenceMarker):]
	sep := strings.LastIndex(tail, "-")
	if sep <= 0 || sep == len(tail)-1 {
		return nil
	}
	key := tail[:sep]
	if _, err := domain.ParseOccurrenceKey(key); err != nil {
		return nil
	}
	index, ok := parseIndex(tail[sep+1:])
	if !ok {
		return nil
	}
	return &Identifier{AlarmID: alarmID, OccurrenceKey: key, Index: index}
}

func parseIndex(s string) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return index, true
}

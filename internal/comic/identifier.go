package comic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date identifier layout.
const DateLayout = "2006-01-02"

// Reserved identifiers understood by the routing layer.
const (
	IdentifierLatest = "latest"
	IdentifierRandom = "random"
)

// Family is an identifier addressing family. Identifiers from different families are
// never compared.
type Family int

// Addressing families.
const (
	FamilyUnknown Family = iota
	FamilyDate
	FamilySequence
)

// FamilyOf reports which addressing family id belongs to.
func FamilyOf(id string) Family {
	if strings.HasPrefix(id, "#") {
		if _, err := strconv.Atoi(id[1:]); err == nil {
			return FamilySequence
		}
		return FamilyUnknown
	}
	if _, err := time.Parse(DateLayout, id); err == nil {
		return FamilyDate
	}
	return FamilyUnknown
}

// ParseDate validates a calendar-date identifier.
func ParseDate(id string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrInvalidParameter, id)
	}
	return t, nil
}

// FormatDate renders t as a calendar-date identifier.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// SequenceID renders n as a sequence identifier ("#n").
func SequenceID(n int) string {
	return "#" + strconv.Itoa(n)
}

// ParseSequence accepts "#n" or a bare "n".
func ParseSequence(id string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(id), "#"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid sequence number %q", ErrInvalidParameter, id)
	}
	return n, nil
}

// CacheKey builds the strip cache key for an endpoint and identifier.
func CacheKey(endpoint, identifier string) string {
	return endpoint + ":" + identifier
}

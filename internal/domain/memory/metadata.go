package memory

import (
	"encoding/json"
	"strings"
)

// Metadata is the open key/value bag attached to a record. Values are
// restricted to scalars; recurring structured fields belong in named
// columns (DomainTag, PhaseCoherence) instead.
type Metadata map[string]any

// Validate rejects empty keys and non-scalar values.
func (m Metadata) Validate() error {
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return invalid("metadata keys must be non-empty")
		}
		if !isScalar(v) {
			return invalid("metadata value for %q must be a string, number or bool", k)
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

// String returns the value for key rendered as a string, or "" if absent
// or not a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

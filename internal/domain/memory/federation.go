package memory

import (
	"time"
	"unicode/utf8"
)

// SummaryRunes caps the content summary carried in federation events.
const SummaryRunes = 200

// FederationEvent announces a high-temperature or sacred record to peer
// triads. Delivery is best-effort; the access rules, not the event, decide
// visibility.
type FederationEvent struct {
	ID             string    `json:"id"`
	ContentSummary string    `json:"content_summary"`
	SourceTriad    string    `json:"source_triad"`
	Temperature    float64   `json:"temperature"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewFederationEvent builds the event for r.
func NewFederationEvent(r *Record, now time.Time) FederationEvent {
	return FederationEvent{
		ID:             r.ID,
		ContentSummary: Summarize(r.Content(), SummaryRunes),
		SourceTriad:    r.SourceTriad,
		Temperature:    r.Temperature,
		Timestamp:      now.UTC(),
	}
}

// Summarize truncates s to at most n runes, appending an ellipsis when cut.
func Summarize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

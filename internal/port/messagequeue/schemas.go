package messagequeue

import "time"

// FederationPayload is the schema for thermal.federation.{triad} messages.
type FederationPayload struct {
	ID             string    `json:"id"`
	ContentSummary string    `json:"content_summary"`
	SourceTriad    string    `json:"source_triad"`
	Temperature    float64   `json:"temperature"`
	Timestamp      time.Time `json:"timestamp"`
}

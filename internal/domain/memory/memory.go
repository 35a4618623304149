// Package memory provides the domain model for the thermal memory store:
// temperature-scored records, their lifecycle stages, the sacred-protection
// override and the cross-triad visibility rules.
package memory

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dereadi/thermal-memory/internal/domain"
)

// Stage is the coarse lifecycle bucket derived from a record's temperature.
type Stage string

const (
	StageFresh    Stage = "FRESH"
	StageWarm     Stage = "WARM"
	StageHot      Stage = "HOT"
	StageWhiteHot Stage = "WHITE_HOT"
)

// ValidStages lists all stages from coldest to hottest.
var ValidStages = []Stage{StageFresh, StageWarm, StageHot, StageWhiteHot}

// AccessLevel governs which triads may see a record.
type AccessLevel string

const (
	AccessPublic    AccessLevel = "PUBLIC"
	AccessTriadOnly AccessLevel = "TRIAD_ONLY"
	AccessSpecific  AccessLevel = "SPECIFIC"
	AccessSacred    AccessLevel = "SACRED"
)

// ValidAccessLevels lists all valid access levels.
var ValidAccessLevels = []AccessLevel{AccessPublic, AccessTriadOnly, AccessSpecific, AccessSacred}

// Temperature bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 100.0
)

// Record is a single persisted memory.
type Record struct {
	ID                string      `json:"id"`
	MemoryHash        string      `json:"memory_hash"`
	OriginalContent   string      `json:"original_content,omitempty"`
	CompressedContent string      `json:"compressed_content,omitempty"`
	ContentChecksum   string      `json:"content_checksum"`
	Temperature       float64     `json:"temperature_score"`
	Stage             Stage       `json:"current_stage"`
	AccessCount       int64       `json:"access_count"`
	AccessRate        float64     `json:"-"`
	SacredPattern     bool        `json:"sacred_pattern"`
	SacredTags        []string    `json:"sacred_tags,omitempty"`
	PhaseCoherence    float64     `json:"phase_coherence"`
	DomainTag         string      `json:"domain_tag,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	Metadata          Metadata    `json:"metadata,omitempty"`
	SourceTriad       string      `json:"source_triad"`
	AccessLevel       AccessLevel `json:"access_level"`
	AllowedTriads     []string    `json:"allowed_triads,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	LastAccess        time.Time   `json:"last_access"`
	ThermalAt         time.Time   `json:"-"`
	UpdatedAt         time.Time   `json:"updated_at"`

	// IntegrityWarning is set on read when the stored payload no longer
	// matches ContentChecksum. It is never persisted.
	IntegrityWarning bool `json:"integrity_warning,omitempty"`
}

// Content returns the payload used for hashing and summaries: the original
// content when present, the compressed form otherwise.
func (r *Record) Content() string {
	if r.OriginalContent != "" {
		return r.OriginalContent
	}
	return r.CompressedContent
}

// WriteRequest is the input for write_memory.
type WriteRequest struct {
	// MemoryHash is optional; when empty it is derived from the content.
	MemoryHash        string      `json:"memory_hash,omitempty"`
	OriginalContent   string      `json:"original_content"`
	CompressedContent string      `json:"compressed_content,omitempty"`
	Temperature       float64     `json:"temperature"`
	SourceTriad       string      `json:"source_triad"`
	DomainTag         string      `json:"domain_tag,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	AccessLevel       AccessLevel `json:"access_level,omitempty"`
	AllowedTriads     []string    `json:"allowed_triads,omitempty"`
	PhaseCoherence    float64     `json:"phase_coherence,omitempty"`
	Metadata          Metadata    `json:"metadata,omitempty"`
}

// Validate checks that a WriteRequest can produce a well-formed record.
// Out-of-range values are rejected, never clamped.
func (r *WriteRequest) Validate() error {
	if strings.TrimSpace(r.OriginalContent) == "" && strings.TrimSpace(r.CompressedContent) == "" {
		return invalid("content is required")
	}
	if math.IsNaN(r.Temperature) || r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return invalid("temperature must be between 0 and 100, got %v", r.Temperature)
	}
	if math.IsNaN(r.PhaseCoherence) || r.PhaseCoherence < 0 || r.PhaseCoherence > 1 {
		return invalid("phase_coherence must be between 0 and 1, got %v", r.PhaseCoherence)
	}
	if strings.TrimSpace(r.SourceTriad) == "" {
		return invalid("source_triad is required")
	}
	if !ValidTriad(r.SourceTriad) {
		return invalid("source_triad %q is not a valid triad id", r.SourceTriad)
	}
	if r.AccessLevel != "" && !slices.Contains(ValidAccessLevels, r.AccessLevel) {
		return invalid("unknown access_level %q", r.AccessLevel)
	}
	if err := r.Metadata.Validate(); err != nil {
		return err
	}
	return nil
}

// Query is the input for query_memories.
type Query struct {
	RequestingTriad string   `json:"requesting_triad"`
	MinTemp         float64  `json:"min_temp"`
	MaxTemp         *float64 `json:"max_temp,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	SourceTriad     string   `json:"source_triad,omitempty"`
	Limit           int      `json:"limit"`
}

// Query limits.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// Upper returns the inclusive upper temperature bound. An unset bound is
// MaxTemperature; an explicit 0 is kept.
func (q *Query) Upper() float64 {
	if q.MaxTemp == nil {
		return MaxTemperature
	}
	return *q.MaxTemp
}

// Normalize fills defaults and validates the query bounds.
func (q *Query) Normalize() error {
	if strings.TrimSpace(q.RequestingTriad) == "" {
		return invalid("requesting_triad is required")
	}
	lo, hi := q.MinTemp, q.Upper()
	if math.IsNaN(lo) || math.IsNaN(hi) || lo < MinTemperature || hi > MaxTemperature || lo > hi {
		return invalid("temperature range [%v, %v] is invalid", lo, hi)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	q.Tags = normalizeSet(q.Tags)
	return nil
}

// Stats summarizes the store contents.
type Stats struct {
	Total   int64           `json:"total"`
	Sacred  int64           `json:"sacred"`
	ByStage map[Stage]int64 `json:"by_stage"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// normalizeSet trims, drops empties, dedupes and sorts a string set.
func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

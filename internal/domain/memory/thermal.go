package memory

import (
	"math"
	"slices"
	"time"
)

// Thermal thresholds. Band edges are fixed; only the decay curve is tunable.
const (
	WarmThreshold     = 40.0
	HotThreshold      = 70.0
	WhiteHotThreshold = 90.0

	// SacredFloor is the minimum temperature of a record with SacredPattern.
	SacredFloor = 75.0
	// AutoSacredThreshold is the write temperature at which the access level
	// is forced to SACRED and the record is federated.
	AutoSacredThreshold = 75.0
	// PromotionPin is the minimum temperature after PromoteToSacred.
	PromotionPin = 90.0
)

// StageFor maps a temperature onto its stage band.
func StageFor(temperature float64) Stage {
	switch {
	case temperature >= WhiteHotThreshold:
		return StageWhiteHot
	case temperature >= HotThreshold:
		return StageHot
	case temperature >= WarmThreshold:
		return StageWarm
	default:
		return StageFresh
	}
}

// ThermalPolicy holds the tunable parameters of the decay-then-boost rule.
type ThermalPolicy struct {
	// HalfLife is the time for an untouched temperature to halve.
	HalfLife time.Duration
	// BoostPerAccess is the boost granted to a touch after a quiet period.
	BoostPerAccess float64
	// BoostWindow is the e-folding time of the recent-access rate.
	BoostWindow time.Duration
	// BoostDiminish controls how fast boosts shrink within a burst of touches.
	BoostDiminish float64
}

// DefaultThermalPolicy returns the policy used when nothing is configured.
func DefaultThermalPolicy() ThermalPolicy {
	return ThermalPolicy{
		HalfLife:       72 * time.Hour,
		BoostPerAccess: 5,
		BoostWindow:    time.Hour,
		BoostDiminish:  2,
	}
}

// Decay returns the multiplicative factor 0.5^(elapsed/HalfLife).
// It is 1 for non-positive elapsed time and never increases with elapsed.
func (p ThermalPolicy) Decay(elapsed time.Duration) float64 {
	if elapsed <= 0 || p.HalfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(elapsed)/float64(p.HalfLife))
}

// NextAccessRate ages the recent-access rate by elapsed and counts one more touch.
func (p ThermalPolicy) NextAccessRate(rate float64, elapsed time.Duration) float64 {
	if rate < 0 {
		rate = 0
	}
	if elapsed > 0 && p.BoostWindow > 0 {
		rate *= math.Exp(-float64(elapsed) / float64(p.BoostWindow))
	}
	return rate + 1
}

// AccessBoost returns the boost for a touch that brought the recent-access
// rate to rate. A touch after a quiet period (rate≈1) gets BoostPerAccess;
// touches in a burst get geometrically smaller boosts, so the total boost a
// burst can add is bounded by BoostBound.
func (p ThermalPolicy) AccessBoost(rate float64) float64 {
	if p.BoostPerAccess <= 0 {
		return 0
	}
	if rate < 1 {
		rate = 1
	}
	d := p.BoostDiminish
	if d <= 0 {
		d = 1
	}
	return p.BoostPerAccess * math.Exp(-(rate-1)/d)
}

// BoostBound is the upper bound on the total boost of any burst of touches.
func (p ThermalPolicy) BoostBound() float64 {
	d := p.BoostDiminish
	if d <= 0 {
		d = 1
	}
	return p.BoostPerAccess / (1 - math.Exp(-1/d))
}

// Floor returns the minimum temperature the record may hold.
func Floor(r *Record) float64 {
	if r.SacredPattern {
		return SacredFloor
	}
	return MinTemperature
}

// Restage clamps the temperature into range, applies the sacred floor and
// re-derives the stage. Every mutation of Temperature ends here.
func Restage(r *Record) {
	t := r.Temperature
	if math.IsNaN(t) {
		t = MinTemperature
	}
	t = max(t, Floor(r))
	t = min(max(t, MinTemperature), MaxTemperature)
	r.Temperature = t
	r.Stage = StageFor(t)
}

// ApplyTouch performs a read-with-touch: decay since the last thermal update,
// then the saturating access boost, then floor and restage.
func (p ThermalPolicy) ApplyTouch(r *Record, now time.Time) {
	r.AccessRate = p.NextAccessRate(r.AccessRate, now.Sub(r.LastAccess))
	decayed := r.Temperature * p.Decay(now.Sub(r.ThermalAt))
	r.Temperature = decayed + p.AccessBoost(r.AccessRate)
	r.AccessCount++
	r.LastAccess = now
	r.ThermalAt = now
	Restage(r)
}

// ApplyDecay cools a record that has not been touched, without counting an
// access. It reports whether the stored temperature changed.
func (p ThermalPolicy) ApplyDecay(r *Record, now time.Time) bool {
	before, stage := r.Temperature, r.Stage
	r.Temperature *= p.Decay(now.Sub(r.ThermalAt))
	r.ThermalAt = now
	Restage(r)
	return r.Temperature != before || r.Stage != stage
}

// NewRecord builds a fresh record from a validated request. The caller's
// temperature is a hint: AutoSacredThreshold forces SACRED access.
func NewRecord(req *WriteRequest, id string, now time.Time) *Record {
	r := &Record{
		ID:                id,
		MemoryHash:        req.MemoryHash,
		OriginalContent:   req.OriginalContent,
		CompressedContent: req.CompressedContent,
		Temperature:       req.Temperature,
		PhaseCoherence:    req.PhaseCoherence,
		DomainTag:         req.DomainTag,
		Tags:              normalizeSet(req.Tags),
		Metadata:          req.Metadata,
		SourceTriad:       req.SourceTriad,
		AccessLevel:       req.AccessLevel,
		AllowedTriads:     normalizeSet(req.AllowedTriads),
		CreatedAt:         now,
		LastAccess:        now,
		ThermalAt:         now,
		UpdatedAt:         now,
	}
	if r.AccessLevel == "" {
		r.AccessLevel = AccessTriadOnly
	}
	if r.MemoryHash == "" {
		r.MemoryHash = HashContent(r.Content())
	}
	if r.Temperature >= AutoSacredThreshold {
		r.AccessLevel = AccessSacred
	}
	r.Seal()
	Restage(r)
	return r
}

// MergeWrite applies a re-write of the same memory_hash onto the stored
// record. The last writer wins on payload and temperature; identity,
// ownership, creation time, access bookkeeping, SacredPattern and a SACRED
// access level survive. Only the owning triad may change the access level
// or allowed triads.
func MergeWrite(existing, incoming *Record, now time.Time) {
	existing.OriginalContent = incoming.OriginalContent
	existing.CompressedContent = incoming.CompressedContent
	existing.Temperature = incoming.Temperature
	existing.PhaseCoherence = incoming.PhaseCoherence
	existing.DomainTag = incoming.DomainTag
	existing.Tags = incoming.Tags
	existing.Metadata = incoming.Metadata
	switch {
	case incoming.SourceTriad == existing.SourceTriad:
		existing.AllowedTriads = incoming.AllowedTriads
		if existing.AccessLevel != AccessSacred {
			existing.AccessLevel = incoming.AccessLevel
		}
	case incoming.Temperature >= AutoSacredThreshold:
		// Another triad's rewrite keeps the owner's access settings, but
		// the auto-sacred override still applies.
		existing.AccessLevel = AccessSacred
	}
	existing.ThermalAt = now
	existing.UpdatedAt = now
	existing.Seal()
	Restage(existing)
}

// Promote pins a record as sacred regardless of its coherence or access
// history. Rationale tags accumulate.
func Promote(r *Record, rationale []string, now time.Time) {
	r.SacredPattern = true
	r.SacredTags = normalizeSet(slices.Concat(r.SacredTags, rationale))
	r.Temperature = max(r.Temperature, PromotionPin)
	r.AccessLevel = AccessSacred
	r.ThermalAt = now
	r.UpdatedAt = now
	Restage(r)
}

// ShouldFederate reports whether the record's state warrants a federation
// broadcast.
func ShouldFederate(r *Record) bool {
	return r.SacredPattern || r.Temperature >= AutoSacredThreshold
}

// Protection derives the protection state of a record.
func Protection(r *Record) string {
	switch {
	case r.SacredPattern:
		return "MANUALLY_SACRED"
	case r.AccessLevel == AccessSacred:
		return "AUTO_SACRED"
	default:
		return "UNPROTECTED"
	}
}

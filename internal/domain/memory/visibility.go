package memory

import (
	"regexp"
	"slices"
)

// VisibleTo reports whether triad may see r. SACRED and PUBLIC records are
// visible everywhere, a triad always sees its own records, and SPECIFIC
// records are visible to their allow-list. TRIAD_ONLY records are visible
// only to their source.
//
// The Postgres store evaluates the same predicate in SQL; this function is
// the reference implementation and the final filter before records leave
// the service.
func VisibleTo(r *Record, triad string) bool {
	if triad == "" {
		return false
	}
	switch {
	case r.AccessLevel == AccessPublic, r.AccessLevel == AccessSacred:
		return true
	case r.SourceTriad == triad:
		return true
	case r.AccessLevel == AccessSpecific:
		return slices.Contains(r.AllowedTriads, triad)
	default:
		return false
	}
}

// Matches reports whether r satisfies the non-visibility filters of q.
func (q *Query) Matches(r *Record) bool {
	if r.Temperature < q.MinTemp || r.Temperature > q.Upper() {
		return false
	}
	if q.SourceTriad != "" && r.SourceTriad != q.SourceTriad {
		return false
	}
	if len(q.Tags) > 0 && !slices.ContainsFunc(q.Tags, func(t string) bool {
		return slices.Contains(r.Tags, t)
	}) {
		return false
	}
	return true
}

// SortByHeat orders records by temperature descending, then by recency
// descending.
func SortByHeat(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		switch {
		case a.Temperature > b.Temperature:
			return -1
		case a.Temperature < b.Temperature:
			return 1
		}
		return b.LastAccess.Compare(a.LastAccess)
	})
}

var triadPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidTriad reports whether id is usable as a triad identifier. Triad ids
// become NATS subject tokens, so dots, wildcards and whitespace are refused.
func ValidTriad(id string) bool {
	return triadPattern.MatchString(id)
}

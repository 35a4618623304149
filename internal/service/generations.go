package service

import (
	"hash/fnv"
	"sync/atomic"
)

const generationStripes = 256

// generations counts invalidations per record id. Ids share striped
// counters, so a bump may also invalidate an unrelated in-flight load;
// that costs a cache fill, never correctness.
type generations struct {
	stripes [generationStripes]atomic.Uint64
}

func (g *generations) stripe(id string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &g.stripes[h.Sum32()%generationStripes]
}

func (g *generations) current(id string) uint64 {
	return g.stripe(id).Load()
}

func (g *generations) bump(id string) {
	g.stripe(id).Add(1)
}

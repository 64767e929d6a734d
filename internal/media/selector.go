// Package media picks the fixed-size subset of a run's media pool that is
// bound into its document.
package media

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/recapbook/api/internal/model"
)

// Select returns exactly k references from pool.
//
// With enough media it picks k distinct items; otherwise it takes every item
// once and pads with random repeats. Either way the result keeps the pool's
// chronological order. An empty pool yields k copies of model.NoMedia.
func Select(pool []model.MediaRef, k int, rng *rand.Rand) []model.MediaRef {
	if k <= 0 {
		return []model.MediaRef{}
	}
	out := make([]model.MediaRef, 0, k)
	if len(pool) == 0 {
		for range k {
			out = append(out, model.NoMedia)
		}
		return out
	}

	var idx []int
	if len(pool) >= k {
		idx = rng.Perm(len(pool))[:k]
	} else {
		idx = make([]int, 0, k)
		for i := range pool {
			idx = append(idx, i)
		}
		for len(idx) < k {
			idx = append(idx, rng.IntN(len(pool)))
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

// Seed derives a per-build random source from the run id and build time, so
// rebuilding a run reshuffles its media.
func Seed(runID string, at time.Time) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return rand.New(rand.NewPCG(h.Sum64(), uint64(at.UnixNano())))
}

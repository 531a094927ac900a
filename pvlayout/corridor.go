package pvlayout

import (
	"math"
)

// corridor is a free x interval within one rank: no node bounding box
// (inflated by the configured clearance) intersects it.
type corridor struct {
	lo, hi float64
}

func (c corridor) contains(x float64) bool {
	return x >= c.lo && x <= c.hi
}

// corridors scans a rank's nodes left to right and returns every gap wide
// enough to pass an edge through, including the unbounded gaps outside the
// row. Rows are kept sorted by x by the positioner.
func (sc *scope) corridors(rank int, opts *Opts) []corridor {
	var cors []corridor
	lo := math.Inf(-1)
	for _, n := range sc.rows[rank] {
		boxLo := n.Box.TopLeft.X - opts.CorridorClearance
		boxHi := n.Box.Right() + opts.CorridorClearance
		if boxLo-lo >= opts.MinCorridorWidth {
			cors = append(cors, corridor{lo: lo, hi: boxLo})
		}
		lo = math.Max(lo, boxHi)
	}
	return append(cors, corridor{lo: lo, hi: math.Inf(1)})
}

// clampToCorridors returns the point of the corridor set nearest to x. The
// outermost corridors are unbounded, so the result is always finite for
// finite x.
func clampToCorridors(x float64, cors []corridor) float64 {
	best := math.Inf(1)
	bestDist := math.Inf(1)
	for _, c := range cors {
		if c.contains(x) {
			return x
		}
		for _, bound := range [2]float64{c.lo, c.hi} {
			if math.IsInf(bound, 0) {
				continue
			}
			if d := math.Abs(bound - x); d < bestDist {
				bestDist = d
				best = bound
			}
		}
	}
	if math.IsInf(best, 0) {
		return x
	}
	return best
}

// intersectCorridors narrows an interval to the overlap of every rank's free
// space, preferring the corridor nearest to the preferred x at each rank. ok
// is false when the greedy choice runs out of overlap; the DP handles those.
func intersectCorridors(sets [][]corridor, preferred float64) (lo, hi float64, ok bool) {
	lo = math.Inf(-1)
	hi = math.Inf(1)
	for _, cors := range sets {
		bestLo, bestHi := 0.0, 0.0
		bestDist := math.Inf(1)
		found := false
		for _, c := range cors {
			cLo := math.Max(lo, c.lo)
			cHi := math.Min(hi, c.hi)
			if cLo > cHi {
				continue
			}
			dist := 0.0
			if preferred < cLo {
				dist = cLo - preferred
			} else if preferred > cHi {
				dist = preferred - cHi
			}
			if !found || dist < bestDist {
				bestLo, bestHi, bestDist = cLo, cHi, dist
				found = true
			}
		}
		if !found {
			return 0, 0, false
		}
		lo, hi = bestLo, bestHi
	}
	return lo, hi, true
}

package pvlayout

import (
	"context"
	"math"

	"cdr.dev/slog"
	"golang.org/x/exp/slices"

	"github.com/pipeviz/pipeviz/lib/geo"
	"github.com/pipeviz/pipeviz/lib/go2"
	"github.com/pipeviz/pipeviz/lib/log"
	"github.com/pipeviz/pipeviz/pvgraph"
)

const (
	// MAX_STRAIGHT_DEVIATION is how far a straight route may drift from the
	// edge's preferred x before the corridor search takes over.
	MAX_STRAIGHT_DEVIATION = 48.0
	// MAX_CANDIDATES caps the per-rank candidate set of the corridor search.
	MAX_CANDIDATES = 12
)

// routeEdges routes every scope edge: forward edges through rank corridors,
// feedback edges around the left gutter.
func (sc *scope) routeEdges(ctx context.Context, g *pvgraph.Graph, opts *Opts) {
	inCount := make(map[*pvgraph.Node]int)
	outCount := make(map[*pvgraph.Node]int)
	for _, e := range sc.edges {
		if e.edge.IsFeedback || e.src == e.dst {
			continue
		}
		outCount[e.src]++
		inCount[e.dst]++
	}

	for _, e := range sc.edges {
		if e.edge.IsFeedback || e.src == e.dst {
			sc.routeFeedback(e, opts)
			continue
		}
		sc.routeForward(ctx, g, e, opts, outCount[e.src] >= 2, inCount[e.dst] >= 2)
	}
}

func (sc *scope) routeForward(ctx context.Context, g *pvgraph.Graph, e *edgeRef, opts *Opts, diverges, converges bool) {
	src, dst := e.src, e.dst
	srcX := src.CenterX()
	dstX := dst.CenterX()

	startY := opts.visibleBottom(src)
	endY := opts.visibleTop(dst)

	// Stems anchor the route at the drawn node boundary; shared convergence
	// and divergence points sit at a fixed offset so merging edges meet at
	// one waypoint.
	srcJoinY := startY + opts.StemLength
	if diverges {
		srcJoinY = startY + opts.ConvergenceOffset
	}
	dstJoinY := endY - opts.StemLength
	if converges {
		dstJoinY = endY - opts.ConvergenceOffset
	}

	route := geo.Route{
		geo.NewPoint(srcX, startY),
		geo.NewPoint(srcX, srcJoinY),
	}

	if dst.Rank-src.Rank > 1 {
		waypoints, collided := sc.corridorPath(e, srcX, dstX, srcJoinY, dstJoinY, opts)
		if collided {
			g.Stats.CollisionFallbacks++
			e.edge.Collision = true
			log.Debug(ctx, "no collision-free corridor path, using straight fallback",
				slog.F("edge", e.edge.ID))
		} else {
			route = append(route, waypoints...)
		}
	}

	route = append(route,
		geo.NewPoint(dstX, dstJoinY),
		geo.NewPoint(dstX, endY),
	)

	route = route.TrimCollinear()
	clampMonotonicY(route)
	e.edge.Route = route
}

// corridorPath picks one x per intermediate rank. It first tries a straight
// vertical run through the intersection of all corridors, then falls back to
// a forward dynamic program over per-rank candidate sets. collided is true
// when even the best path still cuts through a node box.
func (sc *scope) corridorPath(e *edgeRef, srcX, dstX, srcJoinY, dstJoinY float64, opts *Opts) (geo.Route, bool) {
	src, dst := e.src, e.dst
	ranks := make([]int, 0, dst.Rank-src.Rank-1)
	for r := src.Rank + 1; r < dst.Rank; r++ {
		ranks = append(ranks, r)
	}

	sets := make([][]corridor, len(ranks))
	for i, r := range ranks {
		sets[i] = sc.corridors(r, opts)
	}

	preferred := srcX

	// Fast path: one x that passes every rank near the preferred line.
	if lo, hi, ok := intersectCorridors(sets, preferred); ok {
		x := geo.Clamp(preferred, lo, hi)
		if math.Abs(x-preferred) <= MAX_STRAIGHT_DEVIATION {
			route := make(geo.Route, len(ranks))
			for i, r := range ranks {
				route[i] = geo.NewPoint(x, sc.rowCenterY(r))
			}
			return route, false
		}
	}

	cands := make([][]float64, len(ranks))
	for i := range ranks {
		cands[i] = sc.candidateXs(sets, i, preferred, dstX, opts)
	}

	xs, collisions := sc.solvePath(ranks, cands, srcX, dstX, srcJoinY, dstJoinY, opts)
	if collisions > 0 {
		return nil, true
	}

	// Snap near-identical consecutive x values to suppress visual jitter, as
	// long as the snapped value stays inside the rank's corridor.
	for i := 1; i < len(xs); i++ {
		if math.Abs(xs[i]-xs[i-1]) >= opts.MicroSnapThreshold {
			continue
		}
		for _, c := range sets[i] {
			if c.contains(xs[i-1]) {
				xs[i] = xs[i-1]
				break
			}
		}
	}

	route := make(geo.Route, len(ranks))
	for i, r := range ranks {
		route[i] = geo.NewPoint(xs[i], sc.rowCenterY(r))
	}
	return route, false
}

// candidateXs builds the candidate x set for intermediate rank i: the
// preferred line, the target line, this rank's corridor bounds, and the
// neighboring ranks' corridor bounds clamped into this rank's free space.
func (sc *scope) candidateXs(sets [][]corridor, i int, preferred, dstX float64, opts *Opts) []float64 {
	cors := sets[i]
	var cands []float64

	add := func(x float64) {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return
		}
		x = clampToCorridors(x, cors)
		for _, c := range cands {
			if math.Abs(c-x) < 0.5 {
				return
			}
		}
		cands = append(cands, x)
	}

	add(preferred)
	add(dstX)
	for _, c := range cors {
		add(c.lo)
		add(c.hi)
	}
	for _, j := range [2]int{i - 1, i + 1} {
		if j < 0 || j >= len(sets) {
			continue
		}
		for _, c := range sets[j] {
			add(c.lo)
			add(c.hi)
		}
	}

	slices.Sort(cands)
	if len(cands) > MAX_CANDIDATES {
		cands = cands[:MAX_CANDIDATES]
	}
	return cands
}

// solvePath runs the forward dynamic program. State cost combines the
// maximum turn angle seen so far, the count of non-trivial lateral moves, and
// a heavy penalty per segment that still intersects a node box.
func (sc *scope) solvePath(ranks []int, cands [][]float64, srcX, dstX, srcJoinY, dstJoinY float64, opts *Opts) ([]float64, int) {
	type state struct {
		angle float64
		moves int
		cols  int
		back  int
	}
	cost := func(s state) float64 {
		return opts.CornerAngleWeight*s.angle +
			opts.CurveCountWeight*float64(s.moves) +
			opts.CollisionPenalty*float64(s.cols)
	}

	segment := func(x1, y1 float64, r1 int, x2, y2 float64, r2 int) (angle float64, move, col int) {
		dx := x2 - x1
		dy := y2 - y1
		angle = math.Atan2(math.Abs(dx), math.Max(dy, 1e-3))
		if math.Abs(dx) > opts.MicroSnapThreshold {
			move = 1
		}
		if sc.segmentCollides(geo.NewPoint(x1, y1), geo.NewPoint(x2, y2), r1, r2) {
			col = 1
		}
		return angle, move, col
	}

	states := make([][]state, len(ranks))
	for i := range ranks {
		states[i] = make([]state, len(cands[i]))
	}

	for k, x := range cands[0] {
		angle, move, col := segment(srcX, srcJoinY, ranks[0]-1, x, sc.rowCenterY(ranks[0]), ranks[0])
		states[0][k] = state{angle: angle, moves: move, cols: col, back: -1}
	}

	for i := 1; i < len(ranks); i++ {
		y1 := sc.rowCenterY(ranks[i-1])
		y2 := sc.rowCenterY(ranks[i])
		for k, x := range cands[i] {
			best := state{}
			bestCost := math.Inf(1)
			for p, px := range cands[i-1] {
				angle, move, col := segment(px, y1, ranks[i-1], x, y2, ranks[i])
				next := state{
					angle: math.Max(states[i-1][p].angle, angle),
					moves: states[i-1][p].moves + move,
					cols:  states[i-1][p].cols + col,
					back:  p,
				}
				if c := cost(next); c < bestCost {
					bestCost = c
					best = next
				}
			}
			states[i][k] = best
		}
	}

	// Termination: account for the final segment into the target stem.
	last := len(ranks) - 1
	bestEnd := -1
	bestCost := math.Inf(1)
	var bestState state
	for k, x := range cands[last] {
		angle, move, col := segment(x, sc.rowCenterY(ranks[last]), ranks[last], dstX, dstJoinY, ranks[last]+1)
		final := state{
			angle: math.Max(states[last][k].angle, angle),
			moves: states[last][k].moves + move,
			cols:  states[last][k].cols + col,
			back:  k,
		}
		if c := cost(final); c < bestCost {
			bestCost = c
			bestEnd = k
			bestState = final
		}
	}

	xs := make([]float64, len(ranks))
	at := bestEnd
	for i := last; i >= 0; i-- {
		xs[i] = cands[i][at]
		at = states[i][at].back
	}
	return xs, bestState.cols
}

// segmentCollides checks the segment against the node boxes of every rank it
// crosses. A waypoint can sit inside its own rank's corridor while the
// diagonal into it still clips a neighbor's box.
func (sc *scope) segmentCollides(p1, p2 *geo.Point, r1, r2 int) bool {
	seg := geo.Segment{Start: p1, End: p2}
	lo := r1
	hi := r2
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = go2.Max(0, lo)
	hi = go2.Min(len(sc.rows)-1, hi)
	for r := lo; r <= hi; r++ {
		for _, n := range sc.rows[r] {
			if n.Box.IntersectsSegment(seg) {
				return true
			}
		}
	}
	return false
}

// clampMonotonicY forces waypoints forward in y, so routed forward edges
// never double back vertically.
func clampMonotonicY(route geo.Route) {
	maxY := math.Inf(-1)
	for _, p := range route {
		if p.Y < maxY {
			p.Y = maxY
		} else {
			maxY = p.Y
		}
	}
}

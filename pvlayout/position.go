package pvlayout

import (
	"context"
	"math"

	"cdr.dev/slog"
	"golang.org/x/exp/slices"

	"github.com/pipeviz/pipeviz/lib/geo"
	"github.com/pipeviz/pipeviz/lib/log"
	"github.com/pipeviz/pipeviz/pvgraph"
)

const (
	BARYCENTER_PASSES = 5    // sink-side seeding passes
	CROSS_PUSH_FACTOR = 0.08 // fraction of column spacing per crossing nudge
	ALIGN_FACTOR      = 0.15 // damping for the parallel alignment pull

	PROXY_WEIGHT         = 1.0
	BRANCH_WEIGHT        = 0.85
	FUNCTION_WEIGHT      = 0.5
	SINGLE_TARGET_WEIGHT = 0.25
)

// positionRows assigns an x center to every node of the scope: barycenter
// seeding, 3-sweep ordering, soft relaxation, the authoritative separation
// solve, and role-based centering.
func (sc *scope) positionRows(ctx context.Context, g *pvgraph.Graph, opts *Opts) {
	xs := make([]float64, len(sc.nodes))

	sc.seedPositions(xs, opts)
	sc.orderRows(xs, opts)
	sc.relax(xs, opts)
	sc.separate(ctx, g, xs, opts)
	sc.centerRoles(xs, opts)

	for i, n := range sc.nodes {
		n.SetCenterX(xs[i])
	}
}

// seedPositions spaces leaf nodes evenly, then repeatedly pulls every
// internal node to the mean x of its successors so the initial ordering
// already reflects the sink side of the graph.
func (sc *scope) seedPositions(xs []float64, opts *Opts) {
	cursor := 0.0
	first := true
	for i, n := range sc.nodes {
		if sc.forwardOutDegree(i) > 0 {
			continue
		}
		if !first {
			cursor += opts.ColumnSpacing * opts.SpreadFactor
			cursor += n.Box.Width / 2
		}
		xs[i] = cursor
		cursor += n.Box.Width/2 + opts.ColumnSpacing*opts.SpreadFactor
		first = false
	}

	for pass := 0; pass < BARYCENTER_PASSES; pass++ {
		for i := range sc.nodes {
			sum, count := 0.0, 0
			for _, e := range sc.out[i] {
				if e.edge.IsFeedback || e.src == e.dst {
					continue
				}
				sum += xs[sc.index[e.dst]]
				count++
			}
			if count > 0 {
				xs[i] = sum / float64(count)
			}
		}
	}
}

func (sc *scope) forwardOutDegree(i int) int {
	d := 0
	for _, e := range sc.out[i] {
		if !e.edge.IsFeedback && e.src != e.dst {
			d++
		}
	}
	return d
}

// orderRows runs the standard 3-sweep barycenter ordering: one sweep keyed on
// successors, then two sweeps keyed on a weighted average of both neighbor
// ranks. After each sort the row is re-laid at consecutive positions centered
// on its barycenter mean.
func (sc *scope) orderRows(xs []float64, opts *Opts) {
	keys := make([]float64, len(sc.nodes))

	sortRow := func(row []*pvgraph.Node) {
		slices.SortStableFunc(row, func(a, b *pvgraph.Node) bool {
			return keys[sc.index[a]] < keys[sc.index[b]]
		})

		total := 0.0
		mean := 0.0
		for _, n := range row {
			total += n.Box.Width + opts.ColumnSpacing
			mean += keys[sc.index[n]]
		}
		total -= opts.ColumnSpacing
		mean /= float64(len(row))

		cursor := mean - total/2
		for _, n := range row {
			xs[sc.index[n]] = cursor + n.Box.Width/2
			cursor += n.Box.Width + opts.ColumnSpacing
		}
	}

	succKey := func(i int) float64 {
		sum, count := 0.0, 0
		for _, e := range sc.out[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			sum += xs[sc.index[e.dst]]
			count++
		}
		if count == 0 {
			return xs[i]
		}
		return sum / float64(count)
	}
	bothKey := func(i int) float64 {
		sum, weight := 0.0, 0.0
		for _, e := range sc.in[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			// Predecessors dominate on upward sweeps.
			sum += 2 * xs[sc.index[e.src]]
			weight += 2
		}
		for _, e := range sc.out[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			sum += xs[sc.index[e.dst]]
			weight++
		}
		if weight == 0 {
			return xs[i]
		}
		return sum / weight
	}

	// Downward sweep from the sinks.
	for r := len(sc.rows) - 1; r >= 0; r-- {
		for _, n := range sc.rows[r] {
			keys[sc.index[n]] = succKey(sc.index[n])
		}
		sortRow(sc.rows[r])
	}
	// Two upward sweeps with bidirectional averages.
	for sweep := 0; sweep < 2; sweep++ {
		for r := 0; r < len(sc.rows); r++ {
			for _, n := range sc.rows[r] {
				keys[sc.index[n]] = bothKey(sc.index[n])
			}
			sortRow(sc.rows[r])
		}
	}
}

// relax runs the soft iterations: crossing edges repel each other's endpoints
// and every edge pulls its endpoints toward a shared vertical.
func (sc *scope) relax(xs []float64, opts *Opts) {
	type span struct {
		e        *edgeRef
		lo, hi   int
		src, dst int
	}
	var spans []span
	for _, e := range sc.edges {
		if e.edge.IsFeedback || e.src == e.dst {
			continue
		}
		spans = append(spans, span{
			e:   e,
			lo:  e.src.Rank,
			hi:  e.dst.Rank,
			src: sc.index[e.src],
			dst: sc.index[e.dst],
		})
	}

	degree := func(i int) float64 {
		return math.Max(1, float64(len(sc.in[i])+len(sc.out[i])))
	}
	push := opts.ColumnSpacing * CROSS_PUSH_FACTOR

	for iter := 0; iter < opts.RelaxIterations; iter++ {
		// (a) crossing avoidance
		for i := 0; i < len(spans); i++ {
			for j := i + 1; j < len(spans); j++ {
				a, b := spans[i], spans[j]
				if a.lo >= b.hi || b.lo >= a.hi {
					continue
				}
				ds := xs[a.src] - xs[b.src]
				dd := xs[a.dst] - xs[b.dst]
				if ds*dd >= 0 {
					continue
				}
				// Endpoints are ordered one way at the top and the other way
				// at the bottom: spread all four apart.
				nudge := func(left, right int) {
					xs[left] -= push / degree(left)
					xs[right] += push / degree(right)
				}
				if ds < 0 {
					nudge(a.src, b.src)
					nudge(b.dst, a.dst)
				} else {
					nudge(b.src, a.src)
					nudge(a.dst, b.dst)
				}
			}
		}

		// (b) parallel alignment
		for _, s := range spans {
			dx := xs[s.dst] - xs[s.src]
			xs[s.src] += dx * ALIGN_FACTOR / math.Max(1, degree(s.src)-2)
			xs[s.dst] -= dx * ALIGN_FACTOR / math.Max(1, degree(s.dst)-2)
		}
	}
}

// separate is the authoritative non-overlap solve. Every adjacent pair in
// every rank must satisfy the separation constraint afterwards; individually
// infeasible constraints (non-finite geometry) are skipped and counted, never
// raised.
func (sc *scope) separate(ctx context.Context, g *pvgraph.Graph, xs []float64, opts *Opts) {
	skipped := 0

	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) {
			xs[i] = 0
			skipped++
		}
	}

	for _, row := range sc.rows {
		if len(row) <= 1 {
			continue
		}
		order := append([]*pvgraph.Node(nil), row...)
		slices.SortStableFunc(order, func(a, b *pvgraph.Node) bool {
			return xs[sc.index[a]] < xs[sc.index[b]]
		})

		before := 0.0
		for _, n := range order {
			before += xs[sc.index[n]]
		}

		for k := 1; k < len(order); k++ {
			left := order[k-1]
			right := order[k]
			need := left.Box.Width/2 + opts.ColumnSpacing + right.Box.Width/2
			if math.IsNaN(need) || math.IsInf(need, 0) {
				skipped++
				continue
			}
			li := sc.index[left]
			ri := sc.index[right]
			if xs[ri]-xs[li] < need {
				xs[ri] = xs[li] + need
			}
		}

		// The sweep only pushes right; re-center the row so the solve does
		// not drift the whole layout.
		after := 0.0
		for _, n := range order {
			after += xs[sc.index[n]]
		}
		shift := (after - before) / float64(len(order))
		for _, n := range order {
			xs[sc.index[n]] -= shift
		}

		// Keep the row totally ordered for later passes.
		sc.sortRowByX(row, xs)
	}

	if skipped > 0 {
		g.Stats.SkippedConstraints += skipped
		log.Warn(ctx, "skipped infeasible separation constraints", slog.F("count", skipped))
	}
}

func (sc *scope) sortRowByX(row []*pvgraph.Node, xs []float64) {
	slices.SortStableFunc(row, func(a, b *pvgraph.Node) bool {
		return xs[sc.index[a]] < xs[sc.index[b]]
	})
}

// centerRoles applies the damped centering passes in priority order. Each
// move is clamped to the free space left by the node's row neighbors so the
// separation solve stays satisfied.
func (sc *scope) centerRoles(xs []float64, opts *Opts) {
	claimed := make([]bool, len(sc.nodes))

	apply := func(match func(i int, n *pvgraph.Node) (desired float64, ok bool), weight float64) {
		for _, row := range sc.rows {
			for j, n := range row {
				i := sc.index[n]
				if claimed[i] {
					continue
				}
				desired, ok := match(i, n)
				if !ok {
					continue
				}
				claimed[i] = true

				lo := math.Inf(-1)
				hi := math.Inf(1)
				if j > 0 {
					left := row[j-1]
					lo = xs[sc.index[left]] + left.Box.Width/2 + opts.ColumnSpacing + n.Box.Width/2
				}
				if j < len(row)-1 {
					right := row[j+1]
					hi = xs[sc.index[right]] - right.Box.Width/2 - opts.ColumnSpacing - n.Box.Width/2
				}
				if lo > hi {
					continue
				}
				target := geo.Clamp(desired, lo, hi)
				xs[i] += weight * (target - xs[i])
			}
		}
	}

	targets := func(i int) []int {
		var out []int
		for _, e := range sc.out[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			out = append(out, sc.index[e.dst])
		}
		return out
	}
	producers := func(i int) []int {
		var in []int
		for _, e := range sc.in[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			in = append(in, sc.index[e.src])
		}
		return in
	}
	targetMid := func(ts []int) float64 {
		lo := math.Inf(1)
		hi := math.Inf(-1)
		for _, t := range ts {
			lo = math.Min(lo, xs[t])
			hi = math.Max(hi, xs[t])
		}
		return (lo + hi) / 2
	}

	// Proxies sit directly under their single producer.
	apply(func(i int, n *pvgraph.Node) (float64, bool) {
		if n.Kind != pvgraph.KindProxy {
			return 0, false
		}
		ps := producers(i)
		if len(ps) != 1 {
			return 0, false
		}
		return xs[ps[0]], true
	}, PROXY_WEIGHT)

	// Branch nodes center over the spread of their fan-out.
	apply(func(i int, n *pvgraph.Node) (float64, bool) {
		if n.Kind != pvgraph.KindBranch {
			return 0, false
		}
		ts := targets(i)
		if len(ts) < 2 {
			return 0, false
		}
		return targetMid(ts), true
	}, BRANCH_WEIGHT)

	// Function-like nodes do the same with less force.
	apply(func(i int, n *pvgraph.Node) (float64, bool) {
		ts := targets(i)
		if len(ts) < 2 {
			return 0, false
		}
		return targetMid(ts), true
	}, FUNCTION_WEIGHT)

	// Anything with one target drifts gently toward it.
	apply(func(i int, n *pvgraph.Node) (float64, bool) {
		ts := targets(i)
		if len(ts) != 1 {
			return 0, false
		}
		return xs[ts[0]], true
	}, SINGLE_TARGET_WEIGHT)
}

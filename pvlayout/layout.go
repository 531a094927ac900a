// Package pvlayout implements the layered layout and edge routing engine:
// feedback detection, rank assignment, horizontal positioning, corridor-based
// routing, and recursive composition of nested containers.
package pvlayout

import (
	"context"
	"math"

	"cdr.dev/slog"
	"oss.terrastruct.com/xdefer"

	"github.com/pipeviz/pipeviz/lib/geo"
	"github.com/pipeviz/pipeviz/lib/go2"
	"github.com/pipeviz/pipeviz/lib/log"
	"github.com/pipeviz/pipeviz/pvgraph"
)

// Layout positions every visible node of g and routes every visible edge.
// Expanded containers are laid out deepest first so parents can be sized from
// their children; final coordinates are composed top-down into absolute space
// with the overall top-left at the origin.
func Layout(ctx context.Context, g *pvgraph.Graph, opts *Opts) (err error) {
	defer xdefer.Errorf(&err, "layered layout failed")

	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	if err := opts.validate(); err != nil {
		return err
	}

	applyRedirects(ctx, g, opts)

	scopes := buildScopes(g)
	for _, sc := range scopes {
		sc.run(ctx, g, opts)
	}
	composeAbsolute(scopes, opts)

	return nil
}

// scope is one layout unit: the direct children of an expanded container, or
// the root-level node set. Each scope owns its own arena indices, adjacency,
// and rank rows; coordinates are scope-local until composition.
type scope struct {
	// owner is the container being laid out, nil for the root level.
	owner *pvgraph.Node

	nodes []*pvgraph.Node
	edges []*edgeRef
	index map[*pvgraph.Node]int

	in  [][]*edgeRef
	out [][]*edgeRef

	rows      [][]*pvgraph.Node
	rowTop    []float64
	rowHeight []float64
}

// edgeRef is an edge resolved into a scope: src and dst are the scope-local
// representatives of the edge's (possibly nested or redirected) endpoints.
type edgeRef struct {
	edge *pvgraph.Edge
	src  *pvgraph.Node
	dst  *pvgraph.Node
}

func (sc *scope) run(ctx context.Context, g *pvgraph.Graph, opts *Opts) {
	ctx = log.Named(ctx, "scope")
	if sc.owner != nil {
		ctx = log.Named(ctx, sc.owner.ID)
	}

	if len(sc.nodes) == 0 {
		return
	}

	sc.buildAdjacency()
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(opts)
	sc.positionRows(ctx, g, opts)
	sc.routeEdges(ctx, g, opts)
	sc.normalize(opts)
}

func (sc *scope) buildAdjacency() {
	sc.index = make(map[*pvgraph.Node]int, len(sc.nodes))
	for i, n := range sc.nodes {
		sc.index[n] = i
	}
	sc.in = make([][]*edgeRef, len(sc.nodes))
	sc.out = make([][]*edgeRef, len(sc.nodes))
	for _, e := range sc.edges {
		sc.out[sc.index[e.src]] = append(sc.out[sc.index[e.src]], e)
		sc.in[sc.index[e.dst]] = append(sc.in[sc.index[e.dst]], e)
	}
}

// buildRows groups nodes into rank rows ordered left-to-right and stacks the
// rows vertically, centering each node within its row band.
func (sc *scope) buildRows(opts *Opts) {
	maxRank := 0
	for _, n := range sc.nodes {
		maxRank = go2.Max(maxRank, n.Rank)
	}
	sc.rows = make([][]*pvgraph.Node, maxRank+1)
	for _, n := range sc.nodes {
		sc.rows[n.Rank] = append(sc.rows[n.Rank], n)
	}

	sc.rowTop = make([]float64, len(sc.rows))
	sc.rowHeight = make([]float64, len(sc.rows))
	y := 0.0
	for r, row := range sc.rows {
		rowHeight := 0.0
		for _, n := range row {
			rowHeight = math.Max(rowHeight, n.Box.Height)
		}
		sc.rowTop[r] = y
		sc.rowHeight[r] = rowHeight
		for _, n := range row {
			n.Box.TopLeft.Y = y + (rowHeight-n.Box.Height)/2
		}
		y += rowHeight + opts.RankGap
	}
}

func (sc *scope) rowCenterY(rank int) float64 {
	return sc.rowTop[rank] + sc.rowHeight[rank]/2
}

// normalize shifts the scope layout so its content bounding box starts at the
// origin, then sizes the owning container from the content plus padding and
// header allowance.
func (sc *scope) normalize(opts *Opts) {
	minX := math.Inf(1)
	minY := math.Inf(1)
	maxX := math.Inf(-1)
	maxY := math.Inf(-1)

	for _, n := range sc.nodes {
		minX = math.Min(minX, n.Box.TopLeft.X)
		minY = math.Min(minY, n.Box.TopLeft.Y)
		maxX = math.Max(maxX, n.Box.Right())
		maxY = math.Max(maxY, n.Box.Bottom())
	}
	// Feedback gutters and corridor detours can poke out past the node field;
	// the container must still enclose them.
	for _, e := range sc.edges {
		if len(e.edge.Route) == 0 {
			continue
		}
		tl, br := e.edge.Route.GetBoundingBox()
		minX = math.Min(minX, tl.X)
		minY = math.Min(minY, tl.Y)
		maxX = math.Max(maxX, br.X)
		maxY = math.Max(maxY, br.Y)
	}

	for _, n := range sc.nodes {
		n.Box.TopLeft.X -= minX
		n.Box.TopLeft.Y -= minY
	}
	for _, e := range sc.edges {
		e.edge.Route.Move(-minX, -minY)
	}

	if sc.owner != nil {
		sc.owner.Box.Width = (maxX - minX) + 2*opts.Padding
		sc.owner.Box.Height = (maxY - minY) + opts.Padding + opts.HeaderHeight
	}
}

// buildScopes resolves every edge into the deepest scope whose direct child
// set contains representatives of both endpoints, and returns all scopes
// ordered deepest first with the root scope last.
func buildScopes(g *pvgraph.Graph) []*scope {
	containers := g.Containers()

	scopes := make([]*scope, 0, len(containers)+1)
	byOwner := make(map[*pvgraph.Node]*scope, len(containers)+1)
	for _, c := range containers {
		sc := &scope{owner: c}
		byOwner[c] = sc
		scopes = append(scopes, sc)
	}
	root := &scope{}
	byOwner[nil] = root
	scopes = append(scopes, root)

	for _, n := range g.Nodes {
		if n.IsHidden() {
			continue
		}
		if sc, ok := byOwner[n.Parent]; ok {
			sc.nodes = append(sc.nodes, n)
		}
	}

	for _, e := range g.Edges {
		src := e.ResolvedSrc.VisibleRep()
		dst := e.ResolvedDst.VisibleRep()

		lca := lowestCommonContainer(src, dst)
		sc, ok := byOwner[lca]
		if !ok {
			// Endpoint inside a container that is itself hidden.
			continue
		}
		srcRep := src.AncestorChildOf(lca)
		dstRep := dst.AncestorChildOf(lca)
		if srcRep == nil || dstRep == nil {
			continue
		}
		// Both endpoints collapse into the same representative: the edge runs
		// entirely inside a collapsed container and has nothing to draw.
		// Genuine self-loops keep their loop route.
		if srcRep == dstRep && e.Src != e.Dst {
			continue
		}
		if srcRep != e.Src || dstRep != e.Dst {
			e.CrossBoundary = true
		}
		sc.edges = append(sc.edges, &edgeRef{edge: e, src: srcRep, dst: dstRep})
	}

	return scopes
}

func lowestCommonContainer(a, b *pvgraph.Node) *pvgraph.Node {
	ancestors := make(map[*pvgraph.Node]struct{})
	for p := a.Parent; p != nil; p = p.Parent {
		ancestors[p] = struct{}{}
	}
	for p := b.Parent; p != nil; p = p.Parent {
		if _, ok := ancestors[p]; ok {
			return p
		}
	}
	return nil
}

// applyRedirects rewires edges whose logical endpoints are hidden to their
// caller-supplied visible stand-ins. A candidate that turns out to be an
// ancestor of the edge's own source would route the edge back into itself, so
// the original endpoint is kept in that case.
func applyRedirects(ctx context.Context, g *pvgraph.Graph, opts *Opts) {
	for _, e := range g.Edges {
		if e.Src.IsHidden() {
			if id, ok := opts.Redirects.Producer[e.Src.ID]; ok {
				if cand := g.Node(id); cand != nil && cand != e.Src && !e.Src.IsDescendantOf(cand) {
					e.ResolvedSrc = cand
					log.Debug(ctx, "redirected edge source",
						slog.F("edge", e.ID), slog.F("to", cand.ID))
				}
			}
		}
		if e.Dst.IsHidden() {
			if id, ok := opts.Redirects.Consumer[e.Dst.ID]; ok {
				if cand := g.Node(id); cand != nil && cand != e.Src && !e.Src.IsDescendantOf(cand) {
					e.ResolvedDst = cand
					log.Debug(ctx, "redirected edge target",
						slog.F("edge", e.ID), slog.F("to", cand.ID))
				}
			}
		}
	}
}

// composeAbsolute converts scope-local coordinates into absolute space,
// walking containers from the outside in. By the time a scope is visited its
// owner already has an absolute position.
func composeAbsolute(scopes []*scope, opts *Opts) {
	// scopes is deepest-first with the root last; compose in reverse.
	for i := len(scopes) - 1; i >= 0; i-- {
		sc := scopes[i]
		if sc.owner == nil {
			continue
		}
		dx := sc.owner.Box.TopLeft.X + opts.Padding
		dy := sc.owner.Box.TopLeft.Y + opts.HeaderHeight
		for _, n := range sc.nodes {
			n.Box.TopLeft.X += dx
			n.Box.TopLeft.Y += dy
		}
		for _, e := range sc.edges {
			e.edge.Route.Move(dx, dy)
		}
	}
}

// Bounds returns the bounding box of all visible nodes and routes in absolute
// space.
func Bounds(g *pvgraph.Graph) (tl *geo.Point, width, height float64) {
	minX := math.Inf(1)
	minY := math.Inf(1)
	maxX := math.Inf(-1)
	maxY := math.Inf(-1)

	for _, n := range g.Nodes {
		if n.IsHidden() {
			continue
		}
		minX = math.Min(minX, n.Box.TopLeft.X)
		minY = math.Min(minY, n.Box.TopLeft.Y)
		maxX = math.Max(maxX, n.Box.Right())
		maxY = math.Max(maxY, n.Box.Bottom())
	}
	for _, e := range g.Edges {
		if len(e.Route) == 0 {
			continue
		}
		rtl, rbr := e.Route.GetBoundingBox()
		minX = math.Min(minX, rtl.X)
		minY = math.Min(minY, rtl.Y)
		maxX = math.Max(maxX, rbr.X)
		maxY = math.Max(maxY, rbr.Y)
	}

	if math.IsInf(minX, 1) {
		return geo.NewPoint(0, 0), 0, 0
	}
	return geo.NewPoint(minX, minY), maxX - minX, maxY - minY
}

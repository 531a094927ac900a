package pvlayout

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeviz/pipeviz/lib/geo"
	"github.com/pipeviz/pipeviz/lib/log"
	"github.com/pipeviz/pipeviz/pvgraph"
)

// chain builds a root-level graph from id pairs and returns its root scope
// with adjacency ready.
func buildRootScope(t *testing.T, nodes []string, edges [][2]string) (*pvgraph.Graph, *scope) {
	g := pvgraph.NewGraph()
	for _, id := range nodes {
		g.AddNode(id, pvgraph.KindDefault, 100, 50)
	}
	for _, pair := range edges {
		_, err := g.Connect(pair[0]+"->"+pair[1], pair[0], pair[1])
		require.NoError(t, err)
	}
	scopes := buildScopes(g)
	sc := scopes[len(scopes)-1]
	require.Nil(t, sc.owner)
	sc.buildAdjacency()
	return g, sc
}

func feedbackIDs(sc *scope) []string {
	var ids []string
	for _, e := range sc.edges {
		if e.edge.IsFeedback {
			ids = append(ids, e.edge.ID)
		}
	}
	return ids
}

func TestMarkFeedbackTwoCycle(t *testing.T) {
	_, sc := buildRootScope(t,
		[]string{"A", "B"},
		[][2]string{{"A", "B"}, {"B", "A"}},
	)
	sc.markFeedback()
	assert.Equal(t, []string{"B->A"}, feedbackIDs(sc))
}

func TestMarkFeedbackSelfLoop(t *testing.T) {
	_, sc := buildRootScope(t,
		[]string{"A"},
		[][2]string{{"A", "A"}},
	)
	sc.markFeedback()
	assert.Equal(t, []string{"A->A"}, feedbackIDs(sc))
}

// Two overlapping cycles sharing node B: each must lose exactly one edge, and
// the shared forward edges stay forward.
//
//	A ─► B ─► C ─► A
//	     B ─► D ─► B
func TestMarkFeedbackOverlappingCycles(t *testing.T) {
	_, sc := buildRootScope(t,
		[]string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}, {"B", "D"}, {"D", "B"}},
	)
	sc.markFeedback()
	assert.Equal(t, []string{"C->A", "D->B"}, feedbackIDs(sc))

	sc.assignRanks()
	for _, e := range sc.edges {
		if e.edge.IsFeedback {
			continue
		}
		assert.Greater(t, e.dst.Rank, e.src.Rank, "forward edge %s", e.edge.ID)
	}
}

func TestMarkFeedbackDeterministic(t *testing.T) {
	build := func() []string {
		_, sc := buildRootScope(t,
			[]string{"A", "B", "C", "D", "E"},
			[][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}, {"D", "B"}, {"D", "E"}, {"E", "A"}},
		)
		sc.markFeedback()
		return feedbackIDs(sc)
	}
	assert.Equal(t, build(), build())
}

func TestAssignRanksChain(t *testing.T) {
	g, sc := buildRootScope(t,
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}},
	)
	sc.markFeedback()
	sc.assignRanks()
	assert.Equal(t, 0, g.Node("A").Rank)
	assert.Equal(t, 1, g.Node("B").Rank)
	assert.Equal(t, 2, g.Node("C").Rank)
}

// A reaches C directly and through B; the longest path wins, so C sits two
// ranks down and the short edge spans two rank bands.
func TestAssignRanksLongestPath(t *testing.T) {
	g, sc := buildRootScope(t,
		[]string{"A", "B", "C"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"A", "C"}},
	)
	sc.markFeedback()
	sc.assignRanks()
	assert.Equal(t, 0, g.Node("A").Rank)
	assert.Equal(t, 1, g.Node("B").Rank)
	assert.Equal(t, 2, g.Node("C").Rank)
}

func TestAssignRanksIgnoresFeedback(t *testing.T) {
	g, sc := buildRootScope(t,
		[]string{"A", "B"},
		[][2]string{{"A", "B"}, {"B", "A"}},
	)
	sc.markFeedback()
	sc.assignRanks()
	assert.Equal(t, 0, g.Node("A").Rank)
	assert.Equal(t, 1, g.Node("B").Rank)
}

func TestSeparationHoldsInEveryRow(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g, sc := buildRootScope(t,
		[]string{"P1", "P2", "P3", "P4", "Z"},
		[][2]string{{"P1", "Z"}, {"P2", "Z"}, {"P3", "Z"}, {"P4", "Z"}},
	)
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)

	for _, row := range sc.rows {
		for k := 1; k < len(row); k++ {
			left, right := row[k-1], row[k]
			gap := right.CenterX() - left.CenterX()
			need := left.Box.Width/2 + opts.ColumnSpacing + right.Box.Width/2
			assert.GreaterOrEqual(t, gap+1e-9, need, "%s / %s", left.ID, right.ID)
		}
	}
	assert.Equal(t, 0, g.Stats.SkippedConstraints)
}

// A node with non-finite geometry poisons its own constraints only: they are
// skipped and counted, and the rest of the row still separates.
func TestSeparationSkipsNonFinite(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	g.AddNode("bad", pvgraph.KindDefault, math.NaN(), 50)
	g.AddNode("ok1", pvgraph.KindDefault, 100, 50)
	g.AddNode("ok2", pvgraph.KindDefault, 100, 50)

	scopes := buildScopes(g)
	sc := scopes[len(scopes)-1]
	sc.buildAdjacency()
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)

	assert.Greater(t, g.Stats.SkippedConstraints, 0)
	assert.False(t, math.IsNaN(g.Node("ok1").CenterX()))
	assert.False(t, math.IsNaN(g.Node("ok2").CenterX()))
}

func TestProxyCentersUnderProducer(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	g.AddNode("src", pvgraph.KindDefault, 100, 50)
	g.AddNode("proxy", pvgraph.KindProxy, 60, 30)
	_, err := g.Connect("src->proxy", "src", "proxy")
	require.NoError(t, err)

	scopes := buildScopes(g)
	sc := scopes[len(scopes)-1]
	sc.buildAdjacency()
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)

	assert.InDelta(t, g.Node("src").CenterX(), g.Node("proxy").CenterX(), 1e-9)
}

func TestCorridors(t *testing.T) {
	opts := DefaultOpts
	g := pvgraph.NewGraph()
	n1 := g.AddNode("n1", pvgraph.KindDefault, 100, 50)
	n2 := g.AddNode("n2", pvgraph.KindDefault, 100, 50)
	n1.Box.TopLeft.X = 0
	n2.Box.TopLeft.X = 200

	sc := &scope{rows: [][]*pvgraph.Node{{n1, n2}}}
	cors := sc.corridors(0, &opts)
	require.Len(t, cors, 3)

	assert.True(t, math.IsInf(cors[0].lo, -1))
	assert.Equal(t, -opts.CorridorClearance, cors[0].hi)

	assert.Equal(t, 100+opts.CorridorClearance, cors[1].lo)
	assert.Equal(t, 200-opts.CorridorClearance, cors[1].hi)

	assert.Equal(t, 300+opts.CorridorClearance, cors[2].lo)
	assert.True(t, math.IsInf(cors[2].hi, 1))
}

// A gap narrower than the minimum corridor width is not a corridor.
func TestCorridorsMinWidth(t *testing.T) {
	opts := DefaultOpts
	g := pvgraph.NewGraph()
	n1 := g.AddNode("n1", pvgraph.KindDefault, 100, 50)
	n2 := g.AddNode("n2", pvgraph.KindDefault, 100, 50)
	n1.Box.TopLeft.X = 0
	n2.Box.TopLeft.X = 120 // 20px gap, 4px after clearance

	sc := &scope{rows: [][]*pvgraph.Node{{n1, n2}}}
	cors := sc.corridors(0, &opts)
	require.Len(t, cors, 2)
	assert.Equal(t, -opts.CorridorClearance, cors[0].hi)
	assert.Equal(t, 220+opts.CorridorClearance, cors[1].lo)
}

func TestClampToCorridors(t *testing.T) {
	cors := []corridor{
		{lo: math.Inf(-1), hi: -8},
		{lo: 108, hi: 192},
		{lo: 308, hi: math.Inf(1)},
	}

	assert.Equal(t, 150.0, clampToCorridors(150, cors))
	assert.Equal(t, 108.0, clampToCorridors(100, cors)) // inside a node, snap right
	assert.Equal(t, -8.0, clampToCorridors(20, cors))   // snap left
	assert.Equal(t, 400.0, clampToCorridors(400, cors)) // in the unbounded tail
}

func TestIntersectCorridors(t *testing.T) {
	lo, hi, ok := intersectCorridors([][]corridor{
		{{lo: 0, hi: 100}},
		{{lo: 40, hi: 140}},
	}, 50)
	require.True(t, ok)
	assert.Equal(t, 40.0, lo)
	assert.Equal(t, 100.0, hi)

	// The corridor nearest the preferred line wins over a wider one further
	// away.
	lo, hi, ok = intersectCorridors([][]corridor{
		{{lo: math.Inf(-1), hi: -128}, {lo: -12, hi: 12}, {lo: 128, hi: math.Inf(1)}},
	}, 0)
	require.True(t, ok)
	assert.Equal(t, -12.0, lo)
	assert.Equal(t, 12.0, hi)

	_, _, ok = intersectCorridors([][]corridor{
		{{lo: 0, hi: 10}},
		{{lo: 20, hi: 30}},
	}, 5)
	assert.False(t, ok)
}

func TestOptsValidate(t *testing.T) {
	opts := DefaultOpts
	assert.NoError(t, opts.validate())

	opts = DefaultOpts
	opts.RankGap = math.NaN()
	assert.Error(t, opts.validate())

	opts = DefaultOpts
	opts.ColumnSpacing = -1
	assert.Error(t, opts.validate())

	opts = DefaultOpts
	opts.RelaxIterations = -1
	assert.Error(t, opts.validate())
}

// An edge between siblings of different containers resolves to the deepest
// scope containing representatives of both endpoints.
func TestBuildScopesCrossBoundary(t *testing.T) {
	g := pvgraph.NewGraph()
	c1 := g.AddNode("c1", pvgraph.KindContainer, 0, 0)
	c1.Expanded = true
	c2 := g.AddNode("c2", pvgraph.KindContainer, 0, 0)
	c2.Expanded = true
	k1 := g.AddNode("k1", pvgraph.KindDefault, 100, 50)
	k2 := g.AddNode("k2", pvgraph.KindDefault, 100, 50)
	g.SetParent(k1, c1)
	g.SetParent(k2, c2)
	_, err := g.Connect("k1->k2", "k1", "k2")
	require.NoError(t, err)

	scopes := buildScopes(g)
	require.Len(t, scopes, 3)
	root := scopes[len(scopes)-1]

	require.Len(t, root.edges, 1)
	e := root.edges[0]
	assert.Equal(t, c1, e.src)
	assert.Equal(t, c2, e.dst)
	assert.True(t, e.edge.CrossBoundary)
}

// An edge whose endpoints both resolve to the same collapsed container is not
// assigned to any scope.
func TestBuildScopesSkipsHiddenInternalEdges(t *testing.T) {
	g := pvgraph.NewGraph()
	c := g.AddNode("c", pvgraph.KindContainer, 120, 60)
	c.Expanded = false
	k1 := g.AddNode("k1", pvgraph.KindDefault, 80, 40)
	k2 := g.AddNode("k2", pvgraph.KindDefault, 80, 40)
	g.SetParent(k1, c)
	g.SetParent(k2, c)
	_, err := g.Connect("k1->k2", "k1", "k2")
	require.NoError(t, err)

	for _, sc := range buildScopes(g) {
		assert.Empty(t, sc.edges)
	}
	assert.False(t, g.Edges[0].IsFeedback)
}

func TestApplyRedirects(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)

	g := pvgraph.NewGraph()
	c := g.AddNode("c", pvgraph.KindContainer, 120, 60)
	c.Expanded = false
	hidden := g.AddNode("hidden", pvgraph.KindDefault, 80, 40)
	g.SetParent(hidden, c)
	g.AddNode("proxy", pvgraph.KindProxy, 60, 30)
	g.AddNode("sink", pvgraph.KindDefault, 100, 50)
	e, err := g.Connect("hidden->sink", "hidden", "sink")
	require.NoError(t, err)

	opts := DefaultOpts
	opts.Redirects.Producer = map[string]string{"hidden": "proxy"}
	applyRedirects(ctx, g, &opts)

	assert.Equal(t, g.Node("proxy"), e.ResolvedSrc)
	assert.Equal(t, g.Node("sink"), e.ResolvedDst)
}

// A redirect target that is an ancestor of the source would route the edge
// into itself and is refused.
func TestApplyRedirectsRefusesAncestor(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)

	g := pvgraph.NewGraph()
	c := g.AddNode("c", pvgraph.KindContainer, 120, 60)
	c.Expanded = false
	hidden := g.AddNode("hidden", pvgraph.KindDefault, 80, 40)
	g.SetParent(hidden, c)
	g.AddNode("sink", pvgraph.KindDefault, 100, 50)
	e, err := g.Connect("hidden->sink", "hidden", "sink")
	require.NoError(t, err)

	opts := DefaultOpts
	opts.Redirects.Producer = map[string]string{"hidden": "c"}
	applyRedirects(ctx, g, &opts)

	assert.Equal(t, g.Node("hidden"), e.ResolvedSrc)
}

func TestFeedbackRouteShape(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g, sc := buildRootScope(t,
		[]string{"A", "B"},
		[][2]string{{"A", "B"}, {"B", "A"}},
	)
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)
	sc.routeEdges(ctx, g, &opts)

	var fb *edgeRef
	for _, e := range sc.edges {
		if e.edge.IsFeedback {
			fb = e
		}
	}
	require.NotNil(t, fb)
	route := fb.edge.Route
	require.Len(t, route, 6)

	// Starts at the source bottom, ends at the target top.
	assert.Equal(t, fb.src.CenterX(), route[0].X)
	assert.Equal(t, fb.src.Box.Bottom(), route[0].Y)
	assert.Equal(t, fb.dst.CenterX(), route[5].X)
	assert.Equal(t, fb.dst.Box.TopLeft.Y, route[5].Y)

	// The gutter run clears the left edge of both nodes.
	leftmost := math.Min(fb.src.Box.TopLeft.X, fb.dst.Box.TopLeft.X)
	assert.Equal(t, leftmost-opts.FeedbackGutter, route[2].X)
	assert.Equal(t, route[2].X, route[3].X)

	// The headroom run clears the top of both nodes.
	top := math.Min(fb.src.Box.TopLeft.Y, fb.dst.Box.TopLeft.Y)
	assert.Equal(t, top-opts.FeedbackHeadroom, route[3].Y)
}

// A long edge over a diamond threads the corridor between the two middle
// nodes without touching them.
//
//	    ┌── A ──┐
//	    ▼   │   ▼
//	   M1   │   M2
//	    └─▼ ▼ ▼─┘
//	        B
func TestRouteThreadsCorridor(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	g.AddNode("A", pvgraph.KindDefault, 100, 50)
	g.AddNode("M1", pvgraph.KindDefault, 100, 50)
	g.AddNode("M2", pvgraph.KindDefault, 100, 50)
	g.AddNode("B", pvgraph.KindDefault, 100, 50)
	for _, pair := range [][2]string{{"A", "M1"}, {"A", "M2"}, {"M1", "B"}, {"M2", "B"}, {"A", "B"}} {
		_, err := g.Connect(pair[0]+"->"+pair[1], pair[0], pair[1])
		require.NoError(t, err)
	}

	scopes := buildScopes(g)
	sc := scopes[len(scopes)-1]
	sc.buildAdjacency()
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)
	sc.routeEdges(ctx, g, &opts)

	long := g.Edges[4]
	require.Equal(t, "A->B", long.ID)
	assert.False(t, long.Collision)
	require.NotEmpty(t, long.Route)

	for _, id := range []string{"M1", "M2"} {
		box := g.Node(id).Box
		for i := 1; i < len(long.Route); i++ {
			seg := *geo.NewSegment(long.Route[i-1], long.Route[i])
			assert.False(t, box.IntersectsSegment(seg),
				"segment %d of the long edge cuts through %s", i, id)
		}
	}
	assert.Equal(t, 0, g.Stats.CollisionFallbacks)
}

// When the intermediate rank is one wide box directly under the edge's line,
// no clean detour exists: the edge degrades to a straight line and reports the
// collision.
func TestRouteCollisionFallback(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	g.AddNode("A", pvgraph.KindDefault, 100, 50)
	g.AddNode("wide", pvgraph.KindDefault, 400, 50)
	g.AddNode("B", pvgraph.KindDefault, 100, 50)
	for _, pair := range [][2]string{{"A", "wide"}, {"wide", "B"}, {"A", "B"}} {
		_, err := g.Connect(pair[0]+"->"+pair[1], pair[0], pair[1])
		require.NoError(t, err)
	}

	scopes := buildScopes(g)
	sc := scopes[len(scopes)-1]
	sc.buildAdjacency()
	sc.markFeedback()
	sc.assignRanks()
	sc.buildRows(&opts)
	sc.positionRows(ctx, g, &opts)
	sc.routeEdges(ctx, g, &opts)

	long := g.Edges[2]
	require.Equal(t, "A->B", long.ID)
	assert.True(t, long.Collision)
	assert.Equal(t, 1, g.Stats.CollisionFallbacks)
	require.NotEmpty(t, long.Route)

	// The fallback is still well-formed: anchored at both nodes, monotonic
	// in y.
	assert.Equal(t, g.Node("A").Box.Bottom(), long.Route[0].Y)
	assert.Equal(t, g.Node("B").Box.TopLeft.Y, long.Route[len(long.Route)-1].Y)
	for i := 1; i < len(long.Route); i++ {
		assert.GreaterOrEqual(t, long.Route[i].Y, long.Route[i-1].Y)
	}
}

func TestRouteMonotonicY(t *testing.T) {
	route := geo.Route{
		geo.NewPoint(0, 0),
		geo.NewPoint(10, 50),
		geo.NewPoint(20, 40),
		geo.NewPoint(30, 90),
	}
	clampMonotonicY(route)
	assert.Equal(t, 50.0, route[2].Y)
	assert.Equal(t, 90.0, route[3].Y)
}

func TestContainerSizedFromChildren(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	c := g.AddNode("c", pvgraph.KindContainer, 0, 0)
	c.Expanded = true
	k1 := g.AddNode("k1", pvgraph.KindDefault, 80, 40)
	k2 := g.AddNode("k2", pvgraph.KindDefault, 80, 40)
	g.SetParent(k1, c)
	g.SetParent(k2, c)
	_, err := g.Connect("k1->k2", "k1", "k2")
	require.NoError(t, err)

	require.NoError(t, Layout(ctx, g, &opts))

	// One 80-wide column plus side padding; two 40-tall rows, one rank gap,
	// bottom padding, and the header strip.
	assert.Equal(t, 80+2*opts.Padding, c.Box.Width)
	assert.Equal(t, 40+opts.RankGap+40+opts.Padding+opts.HeaderHeight, c.Box.Height)

	// Children live inside the padded content area.
	assert.Equal(t, c.Box.TopLeft.X+opts.Padding, k1.Box.TopLeft.X)
	assert.Equal(t, c.Box.TopLeft.Y+opts.HeaderHeight, k1.Box.TopLeft.Y)
	assert.Equal(t, k1.Box.Bottom()+opts.RankGap, k2.Box.TopLeft.Y)
}

func TestBoundsIncludeRoutes(t *testing.T) {
	ctx := log.WithTB(context.Background(), t, nil)
	opts := DefaultOpts

	g := pvgraph.NewGraph()
	g.AddNode("A", pvgraph.KindDefault, 100, 50)
	g.AddNode("B", pvgraph.KindDefault, 100, 50)
	_, err := g.Connect("A->B", "A", "B")
	require.NoError(t, err)
	_, err = g.Connect("B->A", "B", "A")
	require.NoError(t, err)

	require.NoError(t, Layout(ctx, g, &opts))

	tl, w, _ := Bounds(g)
	// The feedback gutter pokes left of every node box.
	minNodeX := math.Min(g.Node("A").Box.TopLeft.X, g.Node("B").Box.TopLeft.X)
	assert.Less(t, tl.X, minNodeX)
	assert.Greater(t, w, g.Node("A").Box.Width)
}

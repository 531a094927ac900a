// Package pipeviz computes 2D positions and routed polyline paths for the
// nodes and edges of a directed dataflow graph, including graphs with cycles
// and recursively nested containers. It is a pure layout engine: callers
// supply node sizes, edges, and nesting, and read back coordinates; rendering
// is someone else's job.
package pipeviz

import (
	"context"
	"fmt"
	"math"

	"cdr.dev/slog"

	"github.com/pipeviz/pipeviz/lib/geo"
	"github.com/pipeviz/pipeviz/lib/log"
	"github.com/pipeviz/pipeviz/pvgraph"
	"github.com/pipeviz/pipeviz/pvlayout"
)

// NodeSpec describes one node of the input graph.
type NodeSpec struct {
	ID     string
	Width  float64
	Height float64
	Kind   pvgraph.Kind
	// Parent is the id of the enclosing container, empty for root-level
	// nodes.
	Parent string
	// Expanded marks a container whose children are laid out inside it.
	Expanded bool
}

// EdgeSpec describes one directed edge. Edges referencing unknown node ids
// are dropped and counted, never fatal.
type EdgeSpec struct {
	ID     string
	Source string
	Target string
}

// PlacedNode is a laid-out node; X, Y is the top-left corner in absolute
// coordinates.
type PlacedNode struct {
	ID     string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// RoutedEdge is a laid-out edge as an ordered polyline.
type RoutedEdge struct {
	ID         string
	Points     []*geo.Point
	IsFeedback bool
	// Collision is diagnostic: the corridor search found no clean path and
	// fell back to a straight line.
	Collision bool
}

type Bounds struct {
	Width  float64
	Height float64
}

// Diagnostics counts the recoverable degradations the engine made. It is
// informational; the layout contract is unaffected.
type Diagnostics struct {
	DroppedEdges       int
	SkippedConstraints int
	CollisionFallbacks int
}

type Result struct {
	Nodes       []PlacedNode
	Edges       []RoutedEdge
	Bounds      Bounds
	Diagnostics Diagnostics
}

// Layout lays out the given graph and returns positions, routes, and overall
// bounds. It is a deterministic pure function of its input: the graph model
// is rebuilt on every call and discarded afterwards.
//
// Layout never fails: malformed options or an engine fault degrade to a
// row-major grid placement so the rendering layer always has something
// drawable.
func Layout(ctx context.Context, nodes []NodeSpec, edges []EdgeSpec, opts *pvlayout.Opts) *Result {
	if opts == nil {
		o := pvlayout.DefaultOpts
		opts = &o
	}

	g := buildGraph(ctx, nodes, edges)

	if err := runEngine(ctx, g, opts); err != nil {
		log.Error(ctx, "layout engine failed, falling back to grid placement", slog.Error(err))
		fallbackGrid(g, opts)
	}

	normalize(g)
	return collect(g)
}

func buildGraph(ctx context.Context, nodes []NodeSpec, edges []EdgeSpec) *pvgraph.Graph {
	g := pvgraph.NewGraph()

	for _, ns := range nodes {
		n := g.AddNode(ns.ID, ns.Kind, ns.Width, ns.Height)
		n.Expanded = ns.Expanded
	}
	for _, ns := range nodes {
		if ns.Parent == "" {
			continue
		}
		parent := g.Node(ns.Parent)
		if parent == nil {
			log.Warn(ctx, "node references unknown parent, keeping at root level",
				slog.F("node", ns.ID), slog.F("parent", ns.Parent))
			continue
		}
		g.SetParent(g.Node(ns.ID), parent)
	}
	// A node that owns children is a container whether or not the caller
	// tagged it as one.
	for _, n := range g.Nodes {
		if len(n.ChildrenArray) > 0 && n.Kind != pvgraph.KindContainer {
			n.Kind = pvgraph.KindContainer
		}
	}

	for _, es := range edges {
		if _, err := g.Connect(es.ID, es.Source, es.Target); err != nil {
			g.Stats.DroppedEdges++
			log.Warn(ctx, "dropped edge", slog.Error(err))
		}
	}

	return g
}

func runEngine(ctx context.Context, g *pvgraph.Graph, opts *pvlayout.Opts) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("layout engine panic: %v", r)
		}
	}()
	return pvlayout.Layout(ctx, g, opts)
}

// fallbackGrid places every visible node on a fixed-spacing grid, row-major
// by input order, and routes edges as straight lines. Degraded, but always
// drawable.
func fallbackGrid(g *pvgraph.Graph, opts *pvlayout.Opts) {
	var visible []*pvgraph.Node
	cellW, cellH := 0.0, 0.0
	for _, n := range g.Nodes {
		if n.IsHidden() {
			continue
		}
		visible = append(visible, n)
		cellW = math.Max(cellW, n.Box.Width)
		cellH = math.Max(cellH, n.Box.Height)
	}
	if len(visible) == 0 {
		return
	}
	spacingX := opts.ColumnSpacing
	spacingY := opts.RankGap
	if spacingX <= 0 || math.IsNaN(spacingX) || math.IsInf(spacingX, 0) {
		spacingX = pvlayout.DefaultOpts.ColumnSpacing
	}
	if spacingY <= 0 || math.IsNaN(spacingY) || math.IsInf(spacingY, 0) {
		spacingY = pvlayout.DefaultOpts.RankGap
	}

	columns := int(math.Ceil(math.Sqrt(float64(len(visible)))))
	for i, n := range visible {
		col := i % columns
		row := i / columns
		n.Box.TopLeft.X = float64(col) * (cellW + spacingX)
		n.Box.TopLeft.Y = float64(row) * (cellH + spacingY)
	}

	for _, e := range g.Edges {
		src := e.ResolvedSrc.VisibleRep()
		dst := e.ResolvedDst.VisibleRep()
		e.Route = geo.Route{src.Center(), dst.Center()}
	}
}

// normalize shifts all coordinates so the overall bounding box starts at the
// origin.
func normalize(g *pvgraph.Graph) {
	tl, _, _ := pvlayout.Bounds(g)
	if tl.X == 0 && tl.Y == 0 {
		return
	}
	for _, n := range g.Nodes {
		if n.IsHidden() {
			continue
		}
		n.Box.TopLeft.X -= tl.X
		n.Box.TopLeft.Y -= tl.Y
	}
	for _, e := range g.Edges {
		e.Move(-tl.X, -tl.Y)
	}
}

func collect(g *pvgraph.Graph) *Result {
	res := &Result{
		Diagnostics: Diagnostics{
			DroppedEdges:       g.Stats.DroppedEdges,
			SkippedConstraints: g.Stats.SkippedConstraints,
			CollisionFallbacks: g.Stats.CollisionFallbacks,
		},
	}

	for _, n := range g.Nodes {
		if n.IsHidden() {
			continue
		}
		res.Nodes = append(res.Nodes, PlacedNode{
			ID:     n.ID,
			X:      n.Box.TopLeft.X,
			Y:      n.Box.TopLeft.Y,
			Width:  n.Box.Width,
			Height: n.Box.Height,
		})
	}
	for _, e := range g.Edges {
		if len(e.Route) == 0 {
			// Edges fully hidden inside collapsed containers have no route.
			continue
		}
		res.Edges = append(res.Edges, RoutedEdge{
			ID:         e.ID,
			Points:     e.Route,
			IsFeedback: e.IsFeedback,
			Collision:  e.Collision,
		})
	}

	_, w, h := pvlayout.Bounds(g)
	res.Bounds = Bounds{Width: w, Height: h}
	return res
}

package pvlayout

import (
	"fmt"
	"math"

	"github.com/pipeviz/pipeviz/pvgraph"
)

// VisibleBounds describes where a node's drawn boundary sits relative to its
// bounding box, so edges anchor at the visible shape instead of the raw box.
type VisibleBounds struct {
	// BottomOffset is how far the drawn bottom sits above the box bottom.
	BottomOffset float64
	// TopInset is how far the drawn top sits below the box top.
	TopInset float64
}

// BoundsLookup is supplied by the rendering layer. The engine only ever calls
// it with the node's kind and expansion state.
type BoundsLookup func(kind pvgraph.Kind, expanded bool) VisibleBounds

// Redirects rewires logical edge endpoints to visible proxy nodes when the
// original endpoint is hidden inside a collapsed container. Keys and values
// are node ids.
type Redirects struct {
	// Producer maps a hidden value-producing node to the node that should act
	// as the edge's visible source.
	Producer map[string]string
	// Consumer maps a hidden parameter-consuming node to the node that should
	// act as the edge's visible target.
	Consumer map[string]string
}

type Opts struct {
	// RankGap is the vertical distance between consecutive rank bands.
	RankGap float64
	// ColumnSpacing is the minimum horizontal gap between rank neighbors.
	ColumnSpacing float64
	// SpreadFactor scales the initial even spacing of leaf nodes.
	SpreadFactor float64

	// Padding surrounds a container's child layout; HeaderHeight is the extra
	// allowance at the container top.
	Padding      float64
	HeaderHeight float64

	// RelaxIterations is the number of soft relaxation sweeps.
	RelaxIterations int

	// Routing cost weights.
	CornerAngleWeight float64
	CurveCountWeight  float64
	CollisionPenalty  float64

	// MicroSnapThreshold merges consecutive waypoint x values that differ by
	// less than this many pixels.
	MicroSnapThreshold float64

	StemLength        float64
	ConvergenceOffset float64

	FeedbackGutter   float64
	FeedbackHeadroom float64

	// Corridor geometry.
	MinCorridorWidth  float64
	CorridorClearance float64

	VisibleBounds BoundsLookup
	Redirects     Redirects
}

var DefaultOpts = Opts{
	RankGap:            60,
	ColumnSpacing:      40,
	SpreadFactor:       1.5,
	Padding:            20,
	HeaderHeight:       24,
	RelaxIterations:    28,
	CornerAngleWeight:  2.0,
	CurveCountWeight:   1.0,
	CollisionPenalty:   100.0,
	MicroSnapThreshold: 4,
	StemLength:         12,
	ConvergenceOffset:  20,
	FeedbackGutter:     40,
	FeedbackHeadroom:   30,
	MinCorridorWidth:   16,
	CorridorClearance:  8,
}

// DefaultVisibleBounds anchors edges at the raw box for plain nodes and below
// the header strip for expanded containers.
func DefaultVisibleBounds(kind pvgraph.Kind, expanded bool) VisibleBounds {
	if kind == pvgraph.KindContainer && expanded {
		return VisibleBounds{TopInset: DefaultOpts.HeaderHeight}
	}
	return VisibleBounds{}
}

func (opts *Opts) validate() error {
	for name, v := range map[string]float64{
		"rankGap":            opts.RankGap,
		"columnSpacing":      opts.ColumnSpacing,
		"spreadFactor":       opts.SpreadFactor,
		"padding":            opts.Padding,
		"headerHeight":       opts.HeaderHeight,
		"cornerAngleWeight":  opts.CornerAngleWeight,
		"curveCountWeight":   opts.CurveCountWeight,
		"collisionPenalty":   opts.CollisionPenalty,
		"microSnapThreshold": opts.MicroSnapThreshold,
		"stemLength":         opts.StemLength,
		"convergenceOffset":  opts.ConvergenceOffset,
		"feedbackGutter":     opts.FeedbackGutter,
		"feedbackHeadroom":   opts.FeedbackHeadroom,
		"minCorridorWidth":   opts.MinCorridorWidth,
		"corridorClearance":  opts.CorridorClearance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("option %s is not finite", name)
		}
	}
	if opts.RankGap <= 0 {
		return fmt.Errorf("rankGap must be positive, got %v", opts.RankGap)
	}
	if opts.ColumnSpacing <= 0 {
		return fmt.Errorf("columnSpacing must be positive, got %v", opts.ColumnSpacing)
	}
	if opts.SpreadFactor <= 0 {
		return fmt.Errorf("spreadFactor must be positive, got %v", opts.SpreadFactor)
	}
	if opts.RelaxIterations < 0 {
		return fmt.Errorf("relaxIterations must not be negative, got %d", opts.RelaxIterations)
	}
	return nil
}

func (opts *Opts) visibleBounds(n *pvgraph.Node) VisibleBounds {
	lookup := opts.VisibleBounds
	if lookup == nil {
		lookup = DefaultVisibleBounds
	}
	return lookup(n.Kind, n.Expanded)
}

// visibleBottom is the y of n's drawn bottom edge, where outgoing stems start.
func (opts *Opts) visibleBottom(n *pvgraph.Node) float64 {
	return n.Box.Bottom() - opts.visibleBounds(n).BottomOffset
}

// visibleTop is the y of n's drawn top edge, where incoming stems end.
func (opts *Opts) visibleTop(n *pvgraph.Node) float64 {
	return n.Box.TopLeft.Y + opts.visibleBounds(n).TopInset
}

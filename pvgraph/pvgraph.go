// Package pvgraph holds the arena graph model that every layout pass operates
// on. A Graph is rebuilt from caller input on each layout call and discarded
// once coordinates have been read back out; nothing in here survives between
// calls.
package pvgraph

import (
	"fmt"

	"github.com/pipeviz/pipeviz/lib/geo"
)

// Kind tags a node with the role that drives visible-bounds offsets and
// centering priority. It replaces per-kind conditionals scattered through
// layout passes with a single tagged enum.
type Kind int

const (
	KindDefault Kind = iota
	// KindFunction is a generic function-like node with one or more outputs.
	KindFunction
	// KindBranch fans a single value out to two or more consumers.
	KindBranch
	// KindProxy is a pass-through placeholder standing in for a producer that
	// lives outside the current view (e.g. inside a collapsed container).
	KindProxy
	// KindContainer owns a child subgraph when expanded.
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindBranch:
		return "branch"
	case KindProxy:
		return "proxy"
	case KindContainer:
		return "container"
	default:
		return "default"
	}
}

// Stats counts the recoverable degradations a layout run made. They are
// diagnostics, not part of the layout contract.
type Stats struct {
	DroppedEdges       int
	SkippedConstraints int
	CollisionFallbacks int
}

type Graph struct {
	Nodes []*Node
	Edges []*Edge

	Stats Stats

	byID map[string]*Node
}

func NewGraph() *Graph {
	return &Graph{
		byID: make(map[string]*Node),
	}
}

type Node struct {
	ID    string
	Index int
	Kind  Kind

	// Box is the node's bounding box. Width and height come from the caller;
	// TopLeft is written by layout.
	Box *geo.Box

	// Rank is the layer assigned within this node's layout scope.
	Rank int

	Parent        *Node
	ChildrenArray []*Node

	// Expanded containers own a child subgraph that is laid out internally.
	// Collapsed containers are laid out as plain boxes and hide their
	// descendants.
	Expanded bool

	In  []*Edge
	Out []*Edge
}

type Edge struct {
	ID  string
	Src *Node
	Dst *Node

	// ResolvedSrc/ResolvedDst are the endpoints after proxy redirection. They
	// equal Src/Dst unless a redirect rewired the edge.
	ResolvedSrc *Node
	ResolvedDst *Node

	IsFeedback    bool
	CrossBoundary bool

	// Collision marks an edge that fell back to a straight line because no
	// clean corridor path was found.
	Collision bool

	Route geo.Route
}

func (g *Graph) AddNode(id string, kind Kind, width, height float64) *Node {
	n := &Node{
		ID:    id,
		Index: len(g.Nodes),
		Kind:  kind,
		Box:   geo.NewBox(geo.NewPoint(0, 0), width, height),
	}
	g.Nodes = append(g.Nodes, n)
	g.byID[id] = n
	return n
}

func (g *Graph) Node(id string) *Node {
	return g.byID[id]
}

func (g *Graph) SetParent(child, parent *Node) {
	if child.Parent != nil {
		child.Parent.removeChild(child)
	}
	child.Parent = parent
	if parent != nil {
		parent.ChildrenArray = append(parent.ChildrenArray, child)
	}
}

func (parent *Node) removeChild(child *Node) {
	for i, c := range parent.ChildrenArray {
		if c == child {
			parent.ChildrenArray = append(parent.ChildrenArray[:i], parent.ChildrenArray[i+1:]...)
			return
		}
	}
}

// Connect adds an edge between two existing nodes. Edges referencing unknown
// ids are the caller's problem to drop and count.
func (g *Graph) Connect(id, srcID, dstID string) (*Edge, error) {
	src := g.byID[srcID]
	if src == nil {
		return nil, fmt.Errorf("edge %q references unknown source %q", id, srcID)
	}
	dst := g.byID[dstID]
	if dst == nil {
		return nil, fmt.Errorf("edge %q references unknown target %q", id, dstID)
	}
	e := &Edge{
		ID:          id,
		Src:         src,
		Dst:         dst,
		ResolvedSrc: src,
		ResolvedDst: dst,
	}
	src.Out = append(src.Out, e)
	dst.In = append(dst.In, e)
	g.Edges = append(g.Edges, e)
	return e, nil
}

func (n *Node) Center() *geo.Point {
	return n.Box.Center()
}

func (n *Node) CenterX() float64 {
	return n.Box.TopLeft.X + n.Box.Width/2
}

func (n *Node) SetCenterX(x float64) {
	n.Box.TopLeft.X = x - n.Box.Width/2
}

// Level is the nesting depth: 0 for root-level nodes.
func (n *Node) Level() int {
	level := 0
	for p := n.Parent; p != nil; p = p.Parent {
		level++
	}
	return level
}

func (n *Node) IsDescendantOf(other *Node) bool {
	if other == nil {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p == other {
			return true
		}
	}
	return false
}

// AncestorChildOf walks up from n to the node whose parent is container, i.e.
// n's representative among container's direct children. A nil container means
// the root level. Returns nil when n is not inside container.
func (n *Node) AncestorChildOf(container *Node) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Parent == container {
			return cur
		}
	}
	return nil
}

// VisibleRep resolves n to the node actually drawn for it: n itself, or the
// outermost collapsed ancestor hiding it.
func (n *Node) VisibleRep() *Node {
	rep := n
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Kind == KindContainer && !p.Expanded {
			rep = p
		}
	}
	return rep
}

// IsHidden reports whether any ancestor is a collapsed container.
func (n *Node) IsHidden() bool {
	return n.VisibleRep() != n
}

func (n *Node) MoveWithDescendants(dx, dy float64) {
	n.Box.TopLeft.X += dx
	n.Box.TopLeft.Y += dy
	for _, child := range n.ChildrenArray {
		child.MoveWithDescendants(dx, dy)
	}
}

func (e *Edge) Move(dx, dy float64) {
	e.Route.Move(dx, dy)
}

// Containers returns every expanded, visible container ordered by decreasing
// nesting depth, so callers can lay out the deepest subgraphs first.
func (g *Graph) Containers() []*Node {
	var containers []*Node
	for _, n := range g.Nodes {
		if n.Kind == KindContainer && n.Expanded && !n.IsHidden() {
			containers = append(containers, n)
		}
	}
	// Insertion sort keeps equal depths in arena order for determinism.
	for i := 1; i < len(containers); i++ {
		for j := i; j > 0 && containers[j-1].Level() < containers[j].Level(); j-- {
			containers[j-1], containers[j] = containers[j], containers[j-1]
		}
	}
	return containers
}

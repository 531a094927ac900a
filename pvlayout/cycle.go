package pvlayout

// Three-color DFS over one scope. White nodes are unvisited, gray nodes are on
// the active stack, black nodes are fully explored. An edge into a gray node
// closes a cycle and is marked feedback; every other edge participates in
// ranking. Iteration follows arena and adjacency order, so a fixed input
// yields the same feedback set every run.

type dfsColor uint8

const (
	white dfsColor = iota
	gray
	black
)

func (sc *scope) markFeedback() {
	colors := make([]dfsColor, len(sc.nodes))

	var visit func(i int)
	visit = func(i int) {
		colors[i] = gray
		for _, e := range sc.out[i] {
			j := sc.index[e.dst]
			switch colors[j] {
			case gray:
				e.edge.IsFeedback = true
			case white:
				visit(j)
			}
		}
		colors[i] = black
	}

	for i := range sc.nodes {
		if colors[i] == white {
			visit(i)
		}
	}
}

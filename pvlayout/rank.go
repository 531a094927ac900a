package pvlayout

// assignRanks computes each node's layer as the length of the longest
// non-feedback path from any source reaching it. Equivalent to solving
// rank(dst) >= rank(src)+1 for every non-feedback edge, which is always
// feasible once feedback edges are removed.
func (sc *scope) assignRanks() {
	const unranked = -1

	ranks := make([]int, len(sc.nodes))
	for i := range ranks {
		ranks[i] = unranked
	}

	var visit func(i int) int
	visit = func(i int) int {
		if ranks[i] != unranked {
			return ranks[i]
		}
		// Settle before recursing so a stray cycle cannot loop; feedback
		// marking guarantees none remain.
		ranks[i] = 0
		r := 0
		for _, e := range sc.in[i] {
			if e.edge.IsFeedback || e.src == e.dst {
				continue
			}
			if pr := visit(sc.index[e.src]); pr+1 > r {
				r = pr + 1
			}
		}
		ranks[i] = r
		return r
	}

	for i := range sc.nodes {
		visit(i)
	}
	for i, n := range sc.nodes {
		n.Rank = ranks[i]
	}
}

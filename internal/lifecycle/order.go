package lifecycle

// stopNode is one component taking part in stop planning.
type stopNode struct {
	name      string
	stopAfter []string
}

// planStop computes stop waves from the stop-after graph.
//
// A component appears in a wave only once every component named in its
// stop-after set has appeared in an earlier wave. Components inside one wave
// have no ordering relationship and are listed in reverse declaration order.
// References to names outside nodes are treated as already stopped.
//
// Components that can never be scheduled (members of a cycle, and anything
// that must wait for one) are returned in declaration order as unresolved.
func planStop(nodes []stopNode) (waves [][]string, unresolved []string) {
	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n.name] = i
	}

	pending := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, before := range n.stopAfter {
			if _, ok := position[before]; !ok {
				continue
			}
			pending[n.name]++
			dependents[before] = append(dependents[before], n.name)
		}
	}

	done := make(map[string]bool, len(nodes))
	for len(done) < len(nodes) {
		var wave []string
		for i := len(nodes) - 1; i >= 0; i-- {
			name := nodes[i].name
			if !done[name] && pending[name] == 0 {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			break
		}
		for _, name := range wave {
			done[name] = true
			for _, dep := range dependents[name] {
				pending[dep]--
			}
		}
		waves = append(waves, wave)
	}

	for _, n := range nodes {
		if !done[n.name] {
			unresolved = append(unresolved, n.name)
		}
	}
	return waves, unresolved
}

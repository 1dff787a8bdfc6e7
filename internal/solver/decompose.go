package solver

import (
	"math"

	"siteplan/internal/opt"
)

// component is a set of variables linked through constraint rows, together
// with those rows. Components share no variables, so each one is searched on
// its own and the objectives add up.
type component struct {
	vars []int // model variable indices, ascending
	rows []int // constraint indices
}

// partition splits m into independent components. Variables that appear in
// no constraint come back in loose. ok is false when a constraint without
// terms cannot hold.
func partition(m *opt.Model) (comps []component, loose []int, ok bool) {
	parent := make([]int, len(m.Vars))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	used := make([]bool, len(m.Vars))
	for _, c := range m.Constraints {
		if len(c.Expr.Terms) == 0 {
			if !constantRowHolds(c.Sense, c.RHS) {
				return nil, nil, false
			}
			continue
		}
		first := find(c.Expr.Terms[0].Var)
		for _, t := range c.Expr.Terms {
			used[t.Var] = true
			if r := find(t.Var); r != first {
				parent[r] = first
			}
		}
	}

	slot := make(map[int]int)
	for j := range m.Vars {
		if !used[j] {
			loose = append(loose, j)
			continue
		}
		r := find(j)
		k, seen := slot[r]
		if !seen {
			k = len(comps)
			slot[r] = k
			comps = append(comps, component{})
		}
		comps[k].vars = append(comps[k].vars, j)
	}
	for i, c := range m.Constraints {
		if len(c.Expr.Terms) == 0 {
			continue
		}
		k := slot[find(c.Expr.Terms[0].Var)]
		comps[k].rows = append(comps[k].rows, i)
	}
	return comps, loose, true
}

func constantRowHolds(s opt.Sense, rhs float64) bool {
	switch s {
	case opt.LessEqual:
		return 0 <= rhs+feasTol
	case opt.GreaterEqual:
		return 0 >= rhs-feasTol
	default:
		return math.Abs(rhs) <= feasTol
	}
}

// Package solver provides a mixed-integer oracle for opt models. The model is
// split into independent components; each one gets a depth-first
// branch-and-bound over its binaries, with LP relaxations solved by a
// warm-started bounded dual simplex on a gonum dense tableau.
package solver

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"siteplan/internal/opt"
)

// Options bound the search. Zero values mean no limit. Both limits apply to
// the whole model, not to each component.
type Options struct {
	NodeLimit int
	TimeLimit time.Duration
	IntTol    float64
	// OnIncumbent is called each time a better integral solution of the
	// whole model is found.
	OnIncumbent func(objective float64, nodes int)
}

// BranchAndBound implements opt.Oracle. An instance serves one solve at a time.
type BranchAndBound struct {
	opts    Options
	status  opt.Status
	values  []float64
	best    float64
	nodes   int
	elapsed time.Duration
}

// New returns an oracle with the given options.
func New(o Options) *BranchAndBound {
	if o.IntTol <= 0 {
		o.IntTol = 1e-6
	}
	return &BranchAndBound{opts: o, status: opt.StatusUnknown}
}

// Factory returns a constructor producing a fresh oracle per solve.
func Factory(o Options) func() opt.Oracle {
	return func() opt.Oracle { return New(o) }
}

func (b *BranchAndBound) Status() opt.Status { return b.status }
func (b *BranchAndBound) Values() []float64  { return b.values }

// Nodes is the number of relaxations solved by the last Submit.
func (b *BranchAndBound) Nodes() int { return b.nodes }

// Elapsed is the wall time of the last Submit.
func (b *BranchAndBound) Elapsed() time.Duration { return b.elapsed }

// Incumbent is the objective of the best integral solution found, +Inf if none.
func (b *BranchAndBound) Incumbent() float64 { return b.best }

type node struct {
	lower, upper []float64 // structural bounds of the component
}

type outcome int

const (
	solved outcome = iota
	infeasible
	unbounded
	limited
)

// Submit runs the search to a terminal status. A non-nil error means the
// search could not finish (cancellation, numeric failure or a component too
// large for the dense tableau); the status is then StatusFailed. The context
// and the time limit are also checked inside each relaxation.
func (b *BranchAndBound) Submit(ctx context.Context, m *opt.Model) error {
	start := time.Now()
	b.status, b.values, b.nodes, b.best = opt.StatusUnknown, nil, 0, math.Inf(1)
	defer func() { b.elapsed = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		b.status = opt.StatusFailed
		return eris.Wrap(err, "solver: search interrupted")
	}
	var deadline time.Time
	if b.opts.TimeLimit > 0 {
		deadline = start.Add(b.opts.TimeLimit)
	}

	for _, v := range m.Vars {
		if math.IsInf(v.Lower, -1) {
			b.status = opt.StatusFailed
			return eris.Errorf("solver: variable %s has no lower bound", v.Name)
		}
		if v.Upper < v.Lower-feasTol {
			b.status = opt.StatusInfeasible
			return nil
		}
	}
	comps, loose, ok := partition(m)
	if !ok {
		b.status = opt.StatusInfeasible
		return nil
	}

	cost := make([]float64, len(m.Vars))
	for _, t := range m.Objective.Terms {
		cost[t.Var] += t.Coef
	}
	x := make([]float64, len(m.Vars))
	total := m.Objective.Constant
	for _, j := range loose {
		v := m.Vars[j]
		x[j] = v.Lower
		if cost[j] < 0 {
			if math.IsInf(v.Upper, 1) {
				b.status = opt.StatusUnbounded
				return nil
			}
			x[j] = v.Upper
		}
		total += cost[j] * x[j]
	}

	complete := true
	for i, c := range comps {
		last := i == len(comps)-1
		obj, sol, out, err := b.searchComponent(ctx, m, c, deadline, total, last)
		if err != nil {
			b.status = opt.StatusFailed
			return err
		}
		switch out {
		case infeasible:
			b.status = opt.StatusInfeasible
			return nil
		case unbounded:
			b.status = opt.StatusUnbounded
			return nil
		case limited:
			b.status = opt.StatusLimitReached
			if sol == nil || !last {
				complete = false
			}
		}
		if sol == nil {
			break
		}
		for k, j := range c.vars {
			x[j] = sol[k]
		}
		total += obj
		if out == limited {
			break
		}
	}

	if b.status == opt.StatusLimitReached {
		if complete {
			b.values, b.best = x, total
		}
		return nil
	}
	if len(comps) == 0 && b.opts.OnIncumbent != nil {
		b.opts.OnIncumbent(total, b.nodes)
	}
	b.status, b.values, b.best = opt.StatusOptimal, x, total
	return nil
}

// searchComponent runs branch-and-bound over one component. base is the
// objective already settled by the rest of the model; incumbents are only
// reported when last is set, since only then do they complete a solution.
func (b *BranchAndBound) searchComponent(ctx context.Context, m *opt.Model, c component, deadline time.Time, base float64, last bool) (float64, []float64, outcome, error) {
	tb, err := newTableau(m, c)
	if err != nil {
		return 0, nil, solved, err
	}
	var binaries []int
	root := node{lower: make([]float64, tb.n), upper: make([]float64, tb.n)}
	for k, j := range c.vars {
		v := m.Vars[j]
		root.lower[k], root.upper[k] = v.Lower, v.Upper
		if v.Kind == opt.Binary {
			binaries = append(binaries, k)
		}
	}

	best := math.Inf(1)
	var sol []float64
	stack := []node{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, nil, solved, eris.Wrap(err, "solver: search interrupted")
		}
		if b.opts.NodeLimit > 0 && b.nodes >= b.opts.NodeLimit {
			return best, sol, limited, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return best, sol, limited, nil
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b.nodes++

		cutoff := math.Inf(1)
		if sol != nil {
			cutoff = best - pruneTol(best)
		}
		tb.setBounds(nd.lower, nd.upper)
		obj, err := tb.solve(ctx, deadline, cutoff)
		if errors.Is(err, errStalled) {
			tb.reset()
			obj, err = tb.solve(ctx, deadline, cutoff)
		}
		switch {
		case errors.Is(err, errInfeasible), errors.Is(err, errCutoff):
			continue
		case errors.Is(err, errTimeLimit):
			return best, sol, limited, nil
		case errors.Is(err, errUnbounded):
			return 0, nil, unbounded, nil
		case err != nil:
			return 0, nil, solved, eris.Wrapf(err, "solver: node %d", b.nodes)
		}
		if obj >= cutoff {
			continue
		}

		x := tb.structurals()
		j := mostFractional(binaries, x, b.opts.IntTol)
		if j < 0 {
			best, sol = obj, x
			if last && b.opts.OnIncumbent != nil {
				b.opts.OnIncumbent(base+obj, b.nodes)
			}
			continue
		}

		down := node{lower: nd.lower, upper: append([]float64(nil), nd.upper...)}
		down.upper[j] = math.Floor(x[j])
		up := node{lower: append([]float64(nil), nd.lower...), upper: nd.upper}
		up.lower[j] = math.Ceil(x[j])
		// The side nearest the relaxed value is explored first.
		if x[j]-math.Floor(x[j]) >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}
	if sol == nil {
		return 0, nil, infeasible, nil
	}
	return best, sol, solved, nil
}

func pruneTol(incumbent float64) float64 {
	if math.IsInf(incumbent, 1) {
		return 0
	}
	return 1e-9 * math.Max(1, math.Abs(incumbent))
}

// mostFractional returns the column among cols farthest from integrality, or
// -1 when every one is integral within tol.
func mostFractional(cols []int, x []float64, tol float64) int {
	pick, worst := -1, tol
	for _, j := range cols {
		f := x[j] - math.Floor(x[j])
		if d := math.Min(f, 1-f); d > worst {
			pick, worst = j, d
		}
	}
	return pick
}

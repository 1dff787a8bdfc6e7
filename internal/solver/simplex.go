package solver

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"siteplan/internal/opt"
)

var (
	errInfeasible = errors.New("relaxation infeasible")
	errUnbounded  = errors.New("relaxation unbounded")
	errCutoff     = errors.New("relaxation bound above incumbent")
	errTimeLimit  = errors.New("time limit reached")
	errStalled    = errors.New("simplex iteration limit reached")
)

const (
	feasTol  = 1e-9
	dualTol  = 1e-9
	pivotTol = 1e-9

	// bigBound stands in for a missing upper bound on a column whose reduced
	// cost wants it as large as possible. A column left there at the optimum
	// means the relaxation is unbounded.
	bigBound = 1e9

	// checkEvery is how many pivots run between context and deadline checks.
	checkEvery = 32

	// maxTableauCells caps the dense tableau of a single component.
	maxTableauCells = 1 << 22
)

// tableau is a bounded-variable dual simplex over one component. Rows are the
// component's constraints, each with its own slack column so the slacks form
// the starting basis; greater-or-equal rows are negated on the way in. The
// last column holds the transformed right-hand side.
//
// A tableau keeps its basis between solves. Branching only tightens bounds,
// which leaves the basis dual feasible, so the next node starts where the
// previous one stopped.
type tableau struct {
	vars []int // model index of each structural column
	n    int   // structural columns
	rows int
	cols int // structural plus slack columns

	cost   []float64
	lo, hi []float64

	init *mat.Dense
	t    *mat.Dense

	basis   []int  // basic column per row
	where   []int  // row of a basic column, -1 when nonbasic
	atUpper []bool // nonbasic column sits on its upper bound
	x       []float64
	xn      []float64 // nonbasic values, zero for basic columns
	d       []float64 // reduced costs

	pivots        int // since the last refactor
	refactorEvery int
}

func newTableau(m *opt.Model, c component) (*tableau, error) {
	n, rows := len(c.vars), len(c.rows)
	cols := n + rows
	if rows*(cols+1) > maxTableauCells {
		return nil, eris.Errorf("solver: component with %d variables and %d rows is too large to solve", n, rows)
	}

	local := make(map[int]int, n)
	tb := &tableau{
		vars:          c.vars,
		n:             n,
		rows:          rows,
		cols:          cols,
		cost:          make([]float64, cols),
		lo:            make([]float64, cols),
		hi:            make([]float64, cols),
		basis:         make([]int, rows),
		where:         make([]int, cols),
		atUpper:       make([]bool, cols),
		x:             make([]float64, cols),
		xn:            make([]float64, cols),
		d:             make([]float64, cols),
		refactorEvery: 2*rows + 100,
	}
	for k, j := range c.vars {
		v := m.Vars[j]
		if math.IsInf(v.Lower, -1) {
			return nil, eris.Errorf("solver: variable %s has no lower bound", v.Name)
		}
		local[j] = k
		tb.lo[k], tb.hi[k] = v.Lower, v.Upper
	}
	for _, t := range m.Objective.Terms {
		if k, ok := local[t.Var]; ok {
			tb.cost[k] += t.Coef
		}
	}

	tb.init = mat.NewDense(rows, cols+1, nil)
	for i, ci := range c.rows {
		con := m.Constraints[ci]
		sign := 1.0
		if con.Sense == opt.GreaterEqual {
			sign = -1
		}
		r := tb.init.RawRowView(i)
		for _, t := range con.Expr.Terms {
			r[local[t.Var]] += sign * t.Coef
		}
		r[n+i] = 1
		r[cols] = sign * con.RHS

		tb.lo[n+i] = 0
		tb.hi[n+i] = math.Inf(1)
		if con.Sense == opt.Equal {
			tb.hi[n+i] = 0
		}
	}
	tb.t = mat.DenseCopyOf(tb.init)
	tb.slackBasis()
	return tb, nil
}

func (tb *tableau) slackBasis() {
	for j := range tb.where {
		tb.where[j] = -1
	}
	for i := range tb.basis {
		tb.basis[i] = tb.n + i
		tb.where[tb.n+i] = i
	}
	tb.pivots = 0
}

// reset drops the current basis in favour of the slack basis.
func (tb *tableau) reset() {
	tb.t.Copy(tb.init)
	tb.slackBasis()
}

// setBounds installs structural bounds for the next solve.
func (tb *tableau) setBounds(lower, upper []float64) {
	copy(tb.lo[:tb.n], lower)
	copy(tb.hi[:tb.n], upper)
}

// refactor rebuilds the tableau from the original rows for the current basis,
// discarding accumulated rounding. It falls back to the slack basis when the
// basis turns out numerically singular.
func (tb *tableau) refactor() {
	want := make([]bool, tb.cols)
	target := append([]int(nil), tb.basis...)
	for _, q := range target {
		want[q] = true
	}
	tb.reset()
	for _, q := range target {
		if tb.where[q] >= 0 {
			continue
		}
		r, best := -1, pivotTol
		for i := 0; i < tb.rows; i++ {
			if want[tb.basis[i]] {
				continue
			}
			if a := math.Abs(tb.t.At(i, q)); a > best {
				r, best = i, a
			}
		}
		if r < 0 {
			tb.reset()
			return
		}
		tb.pivot(r, q)
	}
	tb.pivots = 0
}

// pivot makes column q basic in row r.
func (tb *tableau) pivot(r, q int) {
	pr := tb.t.RawRowView(r)
	floats.Scale(1/pr[q], pr)
	pr[q] = 1
	for i := 0; i < tb.rows; i++ {
		if i == r {
			continue
		}
		row := tb.t.RawRowView(i)
		if f := row[q]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[q] = 0
		}
	}
	if dq := tb.d[q]; dq != 0 {
		floats.AddScaled(tb.d, -dq, pr[:tb.cols])
		tb.d[q] = 0
	}
	leave := tb.basis[r]
	tb.where[leave] = -1
	tb.basis[r] = q
	tb.where[q] = r
	tb.atUpper[q] = false
	tb.pivots++
}

func (tb *tableau) fixed(j int) bool { return tb.hi[j]-tb.lo[j] <= 0 }

func (tb *tableau) nonbasicValue(j int) float64 {
	if !tb.atUpper[j] {
		return tb.lo[j]
	}
	if math.IsInf(tb.hi[j], 1) {
		return tb.lo[j] + bigBound
	}
	return tb.hi[j]
}

// prepare recomputes reduced costs, places every nonbasic column on the bound
// its reduced cost favours and derives the basic values. Any basis is dual
// feasible afterwards.
func (tb *tableau) prepare() {
	copy(tb.d, tb.cost)
	for i, q := range tb.basis {
		if cb := tb.cost[q]; cb != 0 {
			floats.AddScaled(tb.d, -cb, tb.t.RawRowView(i)[:tb.cols])
		}
	}
	for j := 0; j < tb.cols; j++ {
		if tb.where[j] >= 0 {
			tb.xn[j] = 0
			continue
		}
		switch {
		case tb.fixed(j):
			tb.atUpper[j] = false
		case tb.d[j] < -dualTol:
			tb.atUpper[j] = true
		case tb.d[j] > dualTol:
			tb.atUpper[j] = false
		case math.IsInf(tb.hi[j], 1):
			tb.atUpper[j] = false
		}
		tb.x[j] = tb.nonbasicValue(j)
		tb.xn[j] = tb.x[j]
	}
	for i, q := range tb.basis {
		row := tb.t.RawRowView(i)
		tb.x[q] = row[tb.cols] - floats.Dot(row[:tb.cols], tb.xn)
	}
}

func (tb *tableau) objective() float64 { return floats.Dot(tb.cost, tb.x) }

// structurals returns a copy of the structural column values.
func (tb *tableau) structurals() []float64 {
	return append([]float64(nil), tb.x[:tb.n]...)
}

// leaving picks the basic column with the largest bound violation and the
// bound it is driven to, or -1 when the basis is primal feasible.
func (tb *tableau) leaving() (int, float64) {
	r, worst, target := -1, 0.0, 0.0
	for i, q := range tb.basis {
		v := tb.x[q]
		if lo := tb.lo[q]; v < lo-feasTol*(1+math.Abs(lo)) {
			if lo-v > worst {
				r, worst, target = i, lo-v, lo
			}
		} else if hi := tb.hi[q]; v > hi+feasTol*(1+math.Abs(hi)) {
			if v-hi > worst {
				r, worst, target = i, v-hi, hi
			}
		}
	}
	return r, target
}

// entering runs the dual ratio test on row r. raise is true when the leaving
// column has to increase to reach its bound.
func (tb *tableau) entering(r int, raise bool) int {
	row := tb.t.RawRowView(r)
	q, bestRatio, bestAlpha := -1, math.Inf(1), 0.0
	for j := 0; j < tb.cols; j++ {
		if tb.where[j] >= 0 || tb.fixed(j) {
			continue
		}
		a := row[j]
		abs := math.Abs(a)
		if abs < pivotTol {
			continue
		}
		// Moving x_j by delta moves the leaving column by -a*delta.
		up := !tb.atUpper[j]
		if raise != (up == (a < 0)) {
			continue
		}
		dj := tb.d[j]
		if tb.atUpper[j] {
			dj = -dj
		}
		ratio := math.Max(dj, 0) / abs
		switch {
		case ratio < bestRatio-1e-12:
			q, bestRatio, bestAlpha = j, ratio, abs
		case ratio <= bestRatio+1e-12 && abs > bestAlpha:
			q, bestRatio, bestAlpha = j, math.Min(ratio, bestRatio), abs
		}
	}
	return q
}

// solve runs the dual simplex from the current basis under the installed
// bounds. It stops early with errCutoff once the objective, which never
// decreases along the way, reaches cutoff.
func (tb *tableau) solve(ctx context.Context, deadline time.Time, cutoff float64) (float64, error) {
	tb.prepare()
	limit := 50*(tb.rows+tb.cols) + 1000
	for it := 1; ; it++ {
		if it%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, eris.Wrap(err, "solver: simplex interrupted")
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return 0, errTimeLimit
			}
		}
		if it > limit {
			return 0, errStalled
		}
		if tb.pivots >= tb.refactorEvery {
			tb.refactor()
			tb.prepare()
		}
		if !math.IsInf(cutoff, 1) && tb.objective() >= cutoff {
			return 0, errCutoff
		}

		r, target := tb.leaving()
		if r < 0 {
			break
		}
		leave := tb.basis[r]
		raise := tb.x[leave] < target
		q := tb.entering(r, raise)
		if q < 0 {
			return 0, errInfeasible
		}

		delta := (tb.x[leave] - target) / tb.t.At(r, q)
		tb.x[q] += delta
		for i, b := range tb.basis {
			if a := tb.t.At(i, q); a != 0 {
				tb.x[b] -= a * delta
			}
		}
		tb.x[leave] = target
		tb.pivot(r, q)
		tb.atUpper[leave] = !raise && !tb.fixed(leave)
		tb.xn[leave] = target
		tb.xn[q] = 0
	}

	for j := 0; j < tb.cols; j++ {
		if math.IsNaN(tb.x[j]) {
			return 0, eris.New("solver: simplex produced NaN")
		}
		if tb.where[j] < 0 && tb.atUpper[j] && math.IsInf(tb.hi[j], 1) && tb.d[j] < -dualTol {
			return 0, errUnbounded
		}
	}
	return tb.objective(), nil
}

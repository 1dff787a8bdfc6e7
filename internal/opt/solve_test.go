package opt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	status    Status
	values    []float64
	err       error
	submitted *Model
}

func (f *fakeOracle) Submit(_ context.Context, m *Model) error {
	f.submitted = m
	return f.err
}
func (f *fakeOracle) Status() Status    { return f.status }
func (f *fakeOracle) Values() []float64 { return f.values }

func buildOne(t *testing.T) *Problem {
	t.Helper()
	p, err := Build(context.Background(), Snapshot{
		Zones:      []Zone{{ID: "Z1", CapacityGap: 150, Location: at(41, -87)}},
		Facilities: []Facility{{ID: "Z1", OriginalCapacity: 100}},
	}, DefaultOptions())
	require.NoError(t, err)
	return p
}

func TestSolveExtractsPlan(t *testing.T) {
	p := buildOne(t)
	x := valuesFor(p.Model, map[string]float64{
		"new_medium_Z1":   0.9999999,
		"new_small_Z1":    2e-8,
		"expansion_Z1":    0.05,
		"expansion_x1_Z1": 0.05,
	})
	o := &fakeOracle{status: StatusOptimal, values: x}

	plan, err := Solve(context.Background(), o, p)
	require.NoError(t, err)
	assert.Same(t, p.Model, o.submitted)

	built := plan.Built()
	require.Len(t, built, 1)
	assert.Equal(t, SitingResult{ZoneID: "Z1", Tier: "medium", Capacity: 200, Cost: 95000, Built: true}, built[0])
	assert.Equal(t, 1.0, plan.Values["new_medium_Z1"])
	assert.Equal(t, 0.0, plan.Values["new_small_Z1"])

	require.Len(t, plan.Expansions, 1)
	e := plan.Expansions[0]
	assert.InDelta(t, 0.05, e.Fraction, 1e-12)
	assert.InDelta(t, 5, e.AddedCapacity, 1e-9)
	assert.True(t, e.Expands)
	assert.Len(t, e.Pieces, 3)
	assert.InDelta(t, 20000+0.05*200*100, e.Cost, 1e-9)

	assert.InDelta(t, 205, plan.Coverage["Z1"], 1e-9)
	assert.InDelta(t, 95000+20000+1000, plan.Objective, 1e-6)
	assert.Equal(t, p.Stats(), plan.Stats)
}

func TestSolveStatuses(t *testing.T) {
	boom := errors.New("engine crashed")
	cases := []struct {
		name       string
		oracle     *fakeOracle
		infeasible bool
		status     Status
	}{
		{"infeasible", &fakeOracle{status: StatusInfeasible}, true, 0},
		{"infeasible with error", &fakeOracle{status: StatusInfeasible, err: boom}, true, 0},
		{"limit", &fakeOracle{status: StatusLimitReached, values: []float64{1}}, false, StatusLimitReached},
		{"unbounded", &fakeOracle{status: StatusUnbounded}, false, StatusUnbounded},
		{"submit error", &fakeOracle{status: StatusUnknown, err: boom}, false, StatusFailed},
		{"never finished", &fakeOracle{status: StatusUnknown}, false, StatusUnknown},
		{"short values", &fakeOracle{status: StatusOptimal, values: []float64{0, 1}}, false, StatusFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			plan, err := Solve(context.Background(), c.oracle, buildOne(t))
			require.Error(t, err)
			assert.Nil(t, plan)
			if c.infeasible {
				assert.ErrorIs(t, err, ErrInfeasible)
				assert.False(t, IsOracleError(err))
				return
			}
			var oe *OracleError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, c.status, oe.Status)
			if c.oracle.err != nil {
				assert.ErrorIs(t, err, boom)
			}
		})
	}
}

func TestAddConstraintMovesConstant(t *testing.T) {
	m := NewModel("t")
	x := m.AddContinuous("x", 0, 10)
	var e LinExpr
	e.AddTerm(x, 2).AddConstant(3)
	c := m.AddConstraint("c", e, LessEqual, 9)
	assert.Equal(t, 6.0, c.RHS)
	assert.Zero(t, c.Expr.Constant)
	assert.True(t, c.Satisfied([]float64{3}, 0))
	assert.False(t, c.Satisfied([]float64{3.5}, 0))
}

func TestAddVarRecordsDuplicates(t *testing.T) {
	m := NewModel("t")
	m.AddBinary("b")
	require.NoError(t, m.Err())
	var dup Var
	assert.NotPanics(t, func() { dup = m.AddContinuous("b", 0, 1) })
	assert.Equal(t, 1, dup.Index)
	got, ok := m.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
	var ie *InputError
	require.ErrorAs(t, m.Err(), &ie)
	assert.Equal(t, "variable", ie.Entity)
	assert.Equal(t, "b", ie.ID)
	v := m.AddVar("y", Binary, -5, 5)
	assert.Equal(t, 0.0, v.Lower)
	assert.Equal(t, 1.0, v.Upper)
}

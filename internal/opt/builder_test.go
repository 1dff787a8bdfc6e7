package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(lat, lng float64) *GeoPoint { return &GeoPoint{Lat: lat, Lng: lng} }

func valuesFor(m *Model, set map[string]float64) []float64 {
	x := make([]float64, len(m.Vars))
	for name, v := range set {
		vr, ok := m.Lookup(name)
		if !ok {
			panic("unknown variable " + name)
		}
		x[vr.Index] = v
	}
	return x
}

func TestBuildSingleZone(t *testing.T) {
	snap := Snapshot{
		Zones:      []Zone{{ID: "60601", CapacityGap: 150, Location: at(41.88, -87.62)}},
		Facilities: []Facility{{ID: "60601", OriginalCapacity: 1000}},
	}
	p, err := Build(context.Background(), snap, DefaultOptions())
	require.NoError(t, err)

	m := p.Model
	assert.Equal(t, "childcare_expansion_and_distance", m.Name)
	for _, name := range []string{
		"new_small_60601", "new_medium_60601", "new_large_60601",
		"expansion_60601", "expansion_x1_60601", "expansion_x2_60601", "expansion_x3_60601",
	} {
		_, ok := m.Lookup(name)
		assert.True(t, ok, name)
	}

	st := p.Stats()
	assert.Equal(t, Stats{Variables: 7, Binaries: 3, Constraints: 2, SitedZones: 1, Facilities: 1}, st)

	cov := m.ConstraintsWithPrefix("capacity_constraint_")
	require.Len(t, cov, 1)
	assert.Equal(t, GreaterEqual, cov[0].Sense)
	assert.Equal(t, 150.0, cov[0].RHS)
	// 100*s + 200*m + 400*l + 1000*expansion
	x := valuesFor(m, map[string]float64{"new_medium_60601": 1, "expansion_60601": 0.05})
	assert.InDelta(t, 250, cov[0].Expr.Eval(x), 1e-9)

	split := m.ConstraintsWithPrefix("expansion_split_")
	require.Len(t, split, 1)
	assert.Equal(t, Equal, split[0].Sense)
	assert.Zero(t, split[0].RHS)

	ex, _ := m.Lookup("expansion_60601")
	assert.Equal(t, 0.0, ex.Lower)
	assert.InDelta(t, 0.2, ex.Upper, 1e-12)
}

func TestBuildObjective(t *testing.T) {
	snap := Snapshot{
		Zones:      []Zone{{ID: "A", CapacityGap: 100, Location: at(41, -87)}},
		Facilities: []Facility{{ID: "A", OriginalCapacity: 1000}},
	}
	p, err := Build(context.Background(), snap, DefaultOptions())
	require.NoError(t, err)

	x := valuesFor(p.Model, map[string]float64{
		"new_small_A":    1,
		"expansion_A":    0.15,
		"expansion_x1_A": 0.10,
		"expansion_x2_A": 0.05,
	})
	// 65000 + 20000 fee + 0.10*200*1000 + 0.05*400*1000
	assert.InDelta(t, 125000, p.Model.Objective.Eval(x), 1e-6)
	for _, c := range p.Model.Constraints {
		assert.True(t, c.Satisfied(x, 1e-9), c.Name)
	}
}

func TestBuildSkipsZonesWithoutGap(t *testing.T) {
	snap := Snapshot{
		Zones: []Zone{
			{ID: "A", CapacityGap: 0},
			{ID: "B", CapacityGap: -20},
			{ID: "C", CapacityGap: 10, Location: at(41, -87)},
		},
		Facilities: []Facility{{ID: "A", OriginalCapacity: 50}},
	}
	p, err := Build(context.Background(), snap, DefaultOptions())
	require.NoError(t, err, "zones with no gap need no coordinates")

	require.Len(t, p.Sitings, 1)
	assert.Equal(t, "C", p.Sitings[0].Zone.ID)
	_, ok := p.Model.Lookup("new_small_A")
	assert.False(t, ok)
	assert.Len(t, p.Model.ConstraintsWithPrefix("capacity_constraint_"), 3)
}

func TestBuildInputErrors(t *testing.T) {
	good := func() Snapshot {
		return Snapshot{
			Zones:      []Zone{{ID: "A", CapacityGap: 10, Location: at(41, -87)}},
			Facilities: []Facility{{ID: "A", OriginalCapacity: 100}},
		}
	}
	cases := []struct {
		name   string
		mutate func(*Snapshot, *Options)
		entity string
	}{
		{"duplicate zone", func(s *Snapshot, _ *Options) { s.Zones = append(s.Zones, s.Zones[0]) }, "zone"},
		{"empty zone id", func(s *Snapshot, _ *Options) { s.Zones[0].ID = ""; s.Facilities = nil }, "zone"},
		{"nan gap", func(s *Snapshot, _ *Options) { s.Zones[0].CapacityGap = math.NaN() }, "zone"},
		{"orphan facility", func(s *Snapshot, _ *Options) { s.Facilities[0].ID = "Z" }, "facility"},
		{"zero capacity", func(s *Snapshot, _ *Options) { s.Facilities[0].OriginalCapacity = 0 }, "facility"},
		{"duplicate facility", func(s *Snapshot, _ *Options) { s.Facilities = append(s.Facilities, s.Facilities[0]) }, "facility"},
		{"missing coordinate", func(s *Snapshot, _ *Options) { s.Zones[0].Location = nil }, "coordinate"},
		{"latitude out of range", func(s *Snapshot, _ *Options) { s.Zones[0].Location = at(95, 0) }, "coordinate"},
		{"zero separation", func(_ *Snapshot, o *Options) { o.SeparationMiles = 0 }, "option"},
		{"unknown target", func(_ *Snapshot, o *Options) { o.Target = "seniors" }, "option"},
		{"unknown fee mode", func(_ *Snapshot, o *Options) { o.FeeMode = "sometimes" }, "option"},
		{"no tiers", func(_ *Snapshot, o *Options) { o.Schedule.Tiers = nil }, "option"},
		{"negative band rate", func(_ *Snapshot, o *Options) { o.Schedule.Bands[0].Rate = -1 }, "option"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			snap, opts := good(), DefaultOptions()
			c.mutate(&snap, &opts)
			p, err := Build(context.Background(), snap, opts)
			require.Error(t, err)
			assert.Nil(t, p)
			var ie *InputError
			require.True(t, errors.As(err, &ie), "got %T", err)
			assert.Equal(t, c.entity, ie.Entity)
			assert.True(t, IsInputError(err))
		})
	}
}

func TestBuildRejectsCollidingVariableNames(t *testing.T) {
	// expansion_x1_60601 is both the first band piece of 60601 and the
	// expansion total of x1_60601.
	snap := Snapshot{
		Zones: []Zone{
			{ID: "60601", CapacityGap: 150, Location: at(41.88, -87.62)},
			{ID: "x1_60601", CapacityGap: 150, Location: at(41.98, -87.62)},
		},
		Facilities: []Facility{
			{ID: "60601", OriginalCapacity: 1000},
			{ID: "x1_60601", OriginalCapacity: 1000},
		},
	}
	var (
		p   *Problem
		err error
	)
	require.NotPanics(t, func() { p, err = Build(context.Background(), snap, DefaultOptions()) })
	require.Error(t, err)
	assert.Nil(t, p)
	var ie *InputError
	require.True(t, errors.As(err, &ie), "got %T", err)
	assert.Equal(t, "variable", ie.Entity)
	assert.Equal(t, "expansion_x1_60601", ie.ID)
	assert.True(t, IsInputError(err))
}

func TestBuildConflictConstraint(t *testing.T) {
	snap := Snapshot{Zones: []Zone{
		{ID: "A", CapacityGap: 100, Location: at(41.0, -87.6)},
		{ID: "B", CapacityGap: 100, Location: at(41.0004, -87.6)},
		{ID: "C", CapacityGap: 100, Location: at(41.01, -87.6)},
	}}
	p, err := Build(context.Background(), snap, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, p.Pairs, 1)
	assert.Equal(t, "A", p.Pairs[0].A)
	assert.Equal(t, "B", p.Pairs[0].B)

	rows := p.Model.ConstraintsWithPrefix("distance_constraint_")
	require.Len(t, rows, 1)
	assert.Equal(t, "distance_constraint_A_B", rows[0].Name)
	assert.Equal(t, LessEqual, rows[0].Sense)
	assert.Equal(t, 1.0, rows[0].RHS)
	assert.Len(t, rows[0].Expr.Terms, 6)

	both := valuesFor(p.Model, map[string]float64{"new_small_A": 1, "new_large_B": 1})
	assert.False(t, rows[0].Satisfied(both, 1e-9))
	one := valuesFor(p.Model, map[string]float64{"new_small_A": 1, "new_large_C": 1})
	assert.True(t, rows[0].Satisfied(one, 1e-9))
}

func TestBuildCoverageUnder5(t *testing.T) {
	snap := Snapshot{Zones: []Zone{
		{ID: "A", CapacityGap: 500, Under5Gap: 90, Location: at(41, -87)},
		{ID: "B", CapacityGap: 300, Under5Gap: 0},
	}}
	opts := DefaultOptions()
	opts.Target = TargetUnder5
	p, err := Build(context.Background(), snap, opts)
	require.NoError(t, err)

	rows := p.Model.ConstraintsWithPrefix("capacity_constraint_")
	require.Len(t, rows, 2)
	assert.Equal(t, 90.0, rows[0].RHS)
	assert.Zero(t, rows[1].RHS)
	assert.Len(t, p.Sitings, 1, "B has no under-5 gap")
}

func TestBuildExclusiveTiers(t *testing.T) {
	snap := Snapshot{Zones: []Zone{{ID: "A", CapacityGap: 500, Location: at(41, -87)}}}
	opts := DefaultOptions()
	opts.ExclusiveTiers = true
	p, err := Build(context.Background(), snap, opts)
	require.NoError(t, err)

	rows := p.Model.ConstraintsWithPrefix("tier_exclusive_")
	require.Len(t, rows, 1)
	x := valuesFor(p.Model, map[string]float64{"new_small_A": 1, "new_large_A": 1})
	assert.False(t, rows[0].Satisfied(x, 1e-9))
}

func TestEncodeExpansionGated(t *testing.T) {
	m := NewModel("t")
	ev := EncodeExpansion(m, Facility{ID: "F", OriginalCapacity: 1000}, DefaultSchedule(), FeeGated)
	require.NotNil(t, ev.Expands)
	assert.Equal(t, "expands_F", ev.Expands.Name)
	assert.Equal(t, Binary, ev.Expands.Kind)

	idle := make([]float64, len(m.Vars))
	assert.Zero(t, ev.Cost.Eval(idle), "no fee without expansion")

	gate := m.ConstraintsWithPrefix("expansion_gate_")
	require.Len(t, gate, 1)
	x := valuesFor(m, map[string]float64{"expansion_F": 0.05, "expansion_x1_F": 0.05})
	assert.False(t, gate[0].Satisfied(x, 1e-9), "expansion requires the gate")
	x[ev.Expands.Index] = 1
	assert.True(t, gate[0].Satisfied(x, 1e-9))
	assert.InDelta(t, 20000+0.05*200*1000, ev.Cost.Eval(x), 1e-9)
}

func TestEncodeExpansionUnconditionalFee(t *testing.T) {
	m := NewModel("t")
	ev := EncodeExpansion(m, Facility{ID: "F", OriginalCapacity: 300}, DefaultSchedule(), FeeUnconditional)
	assert.Nil(t, ev.Expands)
	assert.Equal(t, 20000.0, ev.Cost.Eval(make([]float64, len(m.Vars))))
	assert.Empty(t, m.ConstraintsWithPrefix("band_"), "default bands are convex")
}

func TestEncodeExpansionNonConvexOrdering(t *testing.T) {
	s := Schedule{
		Tiers: DefaultSchedule().Tiers,
		Bands: []Band{{Width: 0.1, Rate: 1000}, {Width: 0.1, Rate: 200}},
	}
	require.False(t, s.Convex())

	m := NewModel("t")
	EncodeExpansion(m, Facility{ID: "F", OriginalCapacity: 100}, s, FeeUnconditional)
	z, ok := m.Lookup("band_full_1_F")
	require.True(t, ok)
	assert.Equal(t, Binary, z.Kind)
	assert.Len(t, m.ConstraintsWithPrefix("band_fill_"), 1)
	assert.Len(t, m.ConstraintsWithPrefix("band_open_"), 1)

	// second band open while first is not full
	x := valuesFor(m, map[string]float64{"expansion_F": 0.1, "expansion_x2_F": 0.1})
	violated := false
	for _, c := range m.Constraints {
		if !c.Satisfied(x, 1e-9) {
			violated = true
		}
	}
	assert.True(t, violated)
}

func TestScheduleDefaults(t *testing.T) {
	s := DefaultSchedule()
	assert.InDelta(t, 0.2, s.MaxExpansion(), 1e-12)
	assert.Equal(t, 20000.0, s.FixedFee())
	assert.True(t, s.Convex())
}

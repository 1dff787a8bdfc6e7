package opt

import (
	"context"
	"math"
)

// Problem is an assembled model together with the handles needed to read a
// plan back out of an oracle's value vector.
type Problem struct {
	Model      *Model
	Options    Options
	Zones      []Zone
	Sitings    []SitingVars
	Expansions []ExpansionVars
	Pairs      []ConflictPair
}

// Stats summarises model size.
type Stats struct {
	Variables     int `json:"variables"`
	Binaries      int `json:"binaries"`
	Constraints   int `json:"constraints"`
	ConflictPairs int `json:"conflictPairs"`
	SitedZones    int `json:"sitedZones"`
	Facilities    int `json:"facilities"`
}

// Stats reports the size of the assembled model.
func (p *Problem) Stats() Stats {
	st := Stats{
		Variables:     len(p.Model.Vars),
		Constraints:   len(p.Model.Constraints),
		ConflictPairs: len(p.Pairs),
		SitedZones:    len(p.Sitings),
		Facilities:    len(p.Expansions),
	}
	for _, v := range p.Model.Vars {
		if v.Kind == Binary {
			st.Binaries++
		}
	}
	return st
}

// Build validates snap and assembles the full minimization model: siting
// binaries for zones with a positive gap, piecewise expansion for every
// facility, one coverage row per zone, one conflict row per close pair of
// sited zones, and the total-cost objective.
func Build(ctx context.Context, snap Snapshot, opts Options) (*Problem, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	zoneIdx, err := validateZones(snap.Zones)
	if err != nil {
		return nil, err
	}
	if err := validateFacilities(snap.Facilities, zoneIdx); err != nil {
		return nil, err
	}

	var eligible []Zone
	for _, z := range snap.Zones {
		if targetGap(z, opts.Target) > 0 {
			eligible = append(eligible, z)
		}
	}
	pairs, err := FindConflictPairs(ctx, eligible, opts.SeparationMiles)
	if err != nil {
		return nil, err
	}

	m := NewModel("childcare_expansion_and_distance")
	p := &Problem{Model: m, Options: opts, Zones: snap.Zones, Pairs: pairs}

	sitings := make(map[string]SitingVars, len(eligible))
	for _, z := range eligible {
		sv := EncodeSiting(m, z, opts.Schedule.Tiers, opts.ExclusiveTiers)
		sitings[z.ID] = sv
		p.Sitings = append(p.Sitings, sv)
	}

	expansions := make(map[string]ExpansionVars, len(snap.Facilities))
	for _, f := range snap.Facilities {
		ev := EncodeExpansion(m, f, opts.Schedule, opts.FeeMode)
		expansions[f.ID] = ev
		p.Expansions = append(p.Expansions, ev)
	}

	for _, sv := range p.Sitings {
		m.AddToObjective(sv.Cost())
	}
	for _, ev := range p.Expansions {
		m.AddToObjective(ev.Cost)
	}

	AddCoverageConstraints(m, snap.Zones, sitings, expansions, opts.Target)
	AddConflictConstraints(m, pairs, sitings)
	if err := m.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func validateOptions(o Options) error {
	if len(o.Schedule.Tiers) == 0 {
		return inputErr("option", "tiers", "at least one size tier is required")
	}
	seen := map[string]bool{}
	for _, t := range o.Schedule.Tiers {
		if t.Name == "" || seen[t.Name] {
			return inputErr("option", t.Name, "tier names must be unique and non-empty")
		}
		seen[t.Name] = true
		if !finite(t.Capacity) || t.Capacity <= 0 || !finite(t.Cost) || t.Cost < 0 {
			return inputErr("option", t.Name, "tier capacity must be positive and cost non-negative")
		}
	}
	if len(o.Schedule.Bands) == 0 {
		return inputErr("option", "bands", "at least one expansion band is required")
	}
	for i, b := range o.Schedule.Bands {
		if !finite(b.Width) || b.Width <= 0 || !finite(b.Rate) || b.Rate < 0 || !finite(b.FixedFee) || b.FixedFee < 0 {
			return inputErr("option", "bands", "band %d must have positive width and non-negative rate and fee", i+1)
		}
	}
	if !finite(o.SeparationMiles) || o.SeparationMiles <= 0 {
		return inputErr("option", "separation", "must be positive, got %v", o.SeparationMiles)
	}
	switch o.Target {
	case TargetTotal, TargetUnder5:
	default:
		return inputErr("option", "coverage_target", "unknown target %q", o.Target)
	}
	switch o.FeeMode {
	case FeeUnconditional, FeeGated:
	default:
		return inputErr("option", "fixed_fee", "unknown mode %q", o.FeeMode)
	}
	return nil
}

func validateZones(zones []Zone) (map[string]int, error) {
	idx := make(map[string]int, len(zones))
	for i, z := range zones {
		if z.ID == "" {
			return nil, inputErr("zone", "", "empty identifier at position %d", i)
		}
		if _, dup := idx[z.ID]; dup {
			return nil, inputErr("zone", z.ID, "duplicate identifier")
		}
		if !finite(z.CapacityGap) || !finite(z.Under5Gap) {
			return nil, inputErr("zone", z.ID, "gaps must be finite")
		}
		idx[z.ID] = i
	}
	return idx, nil
}

func validateFacilities(facs []Facility, zones map[string]int) error {
	seen := make(map[string]bool, len(facs))
	for _, f := range facs {
		if seen[f.ID] {
			return inputErr("facility", f.ID, "duplicate identifier")
		}
		seen[f.ID] = true
		if _, ok := zones[f.ID]; !ok {
			return inputErr("facility", f.ID, "no matching zone")
		}
		if !finite(f.OriginalCapacity) || f.OriginalCapacity <= 0 {
			return inputErr("facility", f.ID, "original capacity must be positive, got %v", f.OriginalCapacity)
		}
	}
	return nil
}

package planner

import (
	"time"

	"siteplan/internal/config"
	"siteplan/internal/model"
	"siteplan/internal/opt"
	"siteplan/internal/solver"
)

// Snapshot converts a wire request into the optimisation input, preserving
// request order.
func Snapshot(req model.PlanRequest) opt.Snapshot {
	snap := opt.Snapshot{
		Zones:      make([]opt.Zone, 0, len(req.Zones)),
		Facilities: make([]opt.Facility, 0, len(req.Facilities)),
	}
	for _, z := range req.Zones {
		zone := opt.Zone{ID: z.ID, CapacityGap: z.CapacityGap, Under5Gap: z.Under5Gap}
		if z.Location != nil {
			zone.Location = &opt.GeoPoint{Lat: z.Location.Lat, Lng: z.Location.Lng}
		}
		snap.Zones = append(snap.Zones, zone)
	}
	for _, f := range req.Facilities {
		snap.Facilities = append(snap.Facilities, opt.Facility{ID: f.ZoneID, OriginalCapacity: f.OriginalCapacity})
	}
	return snap
}

// ModelOptions applies request overrides on top of the configured defaults.
// Values are not validated here; opt.Build rejects bad ones as input errors.
func ModelOptions(def config.PlanningConfig, o *model.PlanOptions) opt.Options {
	out := opt.DefaultOptions()
	if def.SeparationMiles != 0 {
		out.SeparationMiles = def.SeparationMiles
	}
	if def.CoverageTarget != "" {
		out.Target = opt.CoverageTarget(def.CoverageTarget)
	}
	if def.FixedFee != "" {
		out.FeeMode = opt.FixedFeeMode(def.FixedFee)
	}
	out.ExclusiveTiers = def.ExclusiveTiers
	if o == nil {
		return out
	}
	if o.SeparationMiles != nil {
		out.SeparationMiles = *o.SeparationMiles
	}
	if o.CoverageTarget != "" {
		out.Target = opt.CoverageTarget(o.CoverageTarget)
	}
	if o.FixedFee != "" {
		out.FeeMode = opt.FixedFeeMode(o.FixedFee)
	}
	if o.ExclusiveTiers != nil {
		out.ExclusiveTiers = *o.ExclusiveTiers
	}
	return out
}

// SolverOptions bounds the search; a request may tighten but not extend the
// configured limits.
func SolverOptions(def config.SolverConfig, o *model.PlanOptions) solver.Options {
	out := solver.Options{
		NodeLimit: def.NodeLimit,
		TimeLimit: time.Duration(def.TimeBudgetSecs) * time.Second,
		IntTol:    def.IntTol,
	}
	if o == nil {
		return out
	}
	if o.TimeBudgetMs > 0 {
		d := time.Duration(o.TimeBudgetMs) * time.Millisecond
		if out.TimeLimit == 0 || d < out.TimeLimit {
			out.TimeLimit = d
		}
	}
	if o.NodeLimit > 0 && (out.NodeLimit == 0 || o.NodeLimit < out.NodeLimit) {
		out.NodeLimit = o.NodeLimit
	}
	return out
}

// applyPlan copies an optimal result onto the stored plan. Only built sitings
// and non-zero variable values are kept.
func applyPlan(out *model.PlanOut, plan *opt.Plan) {
	obj := plan.Objective
	out.Objective = &obj
	out.Sitings = nil
	for _, s := range plan.Built() {
		out.Sitings = append(out.Sitings, model.SitingOut{ZoneID: s.ZoneID, Tier: s.Tier, Capacity: s.Capacity, Cost: s.Cost})
	}
	out.Expansions = nil
	for _, e := range plan.Expansions {
		out.Expansions = append(out.Expansions, model.ExpansionOut{
			FacilityID:       e.FacilityID,
			OriginalCapacity: e.OriginalCapacity,
			Fraction:         e.Fraction,
			Pieces:           e.Pieces,
			AddedCapacity:    e.AddedCapacity,
			Cost:             e.Cost,
		})
	}
	out.Values = make(map[string]float64)
	for name, v := range plan.Values {
		if v != 0 {
			out.Values[name] = v
		}
	}
}

func statsOut(s opt.Stats) *model.ModelStats {
	return &model.ModelStats{
		Variables:     s.Variables,
		Binaries:      s.Binaries,
		Constraints:   s.Constraints,
		ConflictPairs: s.ConflictPairs,
		SitedZones:    s.SitedZones,
		Facilities:    s.Facilities,
	}
}

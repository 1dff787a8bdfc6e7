package opt

// targetGap returns the gap the coverage constraint of z must meet.
func targetGap(z Zone, t CoverageTarget) float64 {
	if t == TargetUnder5 {
		return z.Under5Gap
	}
	return z.CapacityGap
}

// AddCoverageConstraints requires, for every zone, new capacity plus
// attributed expansion capacity to reach the zone's gap. Zones without
// variables still get a (trivially satisfied) row.
func AddCoverageConstraints(m *Model, zones []Zone, sitings map[string]SitingVars, expansions map[string]ExpansionVars, t CoverageTarget) {
	for _, z := range zones {
		var supply LinExpr
		if sv, ok := sitings[z.ID]; ok {
			supply.AddExpr(sv.Capacity(), 1)
		}
		if ev, ok := expansions[z.ID]; ok {
			supply.AddExpr(ev.AddedCapacity(), 1)
		}
		m.AddConstraint("capacity_constraint_"+z.ID, supply, GreaterEqual, targetGap(z, t))
	}
}

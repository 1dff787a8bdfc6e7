package opt

import "fmt"

// SitingVars are the new-construction binaries of one zone, parallel to Tiers.
type SitingVars struct {
	Zone  Zone
	Tiers []SizeTier
	Built []Var
}

// Capacity is sum(tier capacity * built).
func (s SitingVars) Capacity() LinExpr {
	var x LinExpr
	for i, v := range s.Built {
		x.AddTerm(v, s.Tiers[i].Capacity)
	}
	return x
}

// Cost is sum(tier cost * built).
func (s SitingVars) Cost() LinExpr {
	var x LinExpr
	for i, v := range s.Built {
		x.AddTerm(v, s.Tiers[i].Cost)
	}
	return x
}

// Count is the number of new facilities built in the zone.
func (s SitingVars) Count() LinExpr {
	var x LinExpr
	for _, v := range s.Built {
		x.AddTerm(v, 1)
	}
	return x
}

// EncodeSiting declares one binary per tier for z. Tiers are independent
// unless exclusive is set, in which case at most one may be chosen.
func EncodeSiting(m *Model, z Zone, tiers []SizeTier, exclusive bool) SitingVars {
	sv := SitingVars{Zone: z, Tiers: tiers}
	for _, t := range tiers {
		sv.Built = append(sv.Built, m.AddBinary(fmt.Sprintf("new_%s_%s", t.Name, z.ID)))
	}
	if exclusive {
		m.AddConstraint("tier_exclusive_"+z.ID, sv.Count(), LessEqual, 1)
	}
	return sv
}

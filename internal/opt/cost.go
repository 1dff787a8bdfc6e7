package opt

import "fmt"

// ExpansionVars holds one facility's expansion variables and the linear cost
// expression built over them.
type ExpansionVars struct {
	Facility Facility
	Total    Var
	Pieces   []Var
	Expands  *Var // set in FeeGated mode
	Cost     LinExpr
}

// AddedCapacity is the seat expression contributed by this facility.
func (e ExpansionVars) AddedCapacity() LinExpr {
	var x LinExpr
	x.AddTerm(e.Total, e.Facility.OriginalCapacity)
	return x
}

// EncodeExpansion declares the total expansion fraction of f and one piece
// per band of s, ties them together with an equality, and returns the cost
// expression fee + sum(rate_k * capacity * piece_k).
//
// With non-decreasing rates a minimizing objective fills cheaper bands first
// on its own. Otherwise explicit band-ordering binaries are added.
func EncodeExpansion(m *Model, f Facility, s Schedule, mode FixedFeeMode) ExpansionVars {
	maxExp := s.MaxExpansion()
	ev := ExpansionVars{
		Facility: f,
		Total:    m.AddContinuous("expansion_"+f.ID, 0, maxExp),
	}

	var split LinExpr
	split.AddTerm(ev.Total, 1)
	for k, b := range s.Bands {
		p := m.AddContinuous(fmt.Sprintf("expansion_x%d_%s", k+1, f.ID), 0, b.Width)
		ev.Pieces = append(ev.Pieces, p)
		split.AddTerm(p, -1)
		ev.Cost.AddTerm(p, b.Rate*f.OriginalCapacity)
	}
	m.AddConstraint("expansion_split_"+f.ID, split, Equal, 0)

	fee := s.FixedFee()
	switch mode {
	case FeeGated:
		y := m.AddBinary("expands_" + f.ID)
		ev.Expands = &y
		var gate LinExpr
		gate.AddTerm(ev.Total, 1).AddTerm(y, -maxExp)
		m.AddConstraint("expansion_gate_"+f.ID, gate, LessEqual, 0)
		ev.Cost.AddTerm(y, fee)
	default:
		ev.Cost.AddConstant(fee)
	}

	if !s.Convex() {
		addBandOrdering(m, f.ID, ev.Pieces, s.Bands)
	}
	return ev
}

// addBandOrdering forces band k to be full before band k+1 takes any share:
// piece_k >= width_k*z_k and piece_{k+1} <= width_{k+1}*z_k.
func addBandOrdering(m *Model, id string, pieces []Var, bands []Band) {
	for k := 0; k+1 < len(pieces); k++ {
		z := m.AddBinary(fmt.Sprintf("band_full_%d_%s", k+1, id))

		var full LinExpr
		full.AddTerm(pieces[k], 1).AddTerm(z, -bands[k].Width)
		m.AddConstraint(fmt.Sprintf("band_fill_%d_%s", k+1, id), full, GreaterEqual, 0)

		var next LinExpr
		next.AddTerm(pieces[k+1], 1).AddTerm(z, -bands[k+1].Width)
		m.AddConstraint(fmt.Sprintf("band_open_%d_%s", k+2, id), next, LessEqual, 0)
	}
}

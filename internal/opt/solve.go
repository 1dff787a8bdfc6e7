package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// SitingResult is the value of one (zone, tier) decision.
type SitingResult struct {
	ZoneID   string  `json:"zoneId"`
	Tier     string  `json:"tier"`
	Capacity float64 `json:"capacity"`
	Cost     float64 `json:"cost"`
	Built    bool    `json:"built"`
}

// ExpansionResult is the value of one facility's expansion variables.
type ExpansionResult struct {
	FacilityID       string    `json:"facilityId"`
	OriginalCapacity float64   `json:"originalCapacity"`
	Fraction         float64   `json:"fraction"`
	Pieces           []float64 `json:"pieces"`
	AddedCapacity    float64   `json:"addedCapacity"`
	Cost             float64   `json:"cost"`
	Expands          bool      `json:"expands"`
}

// Plan is the solution of an optimal solve.
type Plan struct {
	Objective  float64            `json:"objective"`
	Sitings    []SitingResult     `json:"sitings"`
	Expansions []ExpansionResult  `json:"expansions"`
	Coverage   map[string]float64 `json:"coverage"` // zone -> seats added
	Values     map[string]float64 `json:"values"`   // variable name -> value
	Stats      Stats              `json:"stats"`
}

// Built returns the decisions whose value is 1.
func (p *Plan) Built() []SitingResult {
	var out []SitingResult
	for _, s := range p.Sitings {
		if s.Built {
			out = append(out, s)
		}
	}
	return out
}

const valueTol = 1e-6

// Solve submits the problem's model to oracle and turns an optimal answer
// into a Plan. Infeasibility returns ErrInfeasible; every other non-optimal
// outcome returns *OracleError. Nothing is retried.
func Solve(ctx context.Context, oracle Oracle, p *Problem) (*Plan, error) {
	if err := oracle.Submit(ctx, p.Model); err != nil {
		st := oracle.Status()
		if st == StatusInfeasible {
			return nil, ErrInfeasible
		}
		if st == StatusUnknown || st == StatusOptimal {
			st = StatusFailed
		}
		return nil, &OracleError{Status: st, Err: err}
	}
	switch st := oracle.Status(); st {
	case StatusOptimal:
	case StatusInfeasible:
		return nil, ErrInfeasible
	default:
		return nil, &OracleError{Status: st}
	}

	raw := oracle.Values()
	if len(raw) != len(p.Model.Vars) {
		return nil, &OracleError{
			Status: StatusFailed,
			Err:    fmt.Errorf("got %d values for %d variables", len(raw), len(p.Model.Vars)),
		}
	}
	values := clean(p.Model.Vars, raw)
	return extract(p, values), nil
}

// clean rounds binaries and snaps continuous values onto their bounds when
// within tolerance.
func clean(vars []Var, raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range vars {
		x := raw[i]
		if v.Kind == Binary {
			x = math.Round(x)
		}
		if math.Abs(x-v.Lower) < valueTol {
			x = v.Lower
		}
		if math.Abs(x-v.Upper) < valueTol {
			x = v.Upper
		}
		out[i] = x
	}
	return out
}

func extract(p *Problem, values []float64) *Plan {
	plan := &Plan{
		Objective: p.Model.Objective.Eval(values),
		Coverage:  make(map[string]float64, len(p.Zones)),
		Values:    make(map[string]float64, len(values)),
		Stats:     p.Stats(),
	}
	for _, v := range p.Model.Vars {
		plan.Values[v.Name] = values[v.Index]
	}
	for _, z := range p.Zones {
		plan.Coverage[z.ID] = 0
	}
	for _, sv := range p.Sitings {
		for i, b := range sv.Built {
			built := values[b.Index] > 0.5
			plan.Sitings = append(plan.Sitings, SitingResult{
				ZoneID:   sv.Zone.ID,
				Tier:     sv.Tiers[i].Name,
				Capacity: sv.Tiers[i].Capacity,
				Cost:     sv.Tiers[i].Cost,
				Built:    built,
			})
			if built {
				plan.Coverage[sv.Zone.ID] += sv.Tiers[i].Capacity
			}
		}
	}
	for _, ev := range p.Expansions {
		r := ExpansionResult{
			FacilityID:       ev.Facility.ID,
			OriginalCapacity: ev.Facility.OriginalCapacity,
			Fraction:         values[ev.Total.Index],
			Cost:             ev.Cost.Eval(values),
		}
		for _, pc := range ev.Pieces {
			r.Pieces = append(r.Pieces, values[pc.Index])
		}
		r.AddedCapacity = r.Fraction * r.OriginalCapacity
		r.Expands = r.Fraction > valueTol
		plan.Expansions = append(plan.Expansions, r)
		plan.Coverage[ev.Facility.ID] += r.AddedCapacity
	}
	return plan
}

// IsInputError reports whether err is an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsOracleError reports whether err is an *OracleError.
func IsOracleError(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe)
}

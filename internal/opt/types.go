package opt

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Zone is a zip-code level demand unit.
type Zone struct {
	ID          string
	CapacityGap float64 // additional total seats required
	Under5Gap   float64 // additional seats required for ages 0-5
	Location    *GeoPoint
}

// Facility is an existing provider eligible for expansion. Its ID is the ID
// of the zone it is attributed to.
type Facility struct {
	ID               string
	OriginalCapacity float64
}

// Snapshot is the full input of one solve.
type Snapshot struct {
	Zones      []Zone
	Facilities []Facility
}

// SizeTier is a new-construction option.
type SizeTier struct {
	Name     string
	Capacity float64
	Cost     float64
}

// Band is one marginal-cost band of the expansion schedule. Rate is charged
// per seat of original capacity per unit of expansion fraction.
type Band struct {
	Width    float64
	FixedFee float64
	Rate     float64
}

// Schedule holds the construction tiers and the expansion cost bands.
type Schedule struct {
	Tiers []SizeTier
	Bands []Band
}

// DefaultSchedule is the fixed tier table and the 10/15/20% expansion bands.
func DefaultSchedule() Schedule {
	return Schedule{
		Tiers: []SizeTier{
			{Name: "small", Capacity: 100, Cost: 65000},
			{Name: "medium", Capacity: 200, Cost: 95000},
			{Name: "large", Capacity: 400, Cost: 115000},
		},
		Bands: []Band{
			{Width: 0.10, FixedFee: 20000, Rate: 200},
			{Width: 0.05, Rate: 400},
			{Width: 0.05, Rate: 1000},
		},
	}
}

// MaxExpansion is the sum of band widths.
func (s Schedule) MaxExpansion() float64 {
	total := 0.0
	for _, b := range s.Bands {
		total += b.Width
	}
	return total
}

// FixedFee is the fee charged per facility, summed over bands.
func (s Schedule) FixedFee() float64 {
	total := 0.0
	for _, b := range s.Bands {
		total += b.FixedFee
	}
	return total
}

// Convex reports whether band rates never decrease band over band. When they
// do not, cheaper later bands would be filled first by a minimizing solver
// and explicit ordering constraints are required.
func (s Schedule) Convex() bool {
	for i := 1; i < len(s.Bands); i++ {
		if s.Bands[i].Rate < s.Bands[i-1].Rate {
			return false
		}
	}
	return true
}

// CoverageTarget selects which gap the coverage constraints must meet.
type CoverageTarget string

const (
	TargetTotal  CoverageTarget = "total"
	TargetUnder5 CoverageTarget = "under5"
)

// FixedFeeMode selects how the per-facility expansion fee is charged.
type FixedFeeMode string

const (
	// FeeUnconditional charges the fee for every facility, expanded or not.
	FeeUnconditional FixedFeeMode = "unconditional"
	// FeeGated charges the fee only when the facility expands at all.
	FeeGated FixedFeeMode = "gated"
)

// DefaultSeparationMiles is the minimum distance between new sites.
const DefaultSeparationMiles = 0.06

// Options tune model construction.
type Options struct {
	Schedule        Schedule
	SeparationMiles float64
	Target          CoverageTarget
	FeeMode         FixedFeeMode
	ExclusiveTiers  bool
}

// DefaultOptions mirrors the reference planning model.
func DefaultOptions() Options {
	return Options{
		Schedule:        DefaultSchedule(),
		SeparationMiles: DefaultSeparationMiles,
		Target:          TargetTotal,
		FeeMode:         FeeUnconditional,
	}
}

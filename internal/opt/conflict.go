package opt

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ConflictPair is an unordered pair of zones closer than the separation
// threshold. A precedes B in the input order.
type ConflictPair struct {
	A, B  string
	Miles float64
}

// parallelPairsMin is the zone count below which pairs are scanned on the
// calling goroutine.
const parallelPairsMin = 256

// FindConflictPairs scans every unordered pair (i<j) of zones exactly once and
// returns those with distance below threshold, ordered by (i, j). Every zone
// must carry a valid location.
func FindConflictPairs(ctx context.Context, zones []Zone, threshold float64) ([]ConflictPair, error) {
	for _, z := range zones {
		if z.Location == nil {
			return nil, inputErr("coordinate", z.ID, "missing location")
		}
		if !validPoint(*z.Location) {
			return nil, inputErr("coordinate", z.ID, "out of range (%v, %v)", z.Location.Lat, z.Location.Lng)
		}
	}

	rows := make([][]ConflictPair, len(zones))
	scan := func(i int) {
		a := *zones[i].Location
		for j := i + 1; j < len(zones); j++ {
			b := *zones[j].Location
			// Great-circle distance is never shorter than the meridian arc.
			if EarthRadiusMiles*math.Abs(b.Lat-a.Lat)*math.Pi/180 > threshold*(1+1e-9) {
				continue
			}
			if d := HaversineMiles(a, b); d < threshold {
				rows[i] = append(rows[i], ConflictPair{A: zones[i].ID, B: zones[j].ID, Miles: d})
			}
		}
	}

	if len(zones) < parallelPairsMin {
		for i := range zones {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			scan(i)
		}
	} else {
		workers := runtime.GOMAXPROCS(0)
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for i := w; i < len(zones); i += workers {
					if err := gctx.Err(); err != nil {
						return err
					}
					scan(i)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var pairs []ConflictPair
	for _, r := range rows {
		pairs = append(pairs, r...)
	}
	return pairs, nil
}

// AddConflictConstraints allows at most one new facility, of any tier, across
// the two zones of each pair. Expansion of existing facilities is unaffected.
func AddConflictConstraints(m *Model, pairs []ConflictPair, sitings map[string]SitingVars) {
	for _, p := range pairs {
		var sum LinExpr
		sum.AddExpr(sitings[p.A].Count(), 1)
		sum.AddExpr(sitings[p.B].Count(), 1)
		m.AddConstraint("distance_constraint_"+p.A+"_"+p.B, sum, LessEqual, 1)
	}
}

package api

import (
	"math"
	"net/url"

	"github.com/rotisserie/eris"

	"siteplan/internal/model"
)

// Plans beyond these sizes are refused up front; the solver's dense tableau
// could not hold a connected model of that size anyway.
const (
	maxZones      = 5000
	maxFacilities = 5000
)

// validatePlanRequest rejects malformed requests before a plan is created.
// Domain checks (unknown facility zones, bad coordinates) are left to the
// model builder so they surface as an invalid plan.
func validatePlanRequest(req *model.PlanRequest) error {
	if len(req.Zones) == 0 {
		return eris.New("zones must not be empty")
	}
	if len(req.Zones) > maxZones {
		return eris.Errorf("at most %d zones per plan", maxZones)
	}
	if len(req.Facilities) > maxFacilities {
		return eris.Errorf("at most %d facilities per plan", maxFacilities)
	}
	if o := req.Options; o != nil {
		switch o.CoverageTarget {
		case "", "total", "under5":
		default:
			return eris.Errorf("invalid coverageTarget: %s", o.CoverageTarget)
		}
		switch o.FixedFee {
		case "", "unconditional", "gated":
		default:
			return eris.Errorf("invalid fixedFee: %s", o.FixedFee)
		}
		if o.SeparationMiles != nil && (math.IsNaN(*o.SeparationMiles) || *o.SeparationMiles <= 0) {
			return eris.New("separationMiles must be > 0")
		}
		if o.TimeBudgetMs < 0 {
			return eris.New("timeBudgetMs must be >= 0")
		}
		if o.NodeLimit < 0 {
			return eris.New("nodeLimit must be >= 0")
		}
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eris.Errorf("invalid url: %q", req.URL)
	}
	if len(req.Events) == 0 {
		return eris.New("events must not be empty")
	}
	for _, e := range req.Events {
		switch e {
		case model.EventPlanStarted, model.EventPlanSolved, model.EventPlanInfeasible, model.EventPlanFailed:
		default:
			return eris.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}

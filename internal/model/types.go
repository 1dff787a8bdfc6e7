package model

// API request/response types. The optimisation core works on its own types
// in internal/opt; these are the wire shapes.

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// ZoneIn is one zip-code zone with its unmet demand.
type ZoneIn struct {
	ID          string    `json:"id" yaml:"id"`
	CapacityGap float64   `json:"capacityGap" yaml:"capacity_gap"`
	Under5Gap   float64   `json:"under5Gap,omitempty" yaml:"under5_gap"`
	Location    *GeoPoint `json:"location,omitempty" yaml:"location"`
}

// FacilityIn is an existing provider attributed to the zone with the same ID.
type FacilityIn struct {
	ZoneID           string  `json:"zoneId" yaml:"zone_id"`
	OriginalCapacity float64 `json:"originalCapacity" yaml:"original_capacity"`
}

// PlanOptions override the server's planning defaults for one request.
type PlanOptions struct {
	SeparationMiles *float64 `json:"separationMiles,omitempty" yaml:"separation_miles"`
	CoverageTarget  string   `json:"coverageTarget,omitempty" yaml:"coverage_target"` // total, under5
	FixedFee        string   `json:"fixedFee,omitempty" yaml:"fixed_fee"`             // unconditional, gated
	ExclusiveTiers  *bool    `json:"exclusiveTiers,omitempty" yaml:"exclusive_tiers"`
	TimeBudgetMs    int      `json:"timeBudgetMs,omitempty" yaml:"time_budget_ms"`
	NodeLimit       int      `json:"nodeLimit,omitempty" yaml:"node_limit"`
}

type PlanRequest struct {
	TenantID   string       `json:"tenantId,omitempty" yaml:"-"`
	Name       string       `json:"name,omitempty" yaml:"name"`
	Zones      []ZoneIn     `json:"zones" yaml:"zones"`
	Facilities []FacilityIn `json:"facilities,omitempty" yaml:"facilities"`
	Options    *PlanOptions `json:"options,omitempty" yaml:"options"`
}

// Plan statuses.
const (
	PlanQueued     = "queued"
	PlanRunning    = "running"
	PlanOptimal    = "optimal"
	PlanInfeasible = "infeasible"
	PlanInvalid    = "invalid"
	PlanFailed     = "failed"
)

// Terminal reports whether status is a final plan status.
func Terminal(status string) bool {
	switch status {
	case PlanOptimal, PlanInfeasible, PlanInvalid, PlanFailed:
		return true
	}
	return false
}

type SitingOut struct {
	ZoneID   string  `json:"zoneId"`
	Tier     string  `json:"tier"`
	Capacity float64 `json:"capacity"`
	Cost     float64 `json:"cost"`
}

type ExpansionOut struct {
	FacilityID       string    `json:"facilityId"`
	OriginalCapacity float64   `json:"originalCapacity"`
	Fraction         float64   `json:"fraction"`
	Pieces           []float64 `json:"pieces"`
	AddedCapacity    float64   `json:"addedCapacity"`
	Cost             float64   `json:"cost"`
}

type ModelStats struct {
	Variables     int `json:"variables"`
	Binaries      int `json:"binaries"`
	Constraints   int `json:"constraints"`
	ConflictPairs int `json:"conflictPairs"`
	SitedZones    int `json:"sitedZones"`
	Facilities    int `json:"facilities"`
}

// PlanOut is a stored plan. Result fields are set only when Status is optimal.
type PlanOut struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenantId"`
	Name       string             `json:"name,omitempty"`
	Status     string             `json:"status"`
	Objective  *float64           `json:"objective,omitempty"`
	Sitings    []SitingOut        `json:"sitings,omitempty"`
	Expansions []ExpansionOut     `json:"expansions,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`
	Stats      *ModelStats        `json:"stats,omitempty"`
	Error      string             `json:"error,omitempty"`
	Nodes      int                `json:"nodes,omitempty"`
	SolveMs    int64              `json:"solveMs,omitempty"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
}

// Plan event types published to the broker and to webhook subscribers.
const (
	EventPlanStarted    = "plan.started"
	EventPlanIncumbent  = "plan.incumbent"
	EventPlanSolved     = "plan.solved"
	EventPlanInfeasible = "plan.infeasible"
	EventPlanFailed     = "plan.failed"
)

type PlanEvent struct {
	Type     string         `json:"type"`
	PlanID   string         `json:"planId"`
	TenantID string         `json:"tenantId,omitempty"`
	TS       string         `json:"ts"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

package api

import (
	"net/http"
	"time"

	"siteplan/internal/buildinfo"
)

// DebugJSON reports build info and the effective configuration without secrets.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":            c.Server.Port,
			"allowOrigins":    c.Server.AllowOrigins,
			"storeDriver":     c.Store.Driver,
			"hasDatabaseURL":  c.Store.DatabaseURL != "",
			"hasRedisURL":     c.Redis.URL != "",
			"rateRPS":         c.Rate.RPS,
			"rateBurst":       c.Rate.Burst,
			"webhookAttempts": c.Webhook.MaxAttempts,
			"solverTimeSecs":  c.Solver.TimeBudgetSecs,
			"solverNodeLimit": c.Solver.NodeLimit,
			"separationMiles": c.Planning.SeparationMiles,
			"coverageTarget":  c.Planning.CoverageTarget,
			"fixedFee":        c.Planning.FixedFee,
			"exclusiveTiers":  c.Planning.ExclusiveTiers,
		},
	}
	writeJSON(w, http.StatusOK, info)
}

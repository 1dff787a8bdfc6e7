package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"siteplan/internal/opt"
	"siteplan/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// statusFor maps planner and store errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var ie *opt.InputError
	var oe *opt.OracleError
	switch {
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity, "Invalid planning input"
	case errors.Is(err, opt.ErrInfeasible):
		return http.StatusUnprocessableEntity, "No feasible plan"
	case errors.As(err, &oe):
		return http.StatusBadGateway, "Solver did not finish"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 100
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlanSolves counts finished plans by terminal status
	PlanSolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "siteplan_plan_solves_total", Help: "Plans solved by terminal status."},
		[]string{"status"},
	)
	// SolveDuration tracks build+solve wall time in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "siteplan_solve_duration_seconds", Help: "Model build and solve time in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
		[]string{"status"},
	)
	// ModelVariables and ModelConstraints observe assembled model sizes
	ModelVariables = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "siteplan_model_variables", Help: "Variables per assembled model.", Buckets: prometheus.ExponentialBuckets(8, 4, 8)},
	)
	ModelConstraints = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "siteplan_model_constraints", Help: "Constraints per assembled model.", Buckets: prometheus.ExponentialBuckets(8, 4, 8)},
	)
	// ConflictPairs observes the number of close zone pairs per model
	ConflictPairs = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "siteplan_conflict_pairs", Help: "Conflict pairs per assembled model.", Buckets: []float64{0, 1, 5, 25, 100, 500, 2500}},
	)
	// SearchNodes observes branch-and-bound nodes per solve
	SearchNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "siteplan_search_nodes", Help: "Branch-and-bound nodes per solve.", Buckets: prometheus.ExponentialBuckets(1, 4, 10)},
	)
	// PlansInFlight is the number of solves currently running
	PlansInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "siteplan_plans_in_flight", Help: "Solves currently running."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlanSolves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(ModelVariables)
		Registry.MustRegister(ModelConstraints)
		Registry.MustRegister(ConflictPairs)
		Registry.MustRegister(SearchNodes)
		Registry.MustRegister(PlansInFlight)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

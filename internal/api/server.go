// Package api implements the HTTP surface of the planning service.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"siteplan/internal/config"
	"siteplan/internal/events"
	"siteplan/internal/metrics"
	"siteplan/internal/planner"
	"siteplan/internal/store"
	"siteplan/internal/webhooks"
)

const defaultTenant = "t_demo"

type Server struct {
	Cfg     *config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Broker  events.Broker
	Planner *planner.Service
	Limiter *TenantLimiter
	Log     *zap.Logger
}

// NewServer wires the store, broker, webhook publisher and planner from cfg.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	broker := events.New(ctx, cfg.Redis)
	pub := webhooks.NewPublisher(st)
	return &Server{
		Cfg:     cfg,
		Store:   st,
		Pub:     pub,
		Broker:  broker,
		Planner: planner.New(st, broker, pub, cfg),
		Limiter: NewTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
		Log:     zap.L().Named("api"),
	}, nil
}

// Routes returns the service's handler with middleware applied.
func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()

	// Plans
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /request, /events/stream, /events/ws

	// Subscriptions and webhook admin
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return s.logMiddleware(s.corsMiddleware(mux))
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhook)
}

// Close stops background solves and releases the store.
func (s *Server) Close() error {
	s.Planner.Close()
	if rb, ok := s.Broker.(interface{ Close() error }); ok {
		_ = rb.Close()
	}
	return s.Store.Close()
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = defaultTenant
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

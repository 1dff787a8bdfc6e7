package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"siteplan/internal/config"
	"siteplan/internal/model"
)

// Store is the persistence interface used by the planner service and API.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, tenantID string, req model.PlanRequest) (model.PlanOut, error)
	SavePlan(ctx context.Context, p model.PlanOut) error
	GetPlan(ctx context.Context, tenantID, id string) (model.PlanOut, error)
	GetPlanRequest(ctx context.Context, tenantID, id string) (model.PlanRequest, error)
	ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.PlanOut, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}

// newPlanID returns a time-ordered id so that id order is creation order.
func newPlanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func queuedPlan(tenantID string, req model.PlanRequest) model.PlanOut {
	ts := now()
	return model.PlanOut{
		ID:        newPlanID(),
		TenantID:  tenantID,
		Name:      req.Name,
		Status:    model.PlanQueued,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Open returns the store selected by cfg.Driver, migrated when cfg.Migrate is set.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close() //nolint:errcheck
				return nil, err
			}
		}
		return s, nil
	case "postgres":
		p, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := p.Migrate(ctx); err != nil {
				p.Close() //nolint:errcheck
				return nil, err
			}
		}
		return p, nil
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
}

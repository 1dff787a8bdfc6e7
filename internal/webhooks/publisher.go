package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteplan/internal/model"
	"siteplan/internal/store"
)

type Publisher struct {
	Store store.Store
	Log   *zap.Logger
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s, Log: zap.L().Named("webhooks")}
}

// Envelope is the JSON body posted to subscribers. ID doubles as the
// delivery dedup key.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

// Emit enqueues a delivery for every subscription of the tenant that listens
// for eventType. Failures are logged; plan processing never blocks on them.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) int {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		p.Log.Warn("load subscriptions", zap.String("tenant", tenantID), zap.String("event", eventType), zap.Error(err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}
	body, err := json.Marshal(Envelope{
		ID:       "evt_" + uuid.New().String(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		p.Log.Error("marshal webhook envelope", zap.String("event", eventType), zap.Error(err))
		return 0
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("enqueue webhook", zap.String("subscription", s.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// EmitPlanEvent forwards a plan lifecycle event to subscribers.
func (p *Publisher) EmitPlanEvent(ctx context.Context, ev model.PlanEvent) int {
	return p.Emit(ctx, ev.TenantID, ev.Type, ev)
}

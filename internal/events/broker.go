// Package events fans plan lifecycle events out to stream subscribers.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"siteplan/internal/config"
	"siteplan/internal/model"
)

// Broker delivers events published for a plan to every current subscriber
// of that plan. Slow subscribers drop events rather than block publishers.
type Broker interface {
	Subscribe(planID string) chan model.PlanEvent
	Unsubscribe(planID string, ch chan model.PlanEvent)
	Publish(planID string, evt model.PlanEvent)
}

// Memory is an in-process Broker.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan model.PlanEvent]struct{} // planID -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan model.PlanEvent]struct{}{}}
}

func (b *Memory) Subscribe(planID string) chan model.PlanEvent {
	ch := make(chan model.PlanEvent, 16)
	b.mu.Lock()
	if b.subs[planID] == nil {
		b.subs[planID] = map[chan model.PlanEvent]struct{}{}
	}
	b.subs[planID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(planID string, ch chan model.PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[planID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, planID)
	}
	close(ch)
}

func (b *Memory) Publish(planID string, evt model.PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[planID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// New returns a Redis broker when cfg.URL is set and reachable, otherwise
// the in-memory broker.
func New(ctx context.Context, cfg config.RedisConfig) Broker {
	if cfg.URL == "" {
		return NewMemory()
	}
	rb, err := NewRedis(ctx, cfg)
	if err != nil {
		zap.L().Warn("redis broker unavailable, using in-memory broker", zap.Error(err))
		return NewMemory()
	}
	return rb
}

package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"siteplan/internal/config"
	"siteplan/internal/model"
)

// Redis implements Broker over Redis Pub/Sub so every API replica sees
// events from solves running on any other replica.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger

	mu   sync.Mutex
	subs map[chan model.PlanEvent]*redis.PubSub
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	rdb := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	prefix := cfg.Channel
	if prefix == "" {
		prefix = "siteplan:plan-events"
	}
	return &Redis{rdb: rdb, prefix: prefix, log: zap.L().Named("events"), subs: map[chan model.PlanEvent]*redis.PubSub{}}, nil
}

func (b *Redis) Subscribe(planID string) chan model.PlanEvent {
	ch := make(chan model.PlanEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.channel(planID))
	// Wait for the subscription confirmation so events published right after
	// Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe", zap.String("plan", planID), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.PlanEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Pub/Sub connection; ch is closed once its reader
// goroutine drains.
func (b *Redis) Unsubscribe(planID string, ch chan model.PlanEvent) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *Redis) Publish(planID string, evt model.PlanEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(planID), data).Err(); err != nil {
		b.log.Warn("redis publish", zap.String("plan", planID), zap.Error(err))
	}
}

func (b *Redis) Close() error { return b.rdb.Close() }

func (b *Redis) channel(planID string) string { return b.prefix + ":" + planID }

package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteplan/internal/config"
	"siteplan/internal/model"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("p1")
	other := b.Subscribe("p2")

	b.Publish("p1", model.PlanEvent{Type: model.EventPlanStarted, PlanID: "p1"})

	select {
	case got := <-ch:
		assert.Equal(t, model.EventPlanStarted, got.Type)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("unexpected event for p2: %+v", got)
	default:
	}

	b.Unsubscribe("p1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.NotPanics(t, func() { b.Unsubscribe("p1", ch) })
	assert.NotPanics(t, func() { b.Publish("p1", model.PlanEvent{}) })
}

func TestMemoryPublishDropsWhenFull(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("p1")
	for i := 0; i < 100; i++ {
		b.Publish("p1", model.PlanEvent{Type: model.EventPlanIncumbent})
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestNew_FallsBackToMemory(t *testing.T) {
	assert.IsType(t, &Memory{}, New(context.Background(), config.RedisConfig{}))
	assert.IsType(t, &Memory{}, New(context.Background(), config.RedisConfig{URL: "not a url"}))
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), config.RedisConfig{URL: "::"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: parse url")
}

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis broker test")
	}
	b, err := NewRedis(context.Background(), config.RedisConfig{URL: url, Channel: "siteplan:test"})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() }) //nolint:errcheck

	ch := b.Subscribe("p1")
	b.Publish("p1", model.PlanEvent{Type: model.EventPlanSolved, PlanID: "p1"})
	select {
	case got := <-ch:
		assert.Equal(t, model.EventPlanSolved, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}
	b.Unsubscribe("p1", ch)
}

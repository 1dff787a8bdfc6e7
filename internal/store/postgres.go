package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"siteplan/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Postgres implements Store using pgxpool.
type Postgres struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS plans (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	request    JSONB NOT NULL,
	plan       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_plans_tenant_status ON plans(tenant_id, status);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	url        TEXT NOT NULL,
	events     JSONB NOT NULL,
	secret     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	subscription_id TEXT,
	event_type      TEXT NOT NULL,
	url             TEXT NOT NULL,
	secret          TEXT,
	payload         BYTEA NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ,
	last_error      TEXT,
	response_code   INTEGER,
	latency_ms      INTEGER,
	dedup_key       TEXT NOT NULL,
	delivered_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, event_type, url, dedup_key)
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries(status, next_attempt_at);
`

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (p *Postgres) Ping(ctx context.Context) error {
	return eris.Wrap(p.pool.Ping(ctx), "postgres: ping")
}

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func (p *Postgres) CreatePlan(ctx context.Context, tenantID string, req model.PlanRequest) (model.PlanOut, error) {
	out := queuedPlan(tenantID, req)
	req.TenantID = tenantID
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "postgres: marshal request")
	}
	planJSON, err := json.Marshal(out)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "postgres: marshal plan")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO plans (id, tenant_id, status, request, plan) VALUES ($1, $2, $3, $4, $5)`,
		out.ID, tenantID, out.Status, reqJSON, planJSON,
	)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "postgres: insert plan")
	}
	return out, nil
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.PlanOut) error {
	plan.UpdatedAt = now()
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE plans SET status = $1, plan = $2, updated_at = now() WHERE tenant_id = $3 AND id = $4`,
		plan.Status, planJSON, plan.TenantID, plan.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update plan %s", plan.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, id string) (model.PlanOut, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT plan FROM plans WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlanOut{}, ErrNotFound
	}
	if err != nil {
		return model.PlanOut{}, eris.Wrapf(err, "postgres: get plan %s", id)
	}
	var out model.PlanOut
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.PlanOut{}, eris.Wrap(err, "postgres: unmarshal plan")
	}
	return out, nil
}

func (p *Postgres) GetPlanRequest(ctx context.Context, tenantID, id string) (model.PlanRequest, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT request FROM plans WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlanRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PlanRequest{}, eris.Wrapf(err, "postgres: get plan request %s", id)
	}
	var req model.PlanRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return model.PlanRequest{}, eris.Wrap(err, "postgres: unmarshal request")
	}
	return req, nil
}

func (p *Postgres) ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.PlanOut, string, error) {
	limit = pageSize(limit)
	query := `SELECT plan FROM plans WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		query += fmt.Sprintf(` AND id > $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()
	var out []model.PlanOut
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, "", eris.Wrap(err, "postgres: scan plan")
		}
		var pl model.PlanOut
		if err := json.Unmarshal(raw, &pl); err != nil {
			return nil, "", eris.Wrap(err, "postgres: unmarshal plan")
		}
		out = append(out, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrap(err, "postgres: iterate plans")
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, eris.Wrap(err, "postgres: marshal events")
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1, $2, $3, $4, $5)`,
		id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil {
		return model.Subscription{}, eris.Wrap(err, "postgres: insert subscription")
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	filter, _ := json.Marshal([]string{eventType})
	rows, err := p.pool.Query(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE tenant_id = $1 AND events @> $2::jsonb`, tenantID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: subscriptions for event")
	}
	return scanSubscriptions(rows, tenantID)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = pageSize(limit)
	var rows pgx.Rows
	var err error
	if cursor != "" {
		rows, err = p.pool.Query(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE tenant_id = $1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE tenant_id = $1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", eris.Wrap(err, "postgres: list subscriptions")
	}
	out, err := scanSubscriptions(rows, tenantID)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanSubscriptions(rows pgx.Rows, tenantID string) ([]model.Subscription, error) {
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, eris.Wrap(err, "postgres: scan subscription")
		}
		s.TenantID = tenantID
		if err := json.Unmarshal(ev, &s.Events); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal events")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate subscriptions")
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return eris.Wrap(err, "postgres: delete subscription")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.pool.Exec(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, now(), $8)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`,
		id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", eris.Wrap(err, "postgres: enqueue webhook")
	}
	return id, nil
}

const deliveryColumns = `id, tenant_id, COALESCE(subscription_id, ''), event_type, url, COALESCE(secret, ''), payload, status, attempts, next_attempt_at, COALESCE(last_error, ''), COALESCE(response_code, 0)`

func scanDeliveries(rows pgx.Rows) ([]WebhookDelivery, error) {
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload,
			&d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode); err != nil {
			return nil, eris.Wrap(err, "postgres: scan delivery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate deliveries")
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status IN ('pending', 'retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch due deliveries")
	}
	return scanDeliveries(rows)
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'delivered', delivered_at = now(), updated_at = now(), response_code = $2, latency_ms = $3 WHERE id = $1`,
			id, responseCode, latencyMs)
		return eris.Wrap(err, "postgres: mark delivered")
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(1 * time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'retry', last_error = $2, next_attempt_at = $3, updated_at = now(), response_code = $4, latency_ms = $5 WHERE id = $1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return eris.Wrap(err, "postgres: mark retry")
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'failed', last_error = $2, next_attempt_at = NULL, updated_at = now(), response_code = $3, latency_ms = $4 WHERE id = $1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return eris.Wrap(err, "postgres: fail delivery")
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = pageSize(limit)
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		query += fmt.Sprintf(` AND id > $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", eris.Wrap(err, "postgres: list deliveries")
	}
	out, err := scanDeliveries(rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhook_deliveries SET status = 'pending', next_attempt_at = now(), updated_at = now() WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return eris.Wrap(err, "postgres: retry delivery")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"siteplan/internal/model"
)

// SQLite implements Store using modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

// next_attempt_at is unix milliseconds so due checks compare integers.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS plans (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	request    TEXT NOT NULL,
	plan       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	url        TEXT NOT NULL,
	events     TEXT NOT NULL,
	secret     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	subscription_id TEXT NOT NULL DEFAULT '',
	event_type      TEXT NOT NULL,
	url             TEXT NOT NULL,
	secret          TEXT NOT NULL DEFAULT '',
	payload         BLOB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER,
	last_error      TEXT NOT NULL DEFAULT '',
	response_code   INTEGER NOT NULL DEFAULT 0,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	dedup_key       TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, event_type, url, dedup_key)
);

CREATE INDEX IF NOT EXISTS idx_plans_tenant_status ON plans(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries(status, next_attempt_at);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreatePlan(ctx context.Context, tenantID string, req model.PlanRequest) (model.PlanOut, error) {
	out := queuedPlan(tenantID, req)
	req.TenantID = tenantID
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "sqlite: marshal request")
	}
	planJSON, err := json.Marshal(out)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "sqlite: marshal plan")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, tenant_id, status, request, plan) VALUES (?, ?, ?, ?, ?)`,
		out.ID, tenantID, out.Status, string(reqJSON), string(planJSON),
	)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "sqlite: insert plan")
	}
	return out, nil
}

func (s *SQLite) SavePlan(ctx context.Context, p model.PlanOut) error {
	p.UpdatedAt = now()
	planJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, plan = ?, updated_at = datetime('now') WHERE tenant_id = ? AND id = ?`,
		p.Status, string(planJSON), p.TenantID, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update plan %s", p.ID)
	}
	return affected(res)
}

func (s *SQLite) GetPlan(ctx context.Context, tenantID, id string) (model.PlanOut, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM plans WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanOut{}, ErrNotFound
	}
	if err != nil {
		return model.PlanOut{}, eris.Wrapf(err, "sqlite: get plan %s", id)
	}
	var out model.PlanOut
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.PlanOut{}, eris.Wrap(err, "sqlite: unmarshal plan")
	}
	return out, nil
}

func (s *SQLite) GetPlanRequest(ctx context.Context, tenantID, id string) (model.PlanRequest, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT request FROM plans WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanRequest{}, ErrNotFound
	}
	if err != nil {
		return model.PlanRequest{}, eris.Wrapf(err, "sqlite: get plan request %s", id)
	}
	var req model.PlanRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return model.PlanRequest{}, eris.Wrap(err, "sqlite: unmarshal request")
	}
	return req, nil
}

func (s *SQLite) ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.PlanOut, string, error) {
	limit = pageSize(limit)
	query := `SELECT plan FROM plans WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if cursor != "" {
		query += ` AND id > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close()
	var out []model.PlanOut
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: scan plan")
		}
		var p model.PlanOut
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, "", eris.Wrap(err, "sqlite: unmarshal plan")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrap(err, "sqlite: iterate plans")
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *SQLite) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, eris.Wrap(err, "sqlite: marshal events")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES (?, ?, ?, ?, ?)`,
		id, req.TenantID, req.URL, string(ev), req.Secret)
	if err != nil {
		return model.Subscription{}, eris.Wrap(err, "sqlite: insert subscription")
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (s *SQLite) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, secret, events FROM subscriptions
		 WHERE tenant_id = ? AND EXISTS (SELECT 1 FROM json_each(subscriptions.events) WHERE json_each.value = ?)
		 ORDER BY id`, tenantID, eventType)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: subscriptions for event")
	}
	return scanSQLiteSubscriptions(rows, tenantID)
}

func (s *SQLite) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = pageSize(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, secret, events FROM subscriptions WHERE tenant_id = ? AND id > ? ORDER BY id LIMIT ?`,
		tenantID, cursor, limit)
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: list subscriptions")
	}
	out, err := scanSQLiteSubscriptions(rows, tenantID)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanSQLiteSubscriptions(rows *sql.Rows, tenantID string) ([]model.Subscription, error) {
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var ev string
		if err := rows.Scan(&sub.ID, &sub.URL, &sub.Secret, &ev); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subscription")
		}
		sub.TenantID = tenantID
		if err := json.Unmarshal([]byte(ev), &sub.Events); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal events")
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate subscriptions")
}

func (s *SQLite) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete subscription")
	}
	return affected(res)
}

// Webhook deliveries
func (s *SQLite) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	key := computeDedupKey(payload)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, next_attempt_at, dedup_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`,
		id, tenantID, subscriptionID, eventType, url, secret, payload, time.Now().UnixMilli(), key)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: enqueue webhook")
	}
	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM webhook_deliveries WHERE tenant_id = ? AND event_type = ? AND url = ? AND dedup_key = ?`,
		tenantID, eventType, url, key).Scan(&existing)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: lookup delivery")
	}
	return existing, nil
}

const sqliteDeliveryColumns = `id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, last_error, response_code`

func scanSQLiteDeliveries(rows *sql.Rows) ([]WebhookDelivery, error) {
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var next sql.NullInt64
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload,
			&d.Status, &d.Attempts, &next, &d.LastError, &d.ResponseCode); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delivery")
		}
		if next.Valid {
			t := time.UnixMilli(next.Int64)
			d.NextAttemptAt = &t
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate deliveries")
}

func (s *SQLite) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDeliveryColumns+` FROM webhook_deliveries
		 WHERE status IN ('pending', 'retry') AND next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT ?`,
		time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch due deliveries")
	}
	return scanSQLiteDeliveries(rows)
}

func (s *SQLite) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	var res sql.Result
	var err error
	if success {
		res, err = s.db.ExecContext(ctx,
			`UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'delivered', next_attempt_at = NULL, response_code = ?, latency_ms = ? WHERE id = ?`,
			responseCode, latencyMs, id)
	} else {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'retry', last_error = ?, next_attempt_at = ?, response_code = ?, latency_ms = ? WHERE id = ?`,
			lastError, nextAttemptAt.UnixMilli(), responseCode, latencyMs, id)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: mark delivery")
	}
	return affected(res)
}

func (s *SQLite) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET attempts = attempts + 1, status = 'failed', last_error = ?, next_attempt_at = NULL, response_code = ?, latency_ms = ? WHERE id = ?`,
		lastError, responseCode, latencyMs, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail delivery")
	}
	return affected(res)
}

func (s *SQLite) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	limit = pageSize(limit)
	query := `SELECT ` + sqliteDeliveryColumns + ` FROM webhook_deliveries WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if cursor != "" {
		query += ` AND id > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", eris.Wrap(err, "sqlite: list deliveries")
	}
	out, err := scanSQLiteDeliveries(rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *SQLite) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = 'pending', next_attempt_at = ? WHERE tenant_id = ? AND id = ?`,
		time.Now().UnixMilli(), tenantID, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: retry delivery")
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

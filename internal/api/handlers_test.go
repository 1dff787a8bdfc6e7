package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteplan/internal/config"
	"siteplan/internal/model"
	"siteplan/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Driver: "memory"},
		Webhook:  config.WebhookConfig{MaxAttempts: 3},
		Solver:   config.SolverConfig{TimeBudgetSecs: 30, NodeLimit: 100000, IntTol: 1e-6},
		Planning: config.PlanningConfig{SeparationMiles: 0.06, CoverageTarget: "total", FixedFee: "unconditional"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func singleZone(gap float64) model.PlanRequest {
	return model.PlanRequest{
		Name:  "one zone",
		Zones: []model.ZoneIn{{ID: "60601", CapacityGap: gap, Location: &model.GeoPoint{Lat: 41.88, Lng: -87.62}}},
	}
}

func decodePlan(t *testing.T, rr *httptest.ResponseRecorder) model.PlanOut {
	t.Helper()
	var out model.PlanOut
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)
}

func TestPlans_SolveSync(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rr := do(t, h, http.MethodPost, "/v1/plans", "t1", singleZone(150))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decodePlan(t, rr)
	assert.Equal(t, model.PlanOptimal, out.Status)
	require.NotNil(t, out.Objective)
	assert.InDelta(t, 95000, *out.Objective, 1e-4)
	require.Len(t, out.Sitings, 1)
	assert.Equal(t, "medium", out.Sitings[0].Tier)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+out.ID, "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, out.ID, decodePlan(t, rr).ID)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+out.ID+"/request", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var req model.PlanRequest
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &req))
	assert.Equal(t, "60601", req.Zones[0].ID)

	// other tenants cannot see it
	rr = do(t, h, http.MethodGet, "/v1/plans/"+out.ID, "t2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPlans_Async(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/v1/plans?async=true", "t1", singleZone(300))
	require.Equal(t, http.StatusAccepted, rr.Code)
	queued := decodePlan(t, rr)
	assert.Equal(t, model.PlanQueued, queued.Status)
	assert.Equal(t, "/v1/plans/"+queued.ID, rr.Header().Get("Location"))

	s.Planner.Wait()
	got := decodePlan(t, do(t, h, http.MethodGet, "/v1/plans/"+queued.ID, "t1", nil))
	assert.Equal(t, model.PlanOptimal, got.Status)
	assert.InDelta(t, 115000, *got.Objective, 1e-4)
}

func TestPlans_SizeCaps(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	big := model.PlanRequest{Zones: make([]model.ZoneIn, maxZones+1)}
	for i := range big.Zones {
		big.Zones[i] = model.ZoneIn{ID: fmt.Sprintf("z%d", i), CapacityGap: 1}
	}
	rr := do(t, h, http.MethodPost, "/v1/plans", "t1", big)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "zones per plan")

	many := singleZone(10)
	many.Facilities = make([]model.FacilityIn, maxFacilities+1)
	rr = do(t, h, http.MethodPost, "/v1/plans", "t1", many)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "facilities per plan")
}

func TestPlans_Infeasible(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	req := model.PlanRequest{Zones: []model.ZoneIn{
		{ID: "A", CapacityGap: 150, Location: &model.GeoPoint{Lat: 41.0, Lng: -87.6}},
		{ID: "B", CapacityGap: 150, Location: &model.GeoPoint{Lat: 41.0004, Lng: -87.6}},
	}}
	rr := do(t, h, http.MethodPost, "/v1/plans", "t1", req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body struct {
		Title string        `json:"title"`
		Plan  model.PlanOut `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "No feasible plan", body.Title)
	assert.Equal(t, model.PlanInfeasible, body.Plan.Status)
}

func TestPlans_InvalidInput(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	// facility attributed to an unknown zone is a builder error
	req := singleZone(10)
	req.Facilities = []model.FacilityIn{{ZoneID: "ghost", OriginalCapacity: 10}}
	rr := do(t, h, http.MethodPost, "/v1/plans", "t1", req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invalid"`)

	// request-shape errors never create a plan
	rr = do(t, h, http.MethodPost, "/v1/plans", "t1", model.PlanRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/plans", "t1", model.PlanRequest{
		Zones:   singleZone(10).Zones,
		Options: &model.PlanOptions{CoverageTarget: "seniors"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	req2 := httptest.NewRequest(http.MethodPost, "/v1/plans", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req2)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var page struct {
		Items []model.PlanOut `json:"items"`
	}
	require.NoError(t, json.Unmarshal(do(t, h, http.MethodGet, "/v1/plans", "t1", nil).Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
}

func TestPlans_ListByStatusAndCursor(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	for _, gap := range []float64{50, 150, 300} {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/plans", "t1", singleZone(gap)).Code)
	}

	var page struct {
		Items      []model.PlanOut `json:"items"`
		NextCursor string          `json:"nextCursor"`
	}
	rr := do(t, h, http.MethodGet, "/v1/plans?status=optimal&limit=2", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rr = do(t, h, http.MethodGet, "/v1/plans?limit=2&cursor="+page.NextCursor, "t1", nil)
	page.Items, page.NextCursor = nil, ""
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	rr = do(t, h, http.MethodGet, "/v1/plans?status=infeasible", "t1", nil)
	page.Items = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
}

func TestPlans_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateConfig{RPS: 0.001, Burst: 1}
	h := newTestServer(t, cfg).Routes()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/plans", "t1", singleZone(50)).Code)
	rr := do(t, h, http.MethodPost, "/v1/plans", "t1", singleZone(50))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	// buckets are per tenant
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/plans", "t2", singleZone(50)).Code)
}

func TestPlanEvents_StreamFinishedPlan(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	h := s.Routes()
	out := decodePlan(t, do(t, h, http.MethodPost, "/v1/plans", defaultTenant, singleZone(150)))

	resp, err := http.Get(srv.URL + "/v1/plans/" + out.ID + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "event: plan.snapshot", lines[0])
	assert.Contains(t, lines[1], `"status":"optimal"`)
}

func TestPlanEvents_WebSocketFinishedPlan(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	out := decodePlan(t, do(t, s.Routes(), http.MethodPost, "/v1/plans", defaultTenant, singleZone(150)))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/plans/" + out.ID + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var evt model.PlanEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "plan.snapshot", evt.Type)
	assert.Equal(t, out.ID, evt.PlanID)
	assert.Equal(t, model.PlanOptimal, evt.Payload["status"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestPlanEvents_UnknownPlan(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plans/nope/events/stream", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plans/nope", "", nil).Code)
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/v1/subscriptions", "t1", model.SubscriptionRequest{URL: "ftp://x", Events: []string{model.EventPlanSolved}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/subscriptions", "t1", model.SubscriptionRequest{URL: "https://hooks.example.com/p", Events: []string{"plan.bogus"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/subscriptions", "t1", model.SubscriptionRequest{
		URL: "https://hooks.example.com/p", Events: []string{model.EventPlanSolved}, Secret: "s3cret",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))
	assert.Equal(t, "t1", sub.TenantID)

	rr = do(t, h, http.MethodGet, "/v1/subscriptions", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "s3cret")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/plans", "t1", singleZone(50)).Code)

	var page struct {
		Items []store.WebhookDelivery `json:"items"`
	}
	rr = do(t, h, http.MethodGet, "/v1/webhook-deliveries", "t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	d := page.Items[0]
	assert.Equal(t, model.EventPlanSolved, d.EventType)
	assert.Equal(t, store.DeliveryPending, d.Status)

	rr = do(t, h, http.MethodPost, "/v1/webhook-deliveries/"+d.ID+"/retry", "t1", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/webhook-deliveries/"+d.ID+"/retry", "t2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "t1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "t1", nil).Code)
}

func TestDocsAndDebug(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rr := do(t, h, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/plans")

	rr = do(t, h, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/docs", "", nil).Code)

	rr = do(t, h, http.MethodGet, "/debug/info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"storeDriver":"memory"`)

	rr = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowOrigins = "https://app.example.com"
	h := newTestServer(t, cfg).Routes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/plans", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/plans/{id}", routeLabel("/v1/plans/abc"))
	assert.Equal(t, "/v1/plans/{id}/events/stream", routeLabel("/v1/plans/abc/events/stream"))
	assert.Equal(t, "/healthz", routeLabel("/healthz"))
}

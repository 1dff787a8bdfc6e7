package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"siteplan/internal/model"
)

const heartbeatInterval = 15 * time.Second

// PlansHandler handles POST/GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		_, tenant := s.withTenant(r)
		if !s.Limiter.Allow(tenant) {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Rate limited", "too many plan submissions", r.URL.Path)
			return
		}
		var req model.PlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validatePlanRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
			return
		}
		if r.URL.Query().Get("async") == "true" {
			out, err := s.Planner.Submit(r.Context(), tenant, req)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "Create plan failed", err.Error(), r.URL.Path)
				return
			}
			w.Header().Set("Location", "/v1/plans/"+out.ID)
			writeJSON(w, http.StatusAccepted, out)
			return
		}
		out, err := s.Planner.Run(r.Context(), tenant, req)
		if err != nil {
			if out.ID == "" || !model.Terminal(out.Status) {
				writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
				return
			}
			code, title := statusFor(err)
			writeJSON(w, code, map[string]any{
				"type": "about:blank", "title": title, "status": code, "detail": err.Error(),
				"instance": "/v1/plans/" + out.ID, "plan": out,
			})
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		q := r.URL.Query()
		items, next, err := s.Store.ListPlans(r.Context(), tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List plans failed", err.Error(), r.URL.Path)
			return
		}
		if items == nil {
			items = []model.PlanOut{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PlanByIDHandler handles GET /v1/plans/{id}, /v1/plans/{id}/request and the
// event streams under /v1/plans/{id}/events/.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if rest == "" || rest == r.URL.Path {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	_, tenant := s.withTenant(r)

	plan, err := s.Store.GetPlan(r.Context(), tenant, id)
	if err != nil {
		code, title := statusFor(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "":
		writeJSON(w, http.StatusOK, plan)
	case "request":
		req, err := s.Store.GetPlanRequest(r.Context(), tenant, id)
		if err != nil {
			code, title := statusFor(err)
			writeProblem(w, code, title, err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case "events/stream":
		s.streamPlanEvents(w, r, plan)
	case "events/ws":
		s.PlanEventsWSHandler(w, r, plan)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// streamPlanEvents serves plan events as Server-Sent Events until the plan
// reaches a terminal status or the client goes away.
func (s *Server) streamPlanEvents(w http.ResponseWriter, r *http.Request, plan model.PlanOut) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(evt model.PlanEvent) {
		b, _ := json.Marshal(evt)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	ch := s.Broker.Subscribe(plan.ID)
	defer s.Broker.Unsubscribe(plan.ID, ch)

	// Re-read after subscribing so a solve that finished in between is not missed.
	current, err := s.Store.GetPlan(r.Context(), plan.TenantID, plan.ID)
	if err == nil {
		plan = current
	}
	send(snapshotEvent(plan))
	if model.Terminal(plan.Status) {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if terminalEvent(evt.Type) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"planId\":%q,\"ts\":%q}\n\n", plan.ID, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// snapshotEvent describes a plan's current state as the first stream message.
func snapshotEvent(p model.PlanOut) model.PlanEvent {
	payload := map[string]any{"status": p.Status}
	if p.Objective != nil {
		payload["objective"] = *p.Objective
	}
	return model.PlanEvent{Type: "plan.snapshot", PlanID: p.ID, TenantID: p.TenantID, TS: time.Now().UTC().Format(time.RFC3339Nano), Payload: payload}
}

func terminalEvent(t string) bool {
	switch t {
	case model.EventPlanSolved, model.EventPlanInfeasible, model.EventPlanFailed:
		return true
	}
	return false
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	_, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = tenant
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, next, err := s.Store.ListSubscriptions(r.Context(), tenant, r.URL.Query().Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	_, tenant := s.withTenant(r)
	if err := s.Store.DeleteSubscription(r.Context(), tenant, id); err != nil {
		code, title := statusFor(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/webhook-deliveries/"), "/retry")
	_, tenant := s.withTenant(r)
	if err := s.Store.RetryWebhookDelivery(r.Context(), tenant, id); err != nil {
		code, title := statusFor(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks store connectivity.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Log.Warn("readiness check failed", zap.Error(err))
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

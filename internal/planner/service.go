// Package planner runs plan requests through model assembly and the solver,
// persisting results and publishing lifecycle events.
package planner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"siteplan/internal/config"
	"siteplan/internal/events"
	"siteplan/internal/metrics"
	"siteplan/internal/model"
	"siteplan/internal/opt"
	"siteplan/internal/solver"
	"siteplan/internal/store"
	"siteplan/internal/webhooks"
)

// Service owns plan execution. Submit runs solves on background goroutines
// bound to the service lifetime; Close cancels and waits for them.
type Service struct {
	Store    store.Store
	Broker   events.Broker
	Webhooks *webhooks.Publisher // optional
	Planning config.PlanningConfig
	Solver   config.SolverConfig
	Log      *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st store.Store, broker events.Broker, pub *webhooks.Publisher, cfg *config.Config) *Service {
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		Store:    st,
		Broker:   broker,
		Webhooks: pub,
		Planning: cfg.Planning,
		Solver:   cfg.Solver,
		Log:      zap.L().Named("planner"),
		base:     base,
		cancel:   cancel,
	}
}

// Run creates a plan and solves it before returning. The returned error is
// one of *opt.InputError, opt.ErrInfeasible or *opt.OracleError when the
// plan reached a non-optimal terminal status, or a store error.
func (s *Service) Run(ctx context.Context, tenantID string, req model.PlanRequest) (model.PlanOut, error) {
	out, err := s.Store.CreatePlan(ctx, tenantID, req)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "planner: create plan")
	}
	return s.execute(ctx, out, req)
}

// Submit creates a queued plan and solves it in the background.
func (s *Service) Submit(ctx context.Context, tenantID string, req model.PlanRequest) (model.PlanOut, error) {
	out, err := s.Store.CreatePlan(ctx, tenantID, req)
	if err != nil {
		return model.PlanOut{}, eris.Wrap(err, "planner: create plan")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.base, out, req); err != nil {
			s.Log.Debug("async plan finished without solution", zap.String("plan", out.ID), zap.Error(err))
		}
	}()
	return out, nil
}

// Wait blocks until every background solve has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Close cancels background solves and waits for them to record their status.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, out model.PlanOut, req model.PlanRequest) (res model.PlanOut, err error) {
	log := s.Log.With(zap.String("plan", out.ID), zap.String("tenant", out.TenantID))
	start := time.Now()
	metrics.PlansInFlight.Inc()
	defer metrics.PlansInFlight.Dec()
	// A panic in model assembly or the search must still leave the plan in a
	// terminal status and must not take the process down with it.
	defer func() {
		if r := recover(); r != nil {
			log.Error("plan panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = s.finish(ctx, log, out, start, eris.Errorf("planner: internal error: %v", r))
		}
	}()

	out.Status = model.PlanRunning
	if err := s.Store.SavePlan(ctx, out); err != nil {
		return out, eris.Wrap(err, "planner: mark running")
	}
	s.publish(ctx, out, model.EventPlanStarted, map[string]any{"zones": len(req.Zones), "facilities": len(req.Facilities)})

	problem, err := opt.Build(ctx, Snapshot(req), ModelOptions(s.Planning, req.Options))
	if err != nil {
		return s.finish(ctx, log, out, start, err)
	}
	stats := problem.Stats()
	out.Stats = statsOut(stats)
	metrics.ModelVariables.Observe(float64(stats.Variables))
	metrics.ModelConstraints.Observe(float64(stats.Constraints))
	metrics.ConflictPairs.Observe(float64(stats.ConflictPairs))

	sopts := SolverOptions(s.Solver, req.Options)
	sopts.OnIncumbent = func(objective float64, nodes int) {
		if s.Broker == nil {
			return
		}
		s.Broker.Publish(out.ID, model.PlanEvent{
			Type:     model.EventPlanIncumbent,
			PlanID:   out.ID,
			TenantID: out.TenantID,
			TS:       time.Now().UTC().Format(time.RFC3339Nano),
			Payload:  map[string]any{"objective": objective, "nodes": nodes},
		})
	}
	oracle := solver.New(sopts)
	plan, err := opt.Solve(ctx, oracle, problem)
	out.Nodes = oracle.Nodes()
	metrics.SearchNodes.Observe(float64(out.Nodes))
	if err != nil {
		return s.finish(ctx, log, out, start, err)
	}
	applyPlan(&out, plan)
	return s.finish(ctx, log, out, start, nil)
}

// finish classifies solveErr, persists the terminal plan and announces it.
func (s *Service) finish(ctx context.Context, log *zap.Logger, out model.PlanOut, start time.Time, solveErr error) (model.PlanOut, error) {
	var eventType string
	var inputErr *opt.InputError
	switch {
	case solveErr == nil:
		out.Status, eventType = model.PlanOptimal, model.EventPlanSolved
	case errors.As(solveErr, &inputErr):
		out.Status, eventType = model.PlanInvalid, model.EventPlanFailed
	case errors.Is(solveErr, opt.ErrInfeasible):
		out.Status, eventType = model.PlanInfeasible, model.EventPlanInfeasible
	default:
		out.Status, eventType = model.PlanFailed, model.EventPlanFailed
	}
	if solveErr != nil {
		out.Error = solveErr.Error()
	}
	elapsed := time.Since(start)
	out.SolveMs = elapsed.Milliseconds()
	metrics.PlanSolves.WithLabelValues(out.Status).Inc()
	metrics.SolveDuration.WithLabelValues(out.Status).Observe(elapsed.Seconds())

	// Persist even when the caller's context is gone so the plan never
	// stays "running".
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Store.SavePlan(saveCtx, out); err != nil {
		log.Error("save plan", zap.Error(err))
		return out, eris.Wrap(err, "planner: save plan")
	}

	payload := map[string]any{"status": out.Status, "solveMs": out.SolveMs, "nodes": out.Nodes}
	if out.Objective != nil {
		payload["objective"] = *out.Objective
	}
	if out.Error != "" {
		payload["error"] = out.Error
	}
	s.publish(saveCtx, out, eventType, payload)

	log.Info("plan finished",
		zap.String("status", out.Status),
		zap.Int64("solve_ms", out.SolveMs),
		zap.Int("nodes", out.Nodes),
		zap.Error(solveErr),
	)
	return out, solveErr
}

func (s *Service) publish(ctx context.Context, out model.PlanOut, eventType string, payload map[string]any) {
	evt := model.PlanEvent{
		Type:     eventType,
		PlanID:   out.ID,
		TenantID: out.TenantID,
		TS:       time.Now().UTC().Format(time.RFC3339Nano),
		Payload:  payload,
	}
	if s.Broker != nil {
		s.Broker.Publish(out.ID, evt)
	}
	if s.Webhooks != nil {
		s.Webhooks.EmitPlanEvent(ctx, evt)
	}
}

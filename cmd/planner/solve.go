package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteplan/internal/config"
	"siteplan/internal/integrations"
	"siteplan/internal/integrations/csvdir"
	"siteplan/internal/integrations/yamlfile"
	"siteplan/internal/model"
	"siteplan/internal/opt"
	"siteplan/internal/planner"
	"siteplan/internal/solver"
)

type solveFlags struct {
	snapshot       string
	csvDir         string
	coverage       string
	gatedFee       bool
	exclusiveTiers bool
	separation     float64
	timeBudget     time.Duration
	nodeLimit      int
}

func solveCmd() *cobra.Command {
	var f solveFlags
	cmd := &cobra.Command{
		Use:   "solve [path]",
		Short: "Build and solve a plan from a snapshot file or a CSV directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := f.source(args)
			if err != nil {
				return err
			}
			return runSolve(cmd.Context(), cmd.OutOrStdout(), src, cfg, f.options())
		},
	}
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "YAML or JSON snapshot file")
	cmd.Flags().StringVar(&f.csvDir, "csv-dir", "", "directory holding zones.csv, facilities.csv and coordinates.csv")
	cmd.Flags().StringVar(&f.coverage, "coverage", "", "coverage target: total or under5")
	cmd.Flags().BoolVar(&f.gatedFee, "gated-fee", false, "charge the expansion fee only for facilities that expand")
	cmd.Flags().BoolVar(&f.exclusiveTiers, "exclusive-tiers", false, "allow at most one new facility per zone")
	cmd.Flags().Float64Var(&f.separation, "separation", 0, "minimum miles between new sites (0 uses config)")
	cmd.Flags().DurationVar(&f.timeBudget, "time-limit", 0, "solver time limit (0 uses config)")
	cmd.Flags().IntVar(&f.nodeLimit, "node-limit", 0, "branch-and-bound node limit (0 uses config)")
	cmd.MarkFlagsMutuallyExclusive("snapshot", "csv-dir")
	return cmd
}

func (f solveFlags) source(args []string) (integrations.SnapshotSource, error) {
	switch {
	case f.csvDir != "":
		return csvdir.New(f.csvDir), nil
	case f.snapshot != "":
		return yamlfile.New(f.snapshot), nil
	case len(args) == 1:
		return integrations.Open(args[0])
	}
	return nil, eris.New("one of --snapshot, --csv-dir or a path argument is required")
}

// options turns flags into request overrides; unset flags leave config defaults.
func (f solveFlags) options() *model.PlanOptions {
	o := &model.PlanOptions{
		CoverageTarget: f.coverage,
		TimeBudgetMs:   int(f.timeBudget / time.Millisecond),
		NodeLimit:      f.nodeLimit,
	}
	if f.gatedFee {
		o.FixedFee = string(opt.FeeGated)
	}
	if f.exclusiveTiers {
		o.ExclusiveTiers = &f.exclusiveTiers
	}
	if f.separation > 0 {
		o.SeparationMiles = &f.separation
	}
	return o
}

// runSolve loads src, solves it and prints the objective followed by every
// variable value in model order.
func runSolve(ctx context.Context, w io.Writer, src integrations.SnapshotSource, cfg *config.Config, o *model.PlanOptions) error {
	log := zap.L().With(zap.String("source", src.Name()))

	req, err := src.Load(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	problem, err := opt.Build(ctx, planner.Snapshot(req), planner.ModelOptions(cfg.Planning, o))
	if err != nil {
		return eris.Wrap(err, "build model")
	}
	st := problem.Stats()
	log.Info("model built",
		zap.Int("variables", st.Variables),
		zap.Int("binaries", st.Binaries),
		zap.Int("constraints", st.Constraints),
		zap.Int("conflict_pairs", st.ConflictPairs),
	)

	bnb := solver.New(planner.SolverOptions(cfg.Solver, o))
	plan, err := opt.Solve(ctx, bnb, problem)
	log.Info("solve finished",
		zap.Int("nodes", bnb.Nodes()),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		if errors.Is(err, opt.ErrInfeasible) || opt.IsOracleError(err) {
			_, werr := fmt.Fprintln(w, "No optimal solution found")
			return werr
		}
		return err
	}

	if _, err := fmt.Fprintf(w, "Optimal objective value: %v\n", plan.Objective); err != nil {
		return err
	}
	for _, v := range problem.Model.Vars {
		if _, err := fmt.Fprintf(w, "%s: %v\n", v.Name, plan.Values[v.Name]); err != nil {
			return err
		}
	}
	return nil
}

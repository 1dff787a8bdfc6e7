package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteplan/internal/config"
	"siteplan/internal/integrations/yamlfile"
	"siteplan/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Solver:   config.SolverConfig{TimeBudgetSecs: 30, NodeLimit: 100000, IntTol: 1e-6},
		Planning: config.PlanningConfig{SeparationMiles: 0.06, CoverageTarget: "total", FixedFee: "unconditional"},
	}
}

func writeSnapshot(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunSolve_PrintsObjectiveAndValues(t *testing.T) {
	path := writeSnapshot(t, `
name: single
zones:
  - id: Z1
    capacity_gap: 150
    location: {lat: 41.0, lng: -87.0}
`)
	var out bytes.Buffer
	require.NoError(t, runSolve(context.Background(), &out, yamlfile.New(path), testConfig(), &model.PlanOptions{}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Optimal objective value: 95000", lines[0])
	assert.Contains(t, lines, "new_medium_Z1: 1")
	assert.Contains(t, lines, "new_small_Z1: 0")
}

func TestRunSolve_Infeasible(t *testing.T) {
	path := writeSnapshot(t, `
zones:
  - {id: A, capacity_gap: 150, location: {lat: 41.0, lng: -87.6}}
  - {id: B, capacity_gap: 150, location: {lat: 41.0004, lng: -87.6}}
`)
	var out bytes.Buffer
	require.NoError(t, runSolve(context.Background(), &out, yamlfile.New(path), testConfig(), nil))
	assert.Equal(t, "No optimal solution found\n", out.String())
}

func TestRunSolve_InvalidInputIsAnError(t *testing.T) {
	path := writeSnapshot(t, `
zones:
  - {id: Z1, capacity_gap: 10, location: {lat: 41.0, lng: -87.0}}
facilities:
  - {zone_id: ghost, original_capacity: 10}
`)
	var out bytes.Buffer
	err := runSolve(context.Background(), &out, yamlfile.New(path), testConfig(), nil)
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestSolveFlags(t *testing.T) {
	f := solveFlags{coverage: "under5", gatedFee: true, exclusiveTiers: true, separation: 0.1, nodeLimit: 50}
	o := f.options()
	assert.Equal(t, "under5", o.CoverageTarget)
	assert.Equal(t, "gated", o.FixedFee)
	require.NotNil(t, o.ExclusiveTiers)
	assert.True(t, *o.ExclusiveTiers)
	require.NotNil(t, o.SeparationMiles)
	assert.InDelta(t, 0.1, *o.SeparationMiles, 1e-12)
	assert.Equal(t, 50, o.NodeLimit)

	o = solveFlags{}.options()
	assert.Empty(t, o.FixedFee)
	assert.Nil(t, o.ExclusiveTiers)
	assert.Nil(t, o.SeparationMiles)

	_, err := solveFlags{}.source(nil)
	require.Error(t, err)
	src, err := solveFlags{csvDir: "data"}.source(nil)
	require.NoError(t, err)
	assert.Equal(t, "csv-dir", src.Name())
}

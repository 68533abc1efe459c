package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/generator"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/tailmetrics"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

func TestLineupResultsTailMetricKeys(t *testing.T) {
	drivers := []types.DriverRecord{
		{DriverID: 1, DisplayID: "11111111", Name: "Driver One", Team: "A", Salary: 9000},
		{DriverID: 2, DisplayID: "22222222", Name: "Driver Two", Team: "B", Salary: 8000},
	}
	portfolio := &generator.Portfolio{
		SlateID: "slate-1",
		Lineups: []generator.Lineup{
			{
				DriverIDs:    []int{1, 2},
				TotalSalary:  17000,
				SolverStatus: "optimal",
				Tail: []tailmetrics.Report{
					{Alpha: 0.99, Label: "top_1pct", CVaR: 310.5, VaR: 295.0, TopXPct: 0.012, ConditionalUpside: 15.5},
					{Alpha: 0.95, Label: "top_5pct", CVaR: 280.0, VaR: 260.0, TopXPct: 0.055, ConditionalUpside: 20.0},
				},
			},
		},
	}

	results := lineupResults(portfolio, drivers)
	require.Len(t, results, 1)
	tm := results[0].TailMetrics

	// Label-keyed metrics.
	assert.InDelta(t, 310.5, tm["cvar_top_1pct"], 1e-12)
	assert.InDelta(t, 295.0, tm["var_top_1pct"], 1e-12)
	assert.InDelta(t, 0.012, tm["top_1pct"], 1e-12)
	assert.InDelta(t, 15.5, tm["upside_top_1pct"], 1e-12)

	// Quantile-keyed aliases.
	assert.InDelta(t, 310.5, tm["cvar_99"], 1e-12)
	assert.InDelta(t, 295.0, tm["var_99"], 1e-12)
	assert.InDelta(t, 280.0, tm["cvar_95"], 1e-12)
	assert.InDelta(t, 260.0, tm["var_95"], 1e-12)

	require.Len(t, results[0].Drivers, 2)
	assert.Equal(t, "Driver One", results[0].Drivers[0].Name)
	assert.Equal(t, 17000, results[0].TotalSalary)
}

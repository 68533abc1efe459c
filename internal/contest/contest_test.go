package contest

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/payout"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

func testDrivers(n, salary int) []types.DriverRecord {
	drivers := make([]types.DriverRecord, n)
	for i := range drivers {
		drivers[i] = types.DriverRecord{
			DriverID: i,
			Name:     fmt.Sprintf("Driver %d", i),
			Team:     fmt.Sprintf("Team%d", i/3),
			Salary:   salary,
		}
	}
	return drivers
}

func flatOwnership(n int, pct float64) []float64 {
	own := make([]float64, n)
	for i := range own {
		own[i] = pct
	}
	return own
}

func testMatrix(t *testing.T, rows [][]float64) *scenario.Matrix {
	t.Helper()
	m, err := scenario.NewMatrix(rows)
	require.NoError(t, err)
	return m
}

func gppCurve(t *testing.T) *payout.Curve {
	t.Helper()
	c, err := payout.Fit(
		[]int{1, 2, 5, 10, 25, 50, 100},
		[]float64{500, 250, 100, 50, 20, 10, 5},
		payout.PiecewiseLinear,
	)
	require.NoError(t, err)
	return c
}

func TestNewFieldSamplerValidation(t *testing.T) {
	drivers := testDrivers(12, 8000)

	_, err := NewFieldSampler(nil, nil, 6, 50000, nil)
	assert.Error(t, err, "empty slate")

	_, err = NewFieldSampler(drivers, flatOwnership(5, 10), 6, 50000, nil)
	assert.Error(t, err, "ownership length mismatch")

	_, err = NewFieldSampler(drivers, flatOwnership(12, 10), 13, 50000, nil)
	assert.Error(t, err, "roster larger than slate")

	_, err = NewFieldSampler(drivers, flatOwnership(12, 10), 6, 50000, nil)
	assert.NoError(t, err)
}

func TestSampleFieldProducesLegalLineups(t *testing.T) {
	drivers := testDrivers(12, 8000)
	sampler, err := NewFieldSampler(drivers, flatOwnership(12, 15), 6, 50000, nil)
	require.NoError(t, err)

	field, warning, err := sampler.SampleField(context.Background(), 50, 7)
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Len(t, field, 50)

	for _, lineup := range field {
		assert.Len(t, lineup.Columns, 6)
		assert.LessOrEqual(t, lineup.Salary, 50000)

		seen := make(map[int]bool)
		for _, col := range lineup.Columns {
			assert.False(t, seen[col], "duplicate driver in field lineup")
			seen[col] = true
			assert.GreaterOrEqual(t, col, 0)
			assert.Less(t, col, 12)
		}
	}
}

func TestSampleFieldDeterministicUnderSeed(t *testing.T) {
	drivers := testDrivers(12, 8000)
	own := make([]float64, 12)
	for i := range own {
		own[i] = float64(30 - 2*i)
	}
	sampler, err := NewFieldSampler(drivers, own, 6, 50000, nil)
	require.NoError(t, err)

	a, _, err := sampler.SampleField(context.Background(), 25, 42)
	require.NoError(t, err)
	b, _, err := sampler.SampleField(context.Background(), 25, 42)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Columns, b[i].Columns, "lineup %d differs between identical seeds", i)
	}
}

func TestSampleFieldFollowsOwnershipSignal(t *testing.T) {
	// Driver 0 is heavy chalk; driver 11 is a leverage dart.
	drivers := testDrivers(12, 7000)
	own := []float64{60, 40, 35, 30, 25, 20, 15, 10, 8, 5, 3, 1}
	sampler, err := NewFieldSampler(drivers, own, 6, 50000, nil)
	require.NoError(t, err)

	field, _, err := sampler.SampleField(context.Background(), 400, 9)
	require.NoError(t, err)

	counts := make([]int, 12)
	for _, lineup := range field {
		for _, col := range lineup.Columns {
			counts[col]++
		}
	}
	assert.Greater(t, counts[0], counts[11], "chalk driver must appear more often than the dart")
	assert.Greater(t, counts[1], counts[10])
}

func TestFieldSamplerConcentrationTunable(t *testing.T) {
	drivers := testDrivers(12, 8000)
	own := []float64{60, 40, 35, 30, 25, 20, 15, 10, 8, 5, 3, 1}

	sampler, err := NewFieldSampler(drivers, own, 6, 50000, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConcentration, sampler.Concentration)

	base, _, err := sampler.SampleField(context.Background(), 25, 42)
	require.NoError(t, err)

	// A non-positive concentration falls back to the default draw.
	sampler.Concentration = 0
	fallback, _, err := sampler.SampleField(context.Background(), 25, 42)
	require.NoError(t, err)
	require.Equal(t, len(base), len(fallback))
	for i := range base {
		assert.Equal(t, base[i].Columns, fallback[i].Columns)
	}

	// A looser concentration reshapes the Dirichlet draw under the same seed.
	sampler.Concentration = 5
	loose, _, err := sampler.SampleField(context.Background(), 25, 42)
	require.NoError(t, err)
	differs := false
	for i := range base {
		if i < len(loose) && !assert.ObjectsAreEqual(base[i].Columns, loose[i].Columns) {
			differs = true
			break
		}
	}
	assert.True(t, differs, "concentration had no effect on the sampled field")
}

func TestSampleFieldSalaryShortfall(t *testing.T) {
	// Every full roster busts the cap, so no lineup can be drawn.
	drivers := testDrivers(12, 10000)
	sampler, err := NewFieldSampler(drivers, flatOwnership(12, 10), 6, 50000, nil)
	require.NoError(t, err)

	_, _, err = sampler.SampleField(context.Background(), 10, 3)
	assert.Error(t, err, "no salary-legal lineup exists")
}

func TestSampleFieldUniformFallback(t *testing.T) {
	drivers := testDrivers(9, 6000)
	sampler, err := NewFieldSampler(drivers, flatOwnership(9, 0), 6, 50000, nil)
	require.NoError(t, err)

	field, _, err := sampler.SampleField(context.Background(), 20, 5)
	require.NoError(t, err)
	assert.Len(t, field, 20)
}

func TestSampleFieldCancelledContext(t *testing.T) {
	drivers := testDrivers(12, 8000)
	sampler, err := NewFieldSampler(drivers, flatOwnership(12, 10), 6, 50000, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = sampler.SampleField(ctx, 10, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatorRankTiesLose(t *testing.T) {
	// One scenario row; my lineup ties the single field entrant exactly, so
	// the field entrant ranks ahead and my rank is 2.
	matrix := testMatrix(t, [][]float64{{10, 10, 10, 10}})
	field := []FieldLineup{{Columns: []int{0, 1}}}
	curve := gppCurve(t)

	sim, err := NewSimulator(matrix, field, curve, 10, nil)
	require.NoError(t, err)

	draws, err := sim.SimulatePortfolio(context.Background(), [][]int{{2, 3}}, 5, 1)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	for _, rank := range draws[0].Ranks {
		assert.Equal(t, 2, rank, "equal scores must rank behind the field entrant")
	}
}

func TestSimulatorRanksAndPayouts(t *testing.T) {
	// My lineup {2, 3} scores 40; field entrants score 30 and 50 on the only
	// row, so my rank is always 2 of 3.
	matrix := testMatrix(t, [][]float64{{10, 20, 15, 25}})
	field := []FieldLineup{
		{Columns: []int{0, 1}}, // 30
		{Columns: []int{1, 3}}, // 45
	}
	curve := gppCurve(t)

	sim, err := NewSimulator(matrix, field, curve, 10, nil)
	require.NoError(t, err)

	draws, err := sim.SimulatePortfolio(context.Background(), [][]int{{2, 3}}, 20, 1)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.Len(t, draws[0].Ranks, 20)

	want, err := curve.Predict(2)
	require.NoError(t, err)
	for i := range draws[0].Ranks {
		assert.Equal(t, 2, draws[0].Ranks[i])
		assert.InDelta(t, want, draws[0].Payouts[i], 1e-9)
	}
	// Entrants = 3, cash rank = ceil(3*0.25) = 1, so rank 2 never cashes.
	assert.Equal(t, 0, draws[0].Cashes)
	assert.Equal(t, 0, draws[0].Wins)
}

func TestSimulatorValidation(t *testing.T) {
	matrix := testMatrix(t, [][]float64{{1, 2}})
	field := []FieldLineup{{Columns: []int{0}}}
	curve := gppCurve(t)

	_, err := NewSimulator(nil, field, curve, 10, nil)
	assert.Error(t, err)
	_, err = NewSimulator(matrix, nil, curve, 10, nil)
	assert.Error(t, err)
	_, err = NewSimulator(matrix, field, nil, 10, nil)
	assert.Error(t, err)
	_, err = NewSimulator(matrix, field, curve, 0, nil)
	assert.Error(t, err)

	sim, err := NewSimulator(matrix, field, curve, 10, nil)
	require.NoError(t, err)
	_, err = sim.SimulatePortfolio(context.Background(), nil, 10, 1)
	assert.Error(t, err, "empty portfolio")
	_, err = sim.SimulatePortfolio(context.Background(), [][]int{{0}}, 0, 1)
	assert.Error(t, err, "zero sims")
}

func TestAggregateMetricRanges(t *testing.T) {
	matrix := testMatrix(t, [][]float64{
		{10, 20, 15, 25, 30, 5},
		{25, 5, 20, 10, 15, 30},
		{15, 15, 15, 15, 15, 15},
		{5, 30, 10, 25, 20, 15},
	})
	drivers := testDrivers(6, 8000)
	sampler, err := NewFieldSampler(drivers, flatOwnership(6, 20), 3, 50000, nil)
	require.NoError(t, err)
	field, _, err := sampler.SampleField(context.Background(), 40, 11)
	require.NoError(t, err)

	sim, err := NewSimulator(matrix, field, gppCurve(t), 10, nil)
	require.NoError(t, err)
	draws, err := sim.SimulatePortfolio(context.Background(), [][]int{{0, 1, 2}, {3, 4, 5}}, 200, 13)
	require.NoError(t, err)

	per, portfolio, err := Aggregate(draws, 10, len(field)+1, 17)
	require.NoError(t, err)
	require.Len(t, per, 2)

	for _, m := range append(per, portfolio) {
		assert.GreaterOrEqual(t, m.CashPct, 0.0)
		assert.LessOrEqual(t, m.CashPct, 100.0)
		assert.GreaterOrEqual(t, m.WinPct, 0.0)
		assert.LessOrEqual(t, m.WinPct, 100.0)
		assert.GreaterOrEqual(t, m.CashStdErr, 0.0)
		assert.GreaterOrEqual(t, m.WinStdErr, 0.0)
		assert.GreaterOrEqual(t, m.EV, 0.0)
		assert.GreaterOrEqual(t, m.AvgRank, 1.0)
		assert.False(t, math.IsNaN(m.ROIPct))

		// The bootstrap interval must straddle the point estimate.
		assert.LessOrEqual(t, m.ROICILow, m.ROICIHigh)
		assert.LessOrEqual(t, m.ROICILow, m.ROIPct+1e-9)
		assert.GreaterOrEqual(t, m.ROICIHigh, m.ROIPct-1e-9)
	}

	// Portfolio cash rate dominates any single lineup's.
	assert.GreaterOrEqual(t, portfolio.CashPct, per[0].CashPct-1e-9)
	assert.GreaterOrEqual(t, portfolio.CashPct, per[1].CashPct-1e-9)
}

func TestAggregateDegenerateDistribution(t *testing.T) {
	// Identical payouts across all draws collapse the CI to zero width.
	d := LineupDraws{
		Payouts: []float64{20, 20, 20, 20},
		Ranks:   []int{1, 1, 1, 1},
		Cashes:  4,
		Wins:    4,
	}
	per, portfolio, err := Aggregate([]LineupDraws{d}, 10, 4, 1)
	require.NoError(t, err)
	require.Len(t, per, 1)

	assert.InDelta(t, 100, per[0].ROIPct, 1e-9)
	assert.InDelta(t, per[0].ROICILow, per[0].ROICIHigh, 1e-9)
	assert.InDelta(t, 100, per[0].CashPct, 1e-9)
	assert.InDelta(t, 0, per[0].CashStdErr, 1e-9)
	assert.InDelta(t, 1, per[0].AvgRank, 1e-9)
	assert.InDelta(t, per[0].ROIPct, portfolio.ROIPct, 1e-9)
}

func TestAggregateValidation(t *testing.T) {
	_, _, err := Aggregate(nil, 10, 100, 1)
	assert.Error(t, err)

	_, _, err = Aggregate([]LineupDraws{{}}, 10, 100, 1)
	assert.Error(t, err, "empty draws")

	uneven := []LineupDraws{
		{Payouts: []float64{1, 2}, Ranks: []int{1, 2}},
		{Payouts: []float64{1}, Ranks: []int{1}},
	}
	_, _, err = Aggregate(uneven, 10, 100, 1)
	assert.Error(t, err, "draw count mismatch")
}

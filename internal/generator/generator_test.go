package generator

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/objective"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/tailmetrics"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// fixedSource serves a precomputed matrix, ignoring the requested scenario
// count. Tests need exact control over the outcomes.
type fixedSource struct {
	rows [][]float64
	cols []int
}

func (f *fixedSource) Sample(_ context.Context, _ int, _ int64) (*scenario.Matrix, []int, error) {
	m, err := scenario.NewMatrix(f.rows)
	return m, f.cols, err
}

// slate builds n drivers split into teams of 3.
func slate(n int) []types.DriverRecord {
	drivers := make([]types.DriverRecord, n)
	for i := range drivers {
		drivers[i] = types.DriverRecord{
			DriverID:        i,
			DisplayID:       fmt.Sprintf("drv-%d", i),
			Name:            fmt.Sprintf("Driver %d", i),
			Team:            fmt.Sprintf("Team%d", i/3),
			Salary:          6000 + (i%5)*400,
			ProjectedPoints: 30 + float64(i),
		}
	}
	return drivers
}

// steadyRows gives every driver a deterministic, mildly varying series.
func steadyRows(s, d int) [][]float64 {
	rows := make([][]float64, s)
	for k := range rows {
		rows[k] = make([]float64, d)
		for i := range rows[k] {
			rows[k][i] = 20 + float64(i) + float64((k*7+i*3)%11)
		}
	}
	return rows
}

func cols(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func newTestGenerator() *Generator {
	return NewGenerator(scenario.NewCache(1<<30, time.Hour, nil), nil)
}

func baseRequest(drivers []types.DriverRecord, rows [][]float64, nLineups int) *Request {
	return &Request{
		SlateID:       "test-slate",
		Drivers:       drivers,
		Source:        &fixedSource{rows: rows, cols: cols(len(drivers))},
		NScenarios:    len(rows),
		NLineups:      nLineups,
		ObjectiveType: types.ObjectiveCVaR,
		Quantiles:     []objective.Quantile{{Alpha: 0.9, Weight: 1}},
		Exposure:      types.ExposureOptions{MaxDriver: 1, MaxTeam: 1},
	}
}

func TestGenerateProducesValidLineups(t *testing.T) {
	drivers := slate(12)
	req := baseRequest(drivers, steadyRows(40, 12), 3)

	portfolio, err := newTestGenerator().Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, portfolio.Status)
	require.Len(t, portfolio.Lineups, 3)

	seen := make(map[string]bool)
	for _, lineup := range portfolio.Lineups {
		require.Len(t, lineup.DriverIDs, DefaultRosterSize)

		distinct := make(map[int]bool)
		teams := make(map[string]int)
		salary := 0
		for _, id := range lineup.DriverIDs {
			assert.False(t, distinct[id], "duplicate driver %d in lineup", id)
			distinct[id] = true
			teams[drivers[id].Team]++
			salary += drivers[id].Salary
		}
		assert.Equal(t, salary, lineup.TotalSalary)
		assert.LessOrEqual(t, salary, DefaultSalaryCap)
		for team, count := range teams {
			assert.GreaterOrEqual(t, count, DefaultMinStack, "team %s below stack minimum", team)
			assert.LessOrEqual(t, count, DefaultMaxStack, "team %s above stack maximum", team)
		}

		require.Len(t, lineup.Tail, 1)
		assert.Equal(t, "top_10pct", lineup.Tail[0].Label)
		assert.Greater(t, lineup.Tail[0].CVaR, 0.0)
		assert.Len(t, lineup.Series, 40)

		sig := fmt.Sprint(lineup.DriverIDs)
		assert.False(t, seen[sig], "duplicate lineup emitted")
		seen[sig] = true
	}

	assert.Equal(t, 3, portfolio.Book.Issued())
}

func TestGenerateDeterministicUnderSeed(t *testing.T) {
	drivers := slate(12)
	rows := steadyRows(40, 12)

	p1, err := newTestGenerator().Generate(context.Background(), baseRequest(drivers, rows, 3))
	require.NoError(t, err)
	p2, err := newTestGenerator().Generate(context.Background(), baseRequest(drivers, rows, 3))
	require.NoError(t, err)

	require.Len(t, p2.Lineups, len(p1.Lineups))
	for i := range p1.Lineups {
		assert.Equal(t, p1.Lineups[i].DriverIDs, p2.Lineups[i].DriverIDs, "lineup %d", i)
	}
}

func TestGenerateRespectsExposureCap(t *testing.T) {
	// Teams of two keep every residual driver pool stackable, so the cap
	// can never strand the build in a partial portfolio.
	drivers := slate(18)
	for i := range drivers {
		drivers[i].Team = fmt.Sprintf("Duo%d", i/2)
	}
	req := baseRequest(drivers, steadyRows(30, 18), 8)
	req.ObjectiveType = types.ObjectiveMean
	req.Exposure = types.ExposureOptions{MaxDriver: 0.5, MaxTeam: 1}

	portfolio, err := newTestGenerator().Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, portfolio.Status)

	// The cap forces a driver out once its fraction reaches 0.5, so the
	// final count can overshoot by at most one appearance.
	maxCount := int(0.5*float64(req.NLineups)) + 1
	for id := 0; id < len(drivers); id++ {
		assert.LessOrEqual(t, portfolio.Book.DriverCount(id), maxCount, "driver %d over-exposed", id)
	}
}

func TestGenerateLocksAndExcludes(t *testing.T) {
	drivers := slate(12)
	req := baseRequest(drivers, steadyRows(30, 12), 2)
	req.Spec = &types.ConstraintSpec{
		SlateID:  "test-slate",
		Locked:   []int{0, 1},
		Excluded: []int{11},
		Vetoes:   []types.VetoRule{{DriverID: 10, Reason: "crash risk"}},
	}

	portfolio, err := newTestGenerator().Generate(context.Background(), req)
	require.NoError(t, err)

	for _, lineup := range portfolio.Lineups {
		has := make(map[int]bool)
		for _, id := range lineup.DriverIDs {
			has[id] = true
		}
		assert.True(t, has[0], "locked driver 0 missing")
		assert.True(t, has[1], "locked driver 1 missing")
		assert.False(t, has[11], "excluded driver present")
		assert.False(t, has[10], "vetoed driver present")
	}
}

func TestGenerateLockedDriverNotInSlate(t *testing.T) {
	drivers := slate(12)
	req := baseRequest(drivers, steadyRows(30, 12), 1)
	req.Spec = &types.ConstraintSpec{SlateID: "test-slate", Locked: []int{99}}

	_, err := newTestGenerator().Generate(context.Background(), req)
	assert.Error(t, err)
}

func TestGeneratePartialWhenSlateExhausted(t *testing.T) {
	// Six drivers on two teams admit exactly one legal roster; the no-good
	// cut makes the second solve infeasible.
	drivers := slate(6)
	req := baseRequest(drivers, steadyRows(20, 6), 3)

	portfolio, err := newTestGenerator().Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, portfolio.Status)
	assert.Len(t, portfolio.Lineups, 1)
	assert.NotEmpty(t, portfolio.Warnings)
}

func TestGenerateInfeasibleFirstLineup(t *testing.T) {
	drivers := slate(12)
	for i := range drivers {
		drivers[i].Salary = 20000 // six of these blow through the cap
	}
	req := baseRequest(drivers, steadyRows(20, 12), 1)

	_, err := newTestGenerator().Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoFeasibleLineup)
}

func TestGenerateCancelledMidBuild(t *testing.T) {
	drivers := slate(12)
	req := baseRequest(drivers, steadyRows(30, 12), 5)

	ctx, cancel := context.WithCancel(context.Background())
	req.Progress = func(done, total int) {
		if done == 1 {
			cancel()
		}
	}

	portfolio, err := newTestGenerator().Generate(ctx, req)
	require.NoError(t, err, "cancellation mid-build is not an error")
	assert.Equal(t, StatusCancelled, portfolio.Status)
	assert.NotEmpty(t, portfolio.Lineups)
	assert.Less(t, len(portfolio.Lineups), 5)
}

func TestGenerateCVaRBeatsMeanOnSkewedSlate(t *testing.T) {
	// Team0 scores a steady 30 per driver. Team1 usually scores 5 but
	// explodes in two of twenty scenarios. The tail objective must take the
	// volatile team; the mean objective must not.
	drivers := slate(6)[:4]
	drivers[2].Team = "Team1"
	drivers[3].Team = "Team1"

	rows := make([][]float64, 20)
	for k := range rows {
		team1 := 5.0
		if k >= 18 {
			team1 = 150.0
		}
		rows[k] = []float64{30, 30, team1, team1}
	}

	build := func(objType string) *Portfolio {
		req := baseRequest(drivers, rows, 1)
		req.ObjectiveType = objType
		req.RosterSize = 2
		p, err := newTestGenerator().Generate(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, p.Lineups, 1)
		return p
	}

	tailPortfolio := build(types.ObjectiveCVaR)
	meanPortfolio := build(types.ObjectiveMean)

	assert.ElementsMatch(t, []int{2, 3}, tailPortfolio.Lineups[0].DriverIDs)
	assert.ElementsMatch(t, []int{0, 1}, meanPortfolio.Lineups[0].DriverIDs)

	tailCVaR, err := tailmetrics.CVaR(tailPortfolio.Lineups[0].Series, 0.9)
	require.NoError(t, err)
	meanCVaR, err := tailmetrics.CVaR(meanPortfolio.Lineups[0].Series, 0.9)
	require.NoError(t, err)
	assert.Greater(t, tailCVaR, meanCVaR)
}

func TestGenerateLeverageMode(t *testing.T) {
	drivers := slate(12)
	ownership := make([]float64, 12)
	for i := range ownership {
		// Front of the slate is chalk, back is leverage.
		ownership[i] = 25 - float64(i)*2
		if ownership[i] < 2 {
			ownership[i] = 2
		}
	}

	req := baseRequest(drivers, steadyRows(30, 12), 2)
	req.Leverage = &LeverageConfig{
		Lambda:                 1.0,
		MaxTotalOwnership:      0.15,
		MinLowOwnershipDrivers: 2,
		LowOwnershipThreshold:  10,
	}
	req.Ownership = ownership

	portfolio, err := newTestGenerator().Generate(context.Background(), req)
	require.NoError(t, err)

	budget := req.Leverage.MaxTotalOwnership * float64(DefaultRosterSize) * 100
	for _, lineup := range portfolio.Lineups {
		require.NotNil(t, lineup.Leverage)
		assert.LessOrEqual(t, lineup.Leverage.TotalOwnership, budget+1e-6)

		low := 0
		for _, id := range lineup.DriverIDs {
			if ownership[id] < req.Leverage.LowOwnershipThreshold {
				low++
			}
		}
		assert.GreaterOrEqual(t, low, req.Leverage.MinLowOwnershipDrivers)
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	g := newTestGenerator()

	_, err := g.Generate(context.Background(), &Request{NLineups: 1, Source: &fixedSource{}})
	assert.Error(t, err, "empty slate must be rejected")

	drivers := slate(12)
	_, err = g.Generate(context.Background(), &Request{Drivers: drivers, NLineups: 0, Source: &fixedSource{}})
	assert.Error(t, err, "zero lineups must be rejected")

	_, err = g.Generate(context.Background(), &Request{Drivers: drivers, NLineups: 1})
	assert.Error(t, err, "missing source must be rejected")
}

func TestValidateTailObjective(t *testing.T) {
	drivers := slate(12)
	req := baseRequest(drivers, steadyRows(40, 12), 2)

	g := newTestGenerator()
	portfolio, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, portfolio.Status)

	block, err := g.ValidateTailObjective(context.Background(), req, portfolio, 10)
	require.NoError(t, err)
	assert.Greater(t, block.CVaRPortfolioMean, 0.0)
	assert.Greater(t, block.MeanBaselineMean, 0.0)
	assert.False(t, math.IsNaN(block.TailImprovement))
	assert.GreaterOrEqual(t, block.BootstrapCV, 0.0)
	assert.GreaterOrEqual(t, block.LineupConsistency, 0.0)
	assert.LessOrEqual(t, block.LineupConsistency, 1.0)
}

func TestCorrelationSummary(t *testing.T) {
	p := &Portfolio{
		Lineups: []Lineup{
			{DriverIDs: []int{1, 2, 3, 4, 5, 6}},
			{DriverIDs: []int{1, 2, 3, 7, 8, 9}},
		},
	}
	summary := p.CorrelationSummary()
	assert.InDelta(t, 1.0/3.0, summary.MeanPairwiseJaccard, 1e-12)
	assert.InDelta(t, 1.0/3.0, summary.MaxPairwiseJaccard, 1e-12)
	assert.Equal(t, 9, summary.UniqueDrivers)
}

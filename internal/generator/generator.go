// Package generator builds lineup portfolios by repeated MILP solves over a
// shared scenario matrix: one solve per lineup, with exposure cuts, soft
// diversity penalties, and no-good cuts accumulating between solves.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/milp"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/objective"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/tailmetrics"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// Portfolio completion states.
const (
	StatusComplete  = "complete"
	StatusPartial   = "partial"
	StatusCancelled = "cancelled"
)

// Request describes one portfolio build. Ownership, when present, is indexed
// by scenario column, in percent.
type Request struct {
	SlateID  string
	Drivers  []types.DriverRecord
	Spec     *types.ConstraintSpec
	SpecHash string

	Source     scenario.Source
	NScenarios int
	Seed       int64

	NLineups        int
	ObjectiveType   string
	Quantiles       []objective.Quantile
	Exposure        types.ExposureOptions
	DiversityWeight float64

	RosterSize int
	SalaryCap  int
	MinStack   int
	MaxStack   int

	Leverage  *LeverageConfig
	Ownership []float64

	Regime *RegimeOptions

	TimeLimitPerLineup time.Duration

	// Progress, when set, is invoked after every accepted lineup.
	Progress func(done, total int)
}

func (r *Request) applyDefaults() {
	if r.RosterSize == 0 {
		r.RosterSize = DefaultRosterSize
	}
	if r.SalaryCap == 0 {
		r.SalaryCap = DefaultSalaryCap
	}
	if r.MinStack == 0 {
		r.MinStack = DefaultMinStack
	}
	if r.MaxStack == 0 {
		r.MaxStack = DefaultMaxStack
	}
	if r.ObjectiveType == "" {
		r.ObjectiveType = types.ObjectiveCVaR
	}
	if len(r.Quantiles) == 0 {
		r.Quantiles = objective.DefaultQuantiles()
	}
	if r.TimeLimitPerLineup == 0 {
		r.TimeLimitPerLineup = 30 * time.Second
	}
}

func (r *Request) validate() error {
	if len(r.Drivers) == 0 {
		return fmt.Errorf("driver slate is empty")
	}
	if r.NLineups < 1 {
		return fmt.Errorf("n_lineups must be at least 1, got %d", r.NLineups)
	}
	if r.Source == nil {
		return fmt.Errorf("scenario source is required")
	}
	if r.Spec != nil {
		if err := r.Spec.Validate(); err != nil {
			return err
		}
	}
	if r.Leverage != nil && len(r.Ownership) != len(r.Drivers) {
		return fmt.Errorf("leverage mode requires one ownership value per driver")
	}
	return nil
}

// Lineup is one accepted roster with its full-matrix scenario series and tail
// metrics attached.
type Lineup struct {
	DriverIDs    []int // slate driver ids
	Columns      []int // scenario matrix columns
	TotalSalary  int
	Series       []float64
	Tail         []tailmetrics.Report
	Leverage     *types.LeverageMetrics
	SolverStatus string
	Objective    float64
	Regime       string
}

// Portfolio is the build output. Matrix and Cols are retained so downstream
// stages (contest equity, tail validation) reuse the same scenarios.
type Portfolio struct {
	SlateID  string
	Lineups  []Lineup
	Status   string
	Warnings []string
	Book     *ExposureBook
	Matrix   *scenario.Matrix
	Cols     []int
}

// Generator owns the scenario cache and MILP solver shared across requests.
type Generator struct {
	cache  *scenario.Cache
	solver *milp.Solver
	logger *logrus.Logger
}

// NewGenerator wires a generator around a shared scenario cache.
func NewGenerator(cache *scenario.Cache, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{
		cache:  cache,
		solver: milp.NewSolver(log),
		logger: log,
	}
}

// Generate builds up to req.NLineups lineups. Cancellation mid-build returns
// the lineups produced so far with Status "cancelled" and a nil error; a
// failure before the first lineup returns an error.
func (g *Generator) Generate(ctx context.Context, req *Request) (*Portfolio, error) {
	req.applyDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log := g.logger.WithFields(logrus.Fields{
		"slate_id":  req.SlateID,
		"n_lineups": req.NLineups,
		"objective": req.ObjectiveType,
	})

	key := scenario.Key{
		SlateID:    req.SlateID,
		NScenarios: req.NScenarios,
		Seed:       req.Seed,
		SpecHash:   req.SpecHash,
	}
	matrix, cols, err := g.cache.GetOrSample(ctx, key, req.Source)
	if err != nil {
		return nil, fmt.Errorf("scenario sampling: %w", err)
	}

	colDrivers, err := driversByColumn(req.Drivers, cols)
	if err != nil {
		return nil, err
	}

	plans, planWarnings, err := buildPlans(matrix, req.Regime, req.NLineups, g.logger)
	if err != nil {
		return nil, err
	}

	portfolio := &Portfolio{
		SlateID:  req.SlateID,
		Warnings: planWarnings,
		Book:     NewExposureBook(),
		Matrix:   matrix,
		Cols:     cols,
	}
	var previous [][]int // accepted selections in slate driver ids

	for _, plan := range plans {
		for n := 0; n < plan.Count; n++ {
			idx := len(portfolio.Lineups)
			lineup, solveErr := g.solveOne(ctx, req, plan, matrix, colDrivers, portfolio.Book, previous, idx)

			if solveErr != nil {
				if ctx.Err() != nil {
					portfolio.Status = StatusCancelled
					log.WithField("lineups_done", idx).Warn("Portfolio build cancelled")
					return portfolio, nil
				}
				if idx == 0 {
					return nil, solveErr
				}
				portfolio.Status = StatusPartial
				portfolio.Warnings = append(portfolio.Warnings,
					fmt.Sprintf("stopped after %d of %d lineups: %v", idx, req.NLineups, solveErr))
				log.WithFields(logrus.Fields{
					"lineups_done": idx,
					"error":        solveErr,
				}).Warn("Portfolio build stopped early")
				return portfolio, nil
			}

			portfolio.Lineups = append(portfolio.Lineups, *lineup)
			portfolio.Book.Record(lineup.DriverIDs, req.Drivers)
			previous = append(previous, lineup.DriverIDs)
			if req.Progress != nil {
				req.Progress(len(portfolio.Lineups), req.NLineups)
			}
		}
	}

	portfolio.Status = StatusComplete
	log.WithFields(logrus.Fields{
		"lineups":     len(portfolio.Lineups),
		"duration_ms": time.Since(start).Milliseconds(),
		"cache_hits":  g.cache.Stats().Hits,
	}).Info("Portfolio build complete")
	return portfolio, nil
}

// solveOne runs a single lineup MILP. plan.Matrix drives the objective;
// tail metrics are always evaluated on the full matrix.
func (g *Generator) solveOne(
	ctx context.Context,
	req *Request,
	plan regimePlan,
	full *scenario.Matrix,
	colDrivers []types.DriverRecord,
	book *ExposureBook,
	previous [][]int,
	idx int,
) (*Lineup, error) {
	m := milp.NewModel(fmt.Sprintf("lineup_%d", idx))

	x := make([]*milp.Var, len(colDrivers))
	for i, d := range colDrivers {
		x[i] = m.AddBinary(fmt.Sprintf("x_%d", d.DriverID))
	}

	if err := addRosterConstraints(m, x, colDrivers, req.Spec, req); err != nil {
		return nil, err
	}
	addExposureCuts(m, x, colDrivers, book, req.Exposure)
	addNoGoodCuts(m, x, colDrivers, previous, req.RosterSize)

	var ownership []float64
	if req.Leverage != nil {
		ownership = ownershipByColumn(req.Drivers, req.Ownership, colDrivers)
		if err := addLeverageConstraints(m, x, ownership, req.Leverage, req.RosterSize); err != nil {
			return nil, err
		}
	}

	obj, err := g.buildObjective(m, x, plan.Matrix, req)
	if err != nil {
		return nil, err
	}
	obj.AddScaled(diversityPenalty(x, colDrivers, previous, req.DiversityWeight), 1)
	if req.Leverage != nil {
		obj.AddScaled(leveragePenalty(x, ownership, req.Leverage.Lambda), 1)
	}
	m.SetObjective(obj, milp.Maximize)

	res, err := g.solver.Solve(ctx, m, req.TimeLimitPerLineup)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("lineup %d solve: %w", idx, err)
	}

	switch res.Status {
	case milp.StatusOptimal, milp.StatusFeasible:
	case milp.StatusTimeLimit:
		if res.Values == nil {
			if idx == 0 {
				return nil, ErrSolverTimeout
			}
			return nil, fmt.Errorf("lineup %d: %w", idx, ErrSolverTimeout)
		}
		// Accept the incumbent; the status is surfaced on the lineup.
	case milp.StatusInfeasible:
		if idx == 0 {
			return nil, ErrNoFeasibleLineup
		}
		return nil, fmt.Errorf("lineup %d: constraints exhausted the slate: %w", idx, ErrNoFeasibleLineup)
	case milp.StatusUnbounded:
		return nil, ErrUnbounded
	default:
		return nil, fmt.Errorf("lineup %d: solver status %s", idx, res.Status)
	}

	return g.buildLineup(req, plan, full, colDrivers, ownership, res)
}

func (g *Generator) buildObjective(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, req *Request) (*milp.Expr, error) {
	if req.ObjectiveType == types.ObjectiveMean {
		return objective.BuildMeanExpr(x, sm)
	}
	expr, _, err := objective.BuildMultiCVaR(m, x, sm, req.Quantiles, req.RosterSize)
	return expr, err
}

func (g *Generator) buildLineup(
	req *Request,
	plan regimePlan,
	full *scenario.Matrix,
	colDrivers []types.DriverRecord,
	ownership []float64,
	res *milp.Result,
) (*Lineup, error) {
	var columns []int
	for i := range colDrivers {
		if res.Values[i] > 0.5 {
			columns = append(columns, i)
		}
	}
	if len(columns) != req.RosterSize {
		return nil, fmt.Errorf("solver returned %d selected drivers, expected %d", len(columns), req.RosterSize)
	}

	lineup := &Lineup{
		Columns:      columns,
		SolverStatus: res.Status.String(),
		Objective:    res.Objective,
		Regime:       plan.Name,
	}

	projected := 0.0
	for _, col := range columns {
		d := colDrivers[col]
		lineup.DriverIDs = append(lineup.DriverIDs, d.DriverID)
		lineup.TotalSalary += d.Salary
		projected += d.ProjectedPoints
	}

	lineup.Series = full.LineupSeries(columns)
	alphas := make([]float64, len(req.Quantiles))
	for j, q := range req.Quantiles {
		alphas[j] = q.Alpha
	}
	tail, err := tailmetrics.Compute(lineup.Series, alphas)
	if err != nil {
		return nil, fmt.Errorf("tail metrics: %w", err)
	}
	lineup.Tail = tail

	if req.Leverage != nil {
		lineup.Leverage = computeLeverageMetrics(columns, ownership, projected, req.Leverage.Lambda)
	}
	return lineup, nil
}

// addNoGoodCuts forbids exact repeats of previously accepted lineups:
// sum_{i in L_j} x_i <= roster - 1 for each prior lineup L_j.
func addNoGoodCuts(m *milp.Model, x []*milp.Var, drivers []types.DriverRecord, previous [][]int, rosterSize int) {
	if len(previous) == 0 {
		return
	}
	colByID := make(map[int]int, len(drivers))
	for i, d := range drivers {
		colByID[d.DriverID] = i
	}
	for j, lineup := range previous {
		cut := milp.NewExpr()
		for _, id := range lineup {
			if col, ok := colByID[id]; ok {
				cut.AddTerm(x[col], 1)
			}
		}
		m.AddConstraint(cut, milp.LE, float64(rosterSize-1), fmt.Sprintf("no_good_%d", j))
	}
}

// driversByColumn reorders the slate to match the scenario column map.
func driversByColumn(drivers []types.DriverRecord, cols []int) ([]types.DriverRecord, error) {
	byID := driverIndex(drivers)
	out := make([]types.DriverRecord, len(cols))
	for i, id := range cols {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("scenario column %d refers to unknown driver %d", i, id)
		}
		out[i] = d
	}
	return out, nil
}

// ownershipByColumn reorders slate-ordered ownership to scenario column order.
func ownershipByColumn(drivers []types.DriverRecord, ownership []float64, colDrivers []types.DriverRecord) []float64 {
	bySlate := make(map[int]float64, len(drivers))
	for i, d := range drivers {
		bySlate[d.DriverID] = ownership[i]
	}
	out := make([]float64, len(colDrivers))
	for i, d := range colDrivers {
		out[i] = bySlate[d.DriverID]
	}
	return out
}

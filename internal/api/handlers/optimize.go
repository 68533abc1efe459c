// Package handlers implements the HTTP API: optimize, validate, jobs,
// export, and health endpoints.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/cache"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/config"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/contest"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/generator"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/jobs"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/objective"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/payout"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/storage"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/websocket"
)

const validationBootstrap = 20

// OptimizeHandler runs the full pipeline: scenarios, portfolio MILP, contest
// equity, and tail validation.
type OptimizeHandler struct {
	store     storage.SlateStore
	generator *generator.Generator
	results   *cache.ResultCache
	tracker   *jobs.Tracker
	hub       *websocket.Hub
	cfg       *config.Config
	logger    *logrus.Logger
}

// NewOptimizeHandler wires the pipeline dependencies.
func NewOptimizeHandler(
	store storage.SlateStore,
	gen *generator.Generator,
	results *cache.ResultCache,
	tracker *jobs.Tracker,
	hub *websocket.Hub,
	cfg *config.Config,
	logger *logrus.Logger,
) *OptimizeHandler {
	return &OptimizeHandler{
		store:     store,
		generator: gen,
		results:   results,
		tracker:   tracker,
		hub:       hub,
		cfg:       cfg,
		logger:    logger,
	}
}

// OptimizeLineups handles POST /api/v1/optimize. The request runs
// synchronously under the configured deadline; progress is streamed over the
// job's websocket channel while the caller waits.
func (h *OptimizeHandler) OptimizeLineups(c *gin.Context) {
	var req types.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "invalid_request",
		})
		return
	}
	req.ApplyDefaults()

	drivers, spec, errResp := h.loadSlate(c.Request.Context(), req.SlateID)
	if errResp != nil {
		c.JSON(errResp.status, errResp.body)
		return
	}
	if details := h.validateRequest(&req, drivers); len(details) > 0 {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "Request validation failed",
			Code:    "invalid_request",
			Details: details,
		})
		return
	}

	// Identical requests reuse the cached result.
	fingerprint := requestFingerprint(&req)
	if cached, err := h.results.GetByFingerprint(c.Request.Context(), fingerprint); err == nil {
		h.logger.WithFields(logrus.Fields{
			"slate_id":    req.SlateID,
			"fingerprint": fingerprint[:12],
		}).Info("Optimize request served from result cache")
		c.JSON(http.StatusOK, cached)
		return
	}

	jobID := uuid.New().String()
	if _, err := h.tracker.Create(c.Request.Context(), jobID); err != nil {
		h.logger.WithError(err).Warn("Job tracking unavailable, continuing without it")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestDeadline)
	defer cancel()

	response, err := h.runPipeline(ctx, jobID, &req, drivers, spec)
	if err != nil {
		h.failJob(jobID, err)
		status, code := classifyPipelineError(err)
		c.JSON(status, types.ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	if err := h.results.SetResult(context.WithoutCancel(ctx), jobID, fingerprint, response); err != nil {
		h.logger.WithError(err).Warn("Failed to cache optimize result")
	}
	if err := h.tracker.Complete(context.WithoutCancel(ctx), jobID, jobID); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		h.logger.WithError(err).Warn("Failed to mark job complete")
	}

	c.JSON(http.StatusOK, response)
}

// ValidateOptimizationRequest handles POST /api/v1/optimize/validate: runs
// every request check without solving anything.
func (h *OptimizeHandler) ValidateOptimizationRequest(c *gin.Context) {
	var req types.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "invalid_request",
		})
		return
	}
	req.ApplyDefaults()

	drivers, spec, errResp := h.loadSlate(c.Request.Context(), req.SlateID)
	if errResp != nil {
		c.JSON(errResp.status, errResp.body)
		return
	}
	details := h.validateRequest(&req, drivers)
	if err := spec.Validate(); err != nil {
		details = appendDetail(details, "constraints", err.Error())
	}
	if len(details) > 0 {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "Request validation failed",
			Code:    "invalid_request",
			Details: details,
		})
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse{
		Message: "Request is valid",
		Data: map[string]interface{}{
			"slate_id":    req.SlateID,
			"drivers":     len(drivers),
			"n_scenarios": req.NScenarios,
			"n_lineups":   req.NLineups,
		},
	})
}

type errorWithStatus struct {
	status int
	body   types.ErrorResponse
}

func (h *OptimizeHandler) loadSlate(ctx context.Context, slateID string) ([]types.DriverRecord, *types.ConstraintSpec, *errorWithStatus) {
	if slateID == "" {
		return nil, nil, &errorWithStatus{http.StatusBadRequest, types.ErrorResponse{
			Error: "slate_id is required", Code: "invalid_request",
		}}
	}
	drivers, err := h.store.GetDrivers(ctx, slateID)
	if err != nil {
		if errors.Is(err, storage.ErrSlateNotFound) {
			return nil, nil, &errorWithStatus{http.StatusNotFound, types.ErrorResponse{
				Error: fmt.Sprintf("slate %s not found", slateID), Code: "slate_not_found",
			}}
		}
		return nil, nil, &errorWithStatus{http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load slate: " + err.Error(), Code: "internal_error",
		}}
	}
	spec, err := h.store.GetConstraints(ctx, slateID)
	if err != nil {
		return nil, nil, &errorWithStatus{http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load constraints: " + err.Error(), Code: "internal_error",
		}}
	}
	return drivers, spec, nil
}

// validateRequest applies the API limits. Returned map is empty when valid.
func (h *OptimizeHandler) validateRequest(req *types.OptimizeRequest, drivers []types.DriverRecord) map[string]string {
	var details map[string]string

	if req.NScenarios == 0 {
		req.NScenarios = h.cfg.MinScenarios
	}
	if req.NScenarios < h.cfg.MinScenarios {
		details = appendDetail(details, "n_scenarios",
			fmt.Sprintf("must be at least %d, got %d", h.cfg.MinScenarios, req.NScenarios))
	}
	if req.NLineups < 1 || req.NLineups > h.cfg.MaxLineups {
		details = appendDetail(details, "n_lineups",
			fmt.Sprintf("must be between 1 and %d, got %d", h.cfg.MaxLineups, req.NLineups))
	}
	if req.ObjectiveType != types.ObjectiveCVaR && req.ObjectiveType != types.ObjectiveMean {
		details = appendDetail(details, "objective_type", "must be cvar or mean")
	}
	for _, alpha := range req.Alphas {
		if alpha <= 0 || alpha >= 1 {
			details = appendDetail(details, "alphas", fmt.Sprintf("alpha %v outside (0, 1)", alpha))
			break
		}
	}
	if len(req.Weights) != len(req.Alphas) {
		details = appendDetail(details, "weights",
			fmt.Sprintf("length %d does not match alphas %d", len(req.Weights), len(req.Alphas)))
	} else {
		for _, w := range req.Weights {
			if w <= 0 {
				details = appendDetail(details, "weights", "weights must be positive")
				break
			}
		}
	}
	if req.Exposure.MaxDriver < 0 || req.Exposure.MaxDriver > 1 {
		details = appendDetail(details, "exposure.max_driver", "must be in [0, 1]")
	}
	if req.Exposure.MaxTeam < 0 || req.Exposure.MaxTeam > 1 {
		details = appendDetail(details, "exposure.max_team", "must be in [0, 1]")
	}
	if req.Regime.Enabled {
		for label, w := range req.Regime.Weights {
			if w <= 0 {
				details = appendDetail(details, "regime.weights",
					fmt.Sprintf("weight for %q must be positive", label))
				break
			}
		}
	}
	switch req.OwnershipMode {
	case types.OwnershipOff, types.OwnershipEstimated:
	case types.OwnershipProvided:
		if len(req.Ownership) != len(drivers) {
			details = appendDetail(details, "ownership",
				fmt.Sprintf("need %d values, got %d", len(drivers), len(req.Ownership)))
		}
	default:
		details = appendDetail(details, "ownership_mode", "must be off, estimated, or provided")
	}
	if (req.Leverage.Enabled || req.ContestSim.Enabled) && req.OwnershipMode == types.OwnershipOff {
		details = appendDetail(details, "ownership_mode", "leverage and contest simulation require ownership")
	}
	if req.ContestSim.Enabled && len(req.ContestSim.PayoutConfig.Ranks) < 2 {
		details = appendDetail(details, "contest_sim.payout_config", "need at least 2 rank/payout pairs")
	}
	return details
}

func appendDetail(details map[string]string, key, msg string) map[string]string {
	if details == nil {
		details = make(map[string]string)
	}
	details[key] = msg
	return details
}

// requestFingerprint hashes the canonical request JSON.
func requestFingerprint(req *types.OptimizeRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func classifyPipelineError(err error) (int, string) {
	switch {
	case errors.Is(err, generator.ErrNoFeasibleLineup):
		return http.StatusUnprocessableEntity, "no_feasible_lineup"
	case errors.Is(err, generator.ErrSolverTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "solver_timeout"
	case errors.Is(err, generator.ErrUnbounded):
		return http.StatusInternalServerError, "unbounded_model"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *OptimizeHandler) failJob(jobID string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if trackErr := h.tracker.Fail(ctx, jobID, err.Error()); trackErr != nil && !errors.Is(trackErr, jobs.ErrJobNotFound) {
		h.logger.WithError(trackErr).Warn("Failed to mark job failed")
	}
}

// runPipeline executes generation plus the optional equity and validation
// stages. Optional stage failures degrade to warnings, never request errors.
func (h *OptimizeHandler) runPipeline(
	ctx context.Context,
	jobID string,
	req *types.OptimizeRequest,
	drivers []types.DriverRecord,
	spec *types.ConstraintSpec,
) (*types.OptimizeResponse, error) {
	start := time.Now()
	log := h.logger.WithFields(logrus.Fields{"job_id": jobID, "slate_id": req.SlateID})

	if err := h.tracker.SetRunning(ctx, jobID); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		log.WithError(err).Warn("Failed to mark job running")
	}

	ownership, warnings := resolveOwnership(req, drivers)

	genReq := h.buildGeneratorRequest(jobID, req, drivers, spec, ownership)
	portfolio, err := h.generator.Generate(ctx, genReq)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, portfolio.Warnings...)

	response := &types.OptimizeResponse{
		JobID:          jobID,
		SlateID:        req.SlateID,
		Status:         portfolio.Status,
		Lineups:        lineupResults(portfolio, drivers),
		DriverExposure: portfolio.Book.DriverExposureReport(drivers),
		TeamExposure:   portfolio.Book.TeamExposureReport(),
		Correlation:    portfolio.CorrelationSummary(),
	}

	if req.ContestSim.Enabled && len(portfolio.Lineups) > 0 {
		equity, warn := h.runContestStage(ctx, req, portfolio, drivers, ownership)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		response.ContestEquity = equity
	}

	if req.ValidateTail && req.ObjectiveType == types.ObjectiveCVaR && portfolio.Status == generator.StatusComplete {
		validation, err := h.generator.ValidateTailObjective(ctx, genReq, portfolio, validationBootstrap)
		if err != nil {
			warnings = append(warnings, "tail validation skipped: "+err.Error())
			log.WithError(err).Warn("Tail validation stage failed")
		} else {
			response.TailValidation = validation
		}
	}

	response.Warnings = warnings
	response.OptimizationTimeMS = time.Since(start).Milliseconds()

	log.WithFields(logrus.Fields{
		"status":      response.Status,
		"lineups":     len(response.Lineups),
		"duration_ms": response.OptimizationTimeMS,
	}).Info("Optimize pipeline finished")
	return response, nil
}

func (h *OptimizeHandler) buildGeneratorRequest(
	jobID string,
	req *types.OptimizeRequest,
	drivers []types.DriverRecord,
	spec *types.ConstraintSpec,
	ownership []float64,
) *generator.Request {
	quantiles := make([]objective.Quantile, len(req.Alphas))
	totalW := 0.0
	for _, w := range req.Weights {
		totalW += w
	}
	for i, alpha := range req.Alphas {
		quantiles[i] = objective.Quantile{Alpha: alpha, Weight: req.Weights[i] / totalW}
	}

	timeLimit := h.cfg.SolverTimeLimitPerLineup
	if req.TimeLimitPerLineupMS > 0 {
		timeLimit = time.Duration(req.TimeLimitPerLineupMS) * time.Millisecond
	}

	genReq := &generator.Request{
		SlateID:            req.SlateID,
		Drivers:            drivers,
		Spec:               spec,
		SpecHash:           specHash(spec),
		Source:             &scenario.GammaSource{Drivers: drivers, Track: spec.Track},
		NScenarios:         req.NScenarios,
		Seed:               req.Seed,
		NLineups:           req.NLineups,
		ObjectiveType:      req.ObjectiveType,
		Quantiles:          quantiles,
		Exposure:           req.Exposure,
		DiversityWeight:    req.DiversityWeight,
		TimeLimitPerLineup: timeLimit,
		Progress: func(done, total int) {
			progress := float64(done) / float64(total)
			bg, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := h.tracker.UpdateProgress(bg, jobID, progress); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
				h.logger.WithError(err).Debug("Progress update failed")
			}
			h.hub.BroadcastToJob(jobID, types.ProgressUpdate{
				JobID:       jobID,
				Type:        "optimization_progress",
				Progress:    progress,
				Message:     fmt.Sprintf("Built %d of %d lineups", done, total),
				CurrentStep: "portfolio",
				TotalSteps:  total,
				Timestamp:   time.Now(),
			})
		},
	}

	if req.Regime.Enabled {
		genReq.Regime = &generator.RegimeOptions{
			Classifier: &generator.VarianceClassifier{},
			Weights:    req.Regime.Weights,
		}
	}

	if req.Leverage.Enabled && ownership != nil {
		genReq.Leverage = &generator.LeverageConfig{
			Lambda:                 req.Leverage.Lambda,
			MaxTotalOwnership:      req.Leverage.MaxTotalOwnership,
			MinLowOwnershipDrivers: req.Leverage.MinLowOwnershipDrivers,
			LowOwnershipThreshold:  req.Leverage.LowOwnershipThreshold,
		}
		genReq.Ownership = ownership
	}
	return genReq
}

// resolveOwnership returns slate-ordered ownership percentages, or nil when
// ownership is off or unavailable.
func resolveOwnership(req *types.OptimizeRequest, drivers []types.DriverRecord) ([]float64, []string) {
	switch req.OwnershipMode {
	case types.OwnershipProvided:
		return types.NormalizeOwnership(req.Ownership), nil
	case types.OwnershipEstimated:
		raw := make([]float64, len(drivers))
		missing := 0
		for i, d := range drivers {
			raw[i] = d.Ownership()
			if d.ProjectedOwnership == nil {
				missing++
			}
		}
		if missing == len(drivers) {
			return nil, []string{"ownership estimation unavailable: no projected ownership on slate"}
		}
		return types.NormalizeOwnership(raw), nil
	default:
		return nil, nil
	}
}

// runContestStage fits the payout curve, samples the field, and simulates the
// portfolio. Failures return a warning string and a nil block.
func (h *OptimizeHandler) runContestStage(
	ctx context.Context,
	req *types.OptimizeRequest,
	portfolio *generator.Portfolio,
	drivers []types.DriverRecord,
	ownership []float64,
) (*types.ContestEquityBlock, string) {
	if ownership == nil {
		return nil, "contest equity skipped: no ownership signal"
	}

	curve, err := payout.Fit(req.ContestSim.PayoutConfig.Ranks, req.ContestSim.PayoutConfig.Payouts,
		payout.Model(req.ContestSim.PayoutConfig.Model))
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}

	colDrivers, colOwnership := byColumn(drivers, ownership, portfolio.Cols)
	sampler, err := contest.NewFieldSampler(colDrivers, colOwnership,
		generator.DefaultRosterSize, generator.DefaultSalaryCap, h.logger)
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}
	field, warn, err := sampler.SampleField(ctx, req.ContestSim.FieldSize, req.Seed+2)
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}

	buyin := req.ContestSim.Buyin
	if buyin <= 0 {
		buyin = 1
	}
	sim, err := contest.NewSimulator(portfolio.Matrix, field, curve, buyin, h.logger)
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}

	selections := make([][]int, len(portfolio.Lineups))
	for i := range portfolio.Lineups {
		selections[i] = portfolio.Lineups[i].Columns
	}
	draws, err := sim.SimulatePortfolio(ctx, selections, req.ContestSim.NContestSims, req.Seed+3)
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}
	per, agg, err := contest.Aggregate(draws, buyin, len(field)+1, req.Seed+4)
	if err != nil {
		return nil, "contest equity skipped: " + err.Error()
	}

	return &types.ContestEquityBlock{
		PerLineup:  per,
		Portfolio:  agg,
		CurveModel: string(curve.Model()),
		CurveRMSE:  curve.RMSE,
		CurveR2:    curve.R2,
	}, warn
}

// byColumn reorders slate-ordered drivers and ownership to scenario columns.
func byColumn(drivers []types.DriverRecord, ownership []float64, cols []int) ([]types.DriverRecord, []float64) {
	byID := make(map[int]int, len(drivers))
	for i, d := range drivers {
		byID[d.DriverID] = i
	}
	outDrivers := make([]types.DriverRecord, len(cols))
	outOwn := make([]float64, len(cols))
	for i, id := range cols {
		si := byID[id]
		outDrivers[i] = drivers[si]
		outOwn[i] = ownership[si]
	}
	return outDrivers, outOwn
}

func lineupResults(portfolio *generator.Portfolio, drivers []types.DriverRecord) []types.LineupResult {
	byID := make(map[int]types.DriverRecord, len(drivers))
	for _, d := range drivers {
		byID[d.DriverID] = d
	}
	results := make([]types.LineupResult, len(portfolio.Lineups))
	for i := range portfolio.Lineups {
		lu := &portfolio.Lineups[i]
		res := types.LineupResult{
			TotalSalary:  lu.TotalSalary,
			TailMetrics:  make(map[string]float64),
			Leverage:     lu.Leverage,
			SolverStatus: lu.SolverStatus,
			Regime:       lu.Regime,
		}
		for _, id := range lu.DriverIDs {
			d := byID[id]
			res.Drivers = append(res.Drivers, types.LineupDriver{
				DriverID:  d.DriverID,
				DisplayID: d.DisplayID,
				Name:      d.Name,
				Team:      d.Team,
				Salary:    d.Salary,
			})
		}
		for _, report := range lu.Tail {
			res.TailMetrics["cvar_"+report.Label] = report.CVaR
			res.TailMetrics["var_"+report.Label] = report.VaR
			res.TailMetrics[report.Label] = report.TopXPct
			res.TailMetrics["upside_"+report.Label] = report.ConditionalUpside

			// Alpha-keyed aliases (cvar_99, var_95) for clients that address
			// metrics by quantile instead of tail label.
			pct := int(math.Round(report.Alpha * 100))
			res.TailMetrics[fmt.Sprintf("cvar_%d", pct)] = report.CVaR
			res.TailMetrics[fmt.Sprintf("var_%d", pct)] = report.VaR
		}
		results[i] = res
	}
	return results
}

// specHash fingerprints the constraint spec for scenario cache keying.
func specHash(spec *types.ConstraintSpec) string {
	if spec == nil {
		return ""
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

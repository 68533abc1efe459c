package types

// ExposureOptions sets portfolio-level exposure ceilings as fractions.
type ExposureOptions struct {
	MaxDriver float64 `json:"max_driver"`
	MaxTeam   float64 `json:"max_team"`
}

// LeverageOptions configures the ownership-aware optimization mode.
type LeverageOptions struct {
	Enabled                bool    `json:"enabled"`
	Lambda                 float64 `json:"lambda"`
	MaxTotalOwnership      float64 `json:"max_total_ownership"`
	MinLowOwnershipDrivers int     `json:"min_low_ownership_drivers"`
	LowOwnershipThreshold  float64 `json:"low_ownership_threshold"`
}

// PayoutConfig carries observed rank/payout pairs plus the model family to
// fit against them.
type PayoutConfig struct {
	Model   string    `json:"model"`
	Ranks   []int     `json:"ranks"`
	Payouts []float64 `json:"payouts"`
}

// RegimeOptions splits the portfolio budget across race-flow regimes. Weights
// are relative shares keyed by regime label (dominator, chaos, fuel_mileage).
type RegimeOptions struct {
	Enabled bool               `json:"enabled"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// ContestSimOptions configures the Monte-Carlo contest equity layer.
type ContestSimOptions struct {
	Enabled      bool         `json:"enabled"`
	FieldSize    int          `json:"field_size"`
	NContestSims int          `json:"n_contest_sims"`
	Buyin        float64      `json:"buyin"`
	PayoutConfig PayoutConfig `json:"payout_config"`
}

// OptimizeRequest is the optimize API payload. Zero-valued options take the
// server defaults.
type OptimizeRequest struct {
	SlateID              string            `json:"slate_id" binding:"required"`
	NScenarios           int               `json:"n_scenarios"`
	NLineups             int               `json:"n_lineups"`
	ObjectiveType        string            `json:"objective_type"`
	Alphas               []float64         `json:"alphas"`
	Weights              []float64         `json:"weights"`
	Exposure             ExposureOptions   `json:"exposure"`
	DiversityWeight      float64           `json:"diversity_weight"`
	OwnershipMode        string            `json:"ownership_mode"`
	Ownership            []float64         `json:"ownership,omitempty"`
	Leverage             LeverageOptions   `json:"leverage"`
	Regime               RegimeOptions     `json:"regime"`
	ContestSim           ContestSimOptions `json:"contest_sim"`
	ValidateTail         bool              `json:"validate_tail"`
	Seed                 int64             `json:"seed"`
	TimeLimitPerLineupMS int               `json:"time_limit_per_lineup_ms"`
}

// Objective type and ownership mode values accepted by the API.
const (
	ObjectiveCVaR = "cvar"
	ObjectiveMean = "mean"

	OwnershipOff       = "off"
	OwnershipEstimated = "estimated"
	OwnershipProvided  = "provided"
)

// ApplyDefaults fills zero-valued optional fields with the documented
// defaults.
func (r *OptimizeRequest) ApplyDefaults() {
	if r.ObjectiveType == "" {
		r.ObjectiveType = ObjectiveCVaR
	}
	if len(r.Alphas) == 0 {
		r.Alphas = []float64{0.99, 0.95}
		r.Weights = []float64{0.7, 0.3}
	}
	if len(r.Weights) == 0 {
		r.Weights = make([]float64, len(r.Alphas))
		for i := range r.Weights {
			r.Weights[i] = 1.0 / float64(len(r.Alphas))
		}
	}
	if r.OwnershipMode == "" {
		r.OwnershipMode = OwnershipOff
	}
	if r.Exposure.MaxDriver == 0 {
		r.Exposure.MaxDriver = 0.6
	}
	if r.Exposure.MaxTeam == 0 {
		r.Exposure.MaxTeam = 0.8
	}
	if r.Leverage.Enabled {
		if r.Leverage.Lambda == 0 {
			r.Leverage.Lambda = 1.0
		}
		if r.Leverage.MaxTotalOwnership == 0 {
			r.Leverage.MaxTotalOwnership = 0.5
		}
		if r.Leverage.MinLowOwnershipDrivers == 0 {
			r.Leverage.MinLowOwnershipDrivers = 2
		}
		if r.Leverage.LowOwnershipThreshold == 0 {
			r.Leverage.LowOwnershipThreshold = 10.0
		}
	}
	if r.Regime.Enabled && len(r.Regime.Weights) == 0 {
		r.Regime.Weights = map[string]float64{
			"dominator":    0.4,
			"chaos":        0.35,
			"fuel_mileage": 0.25,
		}
	}
	if r.ContestSim.Enabled {
		if r.ContestSim.FieldSize == 0 {
			r.ContestSim.FieldSize = 10000
		}
		if r.ContestSim.NContestSims == 0 {
			r.ContestSim.NContestSims = 200
		}
	}
}

// LineupDriver is one roster slot in a response lineup.
type LineupDriver struct {
	DriverID  int    `json:"driver_id"`
	DisplayID string `json:"display_id"`
	Name      string `json:"name"`
	Team      string `json:"team"`
	Salary    int    `json:"salary"`
}

// LineupResult is one emitted lineup with its tail metrics.
type LineupResult struct {
	Drivers      []LineupDriver     `json:"drivers"`
	TotalSalary  int                `json:"total_salary"`
	TailMetrics  map[string]float64 `json:"tail_metrics"`
	Leverage     *LeverageMetrics   `json:"leverage,omitempty"`
	SolverStatus string             `json:"solver_status"`
	Regime       string             `json:"regime,omitempty"`
}

// ContestEquityBlock aggregates contest simulation output.
type ContestEquityBlock struct {
	PerLineup  []ContestLineupMetrics `json:"per_lineup"`
	Portfolio  ContestLineupMetrics   `json:"portfolio"`
	CurveModel string                 `json:"curve_model"`
	CurveRMSE  float64                `json:"curve_rmse"`
	CurveR2    float64                `json:"curve_r2"`
}

// ContestLineupMetrics is the ROI/cash/win view of one lineup (or the
// portfolio aggregate).
type ContestLineupMetrics struct {
	ROIPct     float64 `json:"roi_pct"`
	ROICILow   float64 `json:"roi_ci_low"`
	ROICIHigh  float64 `json:"roi_ci_high"`
	CashPct    float64 `json:"cash_pct"`
	CashStdErr float64 `json:"cash_std_err"`
	WinPct     float64 `json:"win_pct"`
	WinStdErr  float64 `json:"win_std_err"`
	EV         float64 `json:"ev"`
	AvgRank    float64 `json:"avg_rank"`
}

// TailValidationBlock compares the tail portfolio against a real
// mean-optimized baseline.
type TailValidationBlock struct {
	CVaRPortfolioMean float64 `json:"cvar_portfolio_mean_cvar99"`
	MeanBaselineMean  float64 `json:"mean_baseline_mean_cvar99"`
	TailImprovement   float64 `json:"tail_improvement"`
	BootstrapCV       float64 `json:"bootstrap_cv"`
	LineupConsistency float64 `json:"lineup_consistency"`
	Stable            bool    `json:"stable"`
}

// CorrelationSummary reports portfolio-level overlap.
type CorrelationSummary struct {
	MeanPairwiseJaccard float64 `json:"mean_pairwise_jaccard"`
	MaxPairwiseJaccard  float64 `json:"max_pairwise_jaccard"`
	UniqueDrivers       int     `json:"unique_drivers"`
}

// OptimizeResponse is the optimize API result envelope. Optional blocks are
// omitted when their pipeline stage is off or errored; errored stages add a
// warning instead of failing the request.
type OptimizeResponse struct {
	JobID              string               `json:"job_id"`
	SlateID            string               `json:"slate_id"`
	Status             string               `json:"status"`
	Lineups            []LineupResult       `json:"lineups"`
	DriverExposure     map[string]float64   `json:"driver_exposure"`
	TeamExposure       map[string]float64   `json:"team_exposure"`
	Correlation        CorrelationSummary   `json:"correlation"`
	ContestEquity      *ContestEquityBlock  `json:"contest_equity,omitempty"`
	TailValidation     *TailValidationBlock `json:"tail_validation,omitempty"`
	Calibration        map[string]float64   `json:"calibration,omitempty"`
	Warnings           []string             `json:"warnings,omitempty"`
	OptimizationTimeMS int64                `json:"optimization_time_ms"`
}

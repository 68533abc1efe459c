package generator

import (
	"fmt"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/milp"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// LeverageConfig drives the ownership-aware optimization mode.
type LeverageConfig struct {
	Lambda                 float64
	MaxTotalOwnership      float64 // fraction per roster slot, e.g. 0.5
	MinLowOwnershipDrivers int
	LowOwnershipThreshold  float64 // percent, e.g. 10
}

// leveragePenalty builds the per-driver ownership penalty
// -lambda * (o_i/100)^2 * x_i. ownership is indexed by scenario column.
func leveragePenalty(x []*milp.Var, ownership []float64, lambda float64) *milp.Expr {
	penalty := milp.NewExpr()
	for i, v := range x {
		o := ownership[i] / 100
		penalty.AddTerm(v, -lambda*o*o)
	}
	return penalty
}

// addLeverageConstraints enforces the ownership budget and the minimum
// low-owned driver count.
func addLeverageConstraints(m *milp.Model, x []*milp.Var, ownership []float64, cfg *LeverageConfig, rosterSize int) error {
	if len(ownership) != len(x) {
		return fmt.Errorf("ownership vector length %d does not match drivers %d", len(ownership), len(x))
	}

	// sum((o_i/100) * x_i) <= max_total_ownership * n_roster
	budget := milp.NewExpr()
	for i, v := range x {
		budget.AddTerm(v, ownership[i]/100)
	}
	m.AddConstraint(budget, milp.LE, cfg.MaxTotalOwnership*float64(rosterSize), "ownership_budget")

	// At least N drivers under the low-ownership threshold.
	low := milp.NewExpr()
	lowCount := 0
	for i, v := range x {
		if ownership[i] < cfg.LowOwnershipThreshold {
			low.AddTerm(v, 1)
			lowCount++
		}
	}
	if lowCount < cfg.MinLowOwnershipDrivers {
		return fmt.Errorf("only %d drivers under the %.1f%% ownership threshold, need %d",
			lowCount, cfg.LowOwnershipThreshold, cfg.MinLowOwnershipDrivers)
	}
	m.AddConstraint(low, milp.GE, float64(cfg.MinLowOwnershipDrivers), "min_low_ownership")

	return nil
}

// computeLeverageMetrics derives per-lineup ownership aggregates. points is
// the lineup's projected total; ownership is indexed by scenario column.
func computeLeverageMetrics(selection []int, ownership []float64, points, lambda float64) *types.LeverageMetrics {
	if len(selection) == 0 {
		return nil
	}
	total, max := 0.0, 0.0
	sumSq := 0.0
	for _, col := range selection {
		o := ownership[col]
		total += o
		if o > max {
			max = o
		}
		sumSq += o * o
	}
	n := float64(len(selection))
	return &types.LeverageMetrics{
		AvgOwnership:   total / n,
		MaxOwnership:   max,
		TotalOwnership: total,
		LeverageScore:  points - lambda*(sumSq/n)/100,
	}
}

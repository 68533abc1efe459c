package objective

import (
	"fmt"
	"math"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/milp"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
)

// Quantile pairs a CVaR quantile with its weight in a blended objective.
type Quantile struct {
	Alpha  float64
	Weight float64
}

// DefaultQuantiles is the tournament default: 0.70*CVaR(0.99) + 0.30*CVaR(0.95).
func DefaultQuantiles() []Quantile {
	return []Quantile{
		{Alpha: 0.99, Weight: 0.70},
		{Alpha: 0.95, Weight: 0.30},
	}
}

// BuildMultiCVaR emits one bounded upper-tail CVaR family per quantile and
// returns the weighted combination sum(w_j * CVaR_{alpha_j}) along with the
// raw per-quantile terms. Each family gets its own variable prefix so any
// number of quantiles can coexist in one model.
func BuildMultiCVaR(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, quantiles []Quantile, rosterSize int) (*milp.Expr, []*CVaRTerms, error) {
	if len(quantiles) == 0 {
		return nil, nil, fmt.Errorf("at least one quantile is required")
	}

	combined := milp.NewExpr()
	terms := make([]*CVaRTerms, 0, len(quantiles))
	for j, q := range quantiles {
		prefix := quantilePrefix(j, q.Alpha)
		t, err := BuildUpperTailCVaR(m, x, sm, q.Alpha, rosterSize, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("quantile %d (alpha=%v): %w", j, q.Alpha, err)
		}
		combined.AddScaled(t.Expr, q.Weight)
		terms = append(terms, t)
	}
	return combined, terms, nil
}

// ApplyMultiCVaR builds the blended expression and installs it as the model
// objective (maximize).
func ApplyMultiCVaR(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, quantiles []Quantile, rosterSize int) (*milp.Expr, []*CVaRTerms, error) {
	expr, terms, err := BuildMultiCVaR(m, x, sm, quantiles, rosterSize)
	if err != nil {
		return nil, nil, err
	}
	m.SetObjective(expr, milp.Maximize)
	return expr, terms, nil
}

// quantilePrefix derives a unique variable prefix per quantile position.
// The ordinal keeps repeated alphas distinct; the basis-point label keeps
// model dumps readable.
func quantilePrefix(ordinal int, alpha float64) string {
	return fmt.Sprintf("q%d_cvar%d_", ordinal, int(math.Round(alpha*10000)))
}

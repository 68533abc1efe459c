// Package tailmetrics computes upper-tail statistics (VaR, CVaR, top-X%)
// over scenario point vectors. For maximization problems the tail is the set
// of k largest outcomes with k = ceil((1-alpha)*S).
package tailmetrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalidAlpha   = errors.New("alpha must be in (0, 1)")
	ErrEmptyScenarios = errors.New("empty scenario vector")
)

// Report holds all tail metrics for one quantile.
type Report struct {
	Alpha             float64 `json:"alpha"`
	Label             string  `json:"label"`
	CVaR              float64 `json:"cvar"`
	VaR               float64 `json:"var"`
	TopXPct           float64 `json:"top_x_pct"`
	ConditionalUpside float64 `json:"conditional_upside"`
}

func validate(x []float64, alpha float64) error {
	if alpha <= 0 || alpha >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	if len(x) == 0 {
		return ErrEmptyScenarios
	}
	return nil
}

// tailCount computes k = ceil((1-alpha)*S), never below 1.
func tailCount(alpha float64, s int) int {
	k := int(math.Ceil((1 - alpha) * float64(s)))
	if k < 1 {
		k = 1
	}
	if k > s {
		// Cannot happen with alpha in (0,1); guard against caller abuse.
		logrus.WithFields(logrus.Fields{
			"k": k, "scenarios": s, "alpha": alpha,
		}).Warn("Tail count exceeds scenario count, using entire vector")
		k = s
	}
	return k
}

// CVaR returns the mean of the k largest values of x.
func CVaR(x []float64, alpha float64) (float64, error) {
	if err := validate(x, alpha); err != nil {
		return 0, err
	}
	tail := topK(x, tailCount(alpha, len(x)))
	return stat.Mean(tail, nil), nil
}

// VaR returns the alpha-quantile threshold: the minimum of the top-k values.
func VaR(x []float64, alpha float64) (float64, error) {
	if err := validate(x, alpha); err != nil {
		return 0, err
	}
	tail := topK(x, tailCount(alpha, len(x)))
	return minOf(tail), nil
}

// TopXPct returns the best outcome among the top-k values.
func TopXPct(x []float64, alpha float64) (float64, error) {
	if err := validate(x, alpha); err != nil {
		return 0, err
	}
	tail := topK(x, tailCount(alpha, len(x)))
	return maxOf(tail), nil
}

// ConditionalUpside returns CVaR minus the full-vector mean: the expected
// excess given a tail event.
func ConditionalUpside(x []float64, alpha float64) (float64, error) {
	cvar, err := CVaR(x, alpha)
	if err != nil {
		return 0, err
	}
	return cvar - stat.Mean(x, nil), nil
}

// Compute evaluates all tail metrics for each quantile in one pass per
// quantile (the selection is shared across CVaR/VaR/top).
func Compute(x []float64, alphas []float64) ([]Report, error) {
	reports := make([]Report, 0, len(alphas))
	for _, alpha := range alphas {
		if err := validate(x, alpha); err != nil {
			return nil, err
		}
		tail := topK(x, tailCount(alpha, len(x)))
		cvar := stat.Mean(tail, nil)
		reports = append(reports, Report{
			Alpha:             alpha,
			Label:             PercentLabel(alpha),
			CVaR:              cvar,
			VaR:               minOf(tail),
			TopXPct:           maxOf(tail),
			ConditionalUpside: cvar - stat.Mean(x, nil),
		})
	}
	return reports, nil
}

// PercentLabel derives the human label for a quantile, e.g. 0.99 -> "top_1pct".
// Integer rounding avoids floating-point label drift (0.99 would otherwise
// truncate to 0%).
func PercentLabel(alpha float64) string {
	pct := int(math.Round((1 - alpha) * 100))
	return fmt.Sprintf("top_%dpct", pct)
}

// AdaptiveScenarioCount returns the scenario count needed to keep at least
// minTailSamples outcomes inside the (1-alpha) tail, floored per quantile
// tier. minTailSamples <= 0 selects the default of 100.
func AdaptiveScenarioCount(alpha float64, minTailSamples int) (int, error) {
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	if minTailSamples <= 0 {
		minTailSamples = 100
	}
	n := int(math.Ceil(float64(minTailSamples) / (1 - alpha)))
	floor := tierFloor(alpha)
	if n < floor {
		n = floor
	}
	return n, nil
}

func tierFloor(alpha float64) int {
	switch {
	case alpha >= 0.99:
		return 10000
	case alpha >= 0.95:
		return 2000
	default:
		return 1000
	}
}

package generator

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
)

// Race regime labels produced by the default classifier.
const (
	RegimeDominator   = "dominator"
	RegimeChaos       = "chaos"
	RegimeFuelMileage = "fuel_mileage"
)

// Classifier assigns a regime label to one scenario row (per-driver points).
type Classifier interface {
	Classify(row []float64) string
}

// RegimeOptions enables regime-aware allocation: the portfolio is split
// across scenario regimes, and each slice is optimized only against its
// regime's rows. Weights are relative shares per regime label.
type RegimeOptions struct {
	Classifier Classifier
	Weights    map[string]float64
}

// regimePlan is one slice of the build: Count lineups optimized against
// Matrix. Name is empty for the single-plan (no regime) case.
type regimePlan struct {
	Name   string
	Matrix *scenario.Matrix
	Count  int
}

// buildPlans partitions the matrix rows by regime and allocates the lineup
// budget across regimes by weight. Regimes that classify zero rows are
// dropped with a warning and their share redistributed.
func buildPlans(matrix *scenario.Matrix, opts *RegimeOptions, nLineups int, log *logrus.Logger) ([]regimePlan, []string, error) {
	if opts == nil || opts.Classifier == nil {
		return []regimePlan{{Matrix: matrix, Count: nLineups}}, nil, nil
	}
	if len(opts.Weights) == 0 {
		return nil, nil, fmt.Errorf("regime allocation requires at least one weight")
	}

	rowsByRegime := make(map[string][]int)
	for k := 0; k < matrix.Scenarios(); k++ {
		label := opts.Classifier.Classify(matrix.Row(k))
		rowsByRegime[label] = append(rowsByRegime[label], k)
	}

	var warnings []string
	weights := make(map[string]float64, len(opts.Weights))
	for label, w := range opts.Weights {
		if w <= 0 {
			continue
		}
		if len(rowsByRegime[label]) == 0 {
			warnings = append(warnings, fmt.Sprintf("regime %q matched no scenarios, share redistributed", label))
			log.WithField("regime", label).Warn("Regime matched no scenarios")
			continue
		}
		weights[label] = w
	}
	if len(weights) == 0 {
		warnings = append(warnings, "no regime matched any scenarios, falling back to the full matrix")
		return []regimePlan{{Matrix: matrix, Count: nLineups}}, warnings, nil
	}

	counts := allocateByWeight(weights, nLineups)

	// Deterministic plan order: largest allocation first, label as tiebreak.
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	plans := make([]regimePlan, 0, len(labels))
	for _, label := range labels {
		if counts[label] == 0 {
			continue
		}
		sub, err := matrix.SubsetRows(rowsByRegime[label])
		if err != nil {
			return nil, nil, fmt.Errorf("regime %q: %w", label, err)
		}
		plans = append(plans, regimePlan{Name: label, Matrix: sub, Count: counts[label]})
	}
	return plans, warnings, nil
}

// allocateByWeight splits n integer slots proportionally to the weights,
// assigning floor shares first and the remainder to the largest weights.
func allocateByWeight(weights map[string]float64, n int) map[string]int {
	total := 0.0
	for _, w := range weights {
		total += w
	}

	labels := make([]string, 0, len(weights))
	for label := range weights {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	counts := make(map[string]int, len(weights))
	type frac struct {
		label string
		rem   float64
	}
	var fracs []frac
	assigned := 0
	for _, label := range labels {
		share := float64(n) * weights[label] / total
		fl := int(math.Floor(share))
		counts[label] = fl
		assigned += fl
		fracs = append(fracs, frac{label: label, rem: share - float64(fl)})
	}
	sort.Slice(fracs, func(i, j int) bool {
		if fracs[i].rem != fracs[j].rem {
			return fracs[i].rem > fracs[j].rem
		}
		return weights[fracs[i].label] > weights[fracs[j].label]
	})
	for i := 0; assigned < n; i++ {
		counts[fracs[i%len(fracs)].label]++
		assigned++
	}
	return counts
}

// VarianceClassifier is the default regime heuristic. It looks at the spread
// and concentration of a scenario row: a single driver far above the field is
// a dominator race, a flat compressed row is fuel mileage, and a high-spread
// row without a clear leader is chaos.
type VarianceClassifier struct {
	// DominanceRatio is the top-score multiple of the row mean that marks a
	// dominator race. Defaults to 1.8 when zero.
	DominanceRatio float64
	// ChaosCV is the coefficient of variation above which a non-dominator
	// row counts as chaos. Defaults to 0.45 when zero.
	ChaosCV float64
}

// Classify implements Classifier.
func (c *VarianceClassifier) Classify(row []float64) string {
	ratio := c.DominanceRatio
	if ratio == 0 {
		ratio = 1.8
	}
	chaosCV := c.ChaosCV
	if chaosCV == 0 {
		chaosCV = 0.45
	}

	mean, std := stat.MeanStdDev(row, nil)
	if mean <= 0 {
		return RegimeChaos
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	if max >= ratio*mean {
		return RegimeDominator
	}
	if std/mean >= chaosCV {
		return RegimeChaos
	}
	return RegimeFuelMileage
}

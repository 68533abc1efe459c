package tailmetrics

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Stability thresholds: the bootstrap distribution of CVaR must be tight and
// the re-optimized lineups must mostly agree.
const (
	stableCVThreshold          = 0.2
	stableConsistencyThreshold = 0.7
)

// OptimizeFunc re-optimizes against a resampled scenario vector and returns
// the resulting CVaR and the selected driver indices.
type OptimizeFunc func(resampled []float64) (cvar float64, lineup []int, err error)

// StabilityReport summarizes a bootstrap stability check.
type StabilityReport struct {
	CV                float64 `json:"cv"`
	LineupConsistency float64 `json:"lineup_consistency"`
	Stable            bool    `json:"stable"`
	NBootstrap        int     `json:"n_bootstrap"`
}

// ValidateTailStability resamples x with replacement nBootstrap times, runs
// optimizeFn on each resample, and reports the coefficient of variation of
// the resulting CVaRs plus the mean pairwise Jaccard similarity of the
// resulting lineups.
func ValidateTailStability(x []float64, optimizeFn OptimizeFunc, nBootstrap int, rng *rand.Rand) (*StabilityReport, error) {
	if len(x) == 0 {
		return nil, ErrEmptyScenarios
	}
	if nBootstrap < 2 {
		return nil, fmt.Errorf("n_bootstrap must be at least 2, got %d", nBootstrap)
	}

	cvars := make([]float64, 0, nBootstrap)
	lineups := make([][]int, 0, nBootstrap)
	resampled := make([]float64, len(x))

	for b := 0; b < nBootstrap; b++ {
		for i := range resampled {
			resampled[i] = x[rng.Intn(len(x))]
		}
		cvar, lineup, err := optimizeFn(resampled)
		if err != nil {
			return nil, fmt.Errorf("bootstrap iteration %d failed: %w", b, err)
		}
		cvars = append(cvars, cvar)
		lineups = append(lineups, lineup)
	}

	mean, std := stat.MeanStdDev(cvars, nil)
	cv := 0.0
	if mean != 0 {
		cv = std / mean
	}
	consistency := meanPairwiseJaccard(lineups)

	report := &StabilityReport{
		CV:                cv,
		LineupConsistency: consistency,
		Stable:            cv < stableCVThreshold && consistency > stableConsistencyThreshold,
		NBootstrap:        nBootstrap,
	}

	logrus.WithFields(logrus.Fields{
		"cv":                 report.CV,
		"lineup_consistency": report.LineupConsistency,
		"stable":             report.Stable,
	}).Debug("Tail stability validated")

	return report, nil
}

// meanPairwiseJaccard averages Jaccard similarity over all lineup pairs.
func meanPairwiseJaccard(lineups [][]int) float64 {
	if len(lineups) < 2 {
		return 1.0
	}
	total, pairs := 0.0, 0
	for i := 0; i < len(lineups); i++ {
		for j := i + 1; j < len(lineups); j++ {
			total += Jaccard(lineups[i], lineups[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// Jaccard computes |a ∩ b| / |a ∪ b| over driver index sets.
func Jaccard(a, b []int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	set := make(map[int]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[int]bool, len(b))
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		if set[v] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

package contest

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// nBootstrapROI is the resample count behind the ROI confidence interval.
const nBootstrapROI = 200

// Aggregate reduces raw contest draws to per-lineup and portfolio metrics.
// ROI confidence intervals are 5th/95th bootstrap percentiles of the mean;
// a degenerate payout distribution collapses them to zero width. Portfolio
// cash and win rates are "at least one lineup" probabilities per draw.
func Aggregate(draws []LineupDraws, buyin float64, entrants int, seed int64) ([]types.ContestLineupMetrics, types.ContestLineupMetrics, error) {
	if len(draws) == 0 {
		return nil, types.ContestLineupMetrics{}, fmt.Errorf("no contest draws to aggregate")
	}
	nSims := len(draws[0].Payouts)
	if nSims == 0 {
		return nil, types.ContestLineupMetrics{}, fmt.Errorf("contest draws are empty")
	}

	rng := rand.New(rand.NewSource(uint64(seed)))
	cashRank := int(math.Ceil(float64(entrants) * cashFraction))
	winRank := int(math.Ceil(float64(entrants) * top1PctFraction))

	per := make([]types.ContestLineupMetrics, len(draws))
	for li := range draws {
		d := &draws[li]
		if len(d.Payouts) != nSims {
			return nil, types.ContestLineupMetrics{}, fmt.Errorf("lineup %d has %d draws, expected %d", li, len(d.Payouts), nSims)
		}
		per[li] = lineupMetrics(d, buyin, rng)
	}

	// Portfolio view: one combined entry per draw.
	n := float64(nSims)
	portfolioPayouts := make([]float64, nSims)
	anyCash, anyWin := 0, 0
	rankSum := 0.0
	for sim := 0; sim < nSims; sim++ {
		cashed, won := false, false
		for li := range draws {
			portfolioPayouts[sim] += draws[li].Payouts[sim]
			rank := draws[li].Ranks[sim]
			rankSum += float64(rank)
			if rank <= cashRank {
				cashed = true
			}
			if rank <= winRank {
				won = true
			}
		}
		if cashed {
			anyCash++
		}
		if won {
			anyWin++
		}
	}

	stake := buyin * float64(len(draws))
	cashP := float64(anyCash) / n
	winP := float64(anyWin) / n
	roiLow, roiHigh := bootstrapROI(portfolioPayouts, stake, rng)
	portfolio := types.ContestLineupMetrics{
		ROIPct:     roiPct(stat.Mean(portfolioPayouts, nil), stake),
		ROICILow:   roiLow,
		ROICIHigh:  roiHigh,
		CashPct:    cashP * 100,
		CashStdErr: stdErr(cashP, n) * 100,
		WinPct:     winP * 100,
		WinStdErr:  stdErr(winP, n) * 100,
		EV:         stat.Mean(portfolioPayouts, nil),
		AvgRank:    rankSum / (n * float64(len(draws))),
	}
	return per, portfolio, nil
}

func lineupMetrics(d *LineupDraws, buyin float64, rng *rand.Rand) types.ContestLineupMetrics {
	n := float64(len(d.Payouts))
	mean := stat.Mean(d.Payouts, nil)
	cashP := float64(d.Cashes) / n
	winP := float64(d.Wins) / n

	rankSum := 0.0
	for _, r := range d.Ranks {
		rankSum += float64(r)
	}

	roiLow, roiHigh := bootstrapROI(d.Payouts, buyin, rng)
	return types.ContestLineupMetrics{
		ROIPct:     roiPct(mean, buyin),
		ROICILow:   roiLow,
		ROICIHigh:  roiHigh,
		CashPct:    cashP * 100,
		CashStdErr: stdErr(cashP, n) * 100,
		WinPct:     winP * 100,
		WinStdErr:  stdErr(winP, n) * 100,
		EV:         mean,
		AvgRank:    rankSum / n,
	}
}

func roiPct(meanPayout, stake float64) float64 {
	return (meanPayout - stake) / stake * 100
}

// bootstrapROI resamples the payout draws with replacement and returns the
// 5th and 95th percentiles of the resampled mean ROI.
func bootstrapROI(payouts []float64, stake float64, rng *rand.Rand) (low, high float64) {
	n := len(payouts)
	means := make([]float64, nBootstrapROI)
	for b := 0; b < nBootstrapROI; b++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += payouts[rng.Intn(n)]
		}
		means[b] = roiPct(sum/float64(n), stake)
	}
	sort.Float64s(means)
	return percentile(means, 0.05), percentile(means, 0.95)
}

// percentile takes a sorted slice and interpolates linearly between order
// statistics.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// stdErr is the binomial standard error of a rate estimated from n draws.
func stdErr(p, n float64) float64 {
	return math.Sqrt(p * (1 - p) / n)
}

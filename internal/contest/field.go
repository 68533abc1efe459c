// Package contest simulates tournament outcomes for an emitted portfolio:
// an ownership-driven opponent field sampler, a rank/payout simulator, and
// ROI aggregation with bootstrap confidence intervals.
package contest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// Field sampling knobs. Candidates are drawn with a 3x oversample so salary
// violations can be discarded without starving the field; refills are
// bounded so a pathological slate cannot loop forever.
const (
	oversampleFactor = 3
	maxRefillRounds  = 4
)

// DefaultConcentration is the Dirichlet concentration used when the sampler
// is built without one. Higher values hug the projected ownership; lower
// values spread the field.
const DefaultConcentration = 40.0

// FieldLineup is one sampled opponent roster, by scenario column.
type FieldLineup struct {
	Columns []int
	Salary  int
}

// FieldSampler draws opponent lineups from projected ownership. Each sampled
// entrant perturbs the ownership vector with a Dirichlet draw (built from
// gamma variates) so the field is not a single deterministic chalk lineup.
type FieldSampler struct {
	Drivers       []types.DriverRecord // by scenario column
	Ownership     []float64            // percent, by scenario column
	RosterSize    int
	SalaryCap     int
	Concentration float64 // Dirichlet concentration, DefaultConcentration when <= 0
	logger        *logrus.Logger
}

// NewFieldSampler validates the inputs and returns a sampler.
func NewFieldSampler(drivers []types.DriverRecord, ownership []float64, rosterSize, salaryCap int, log *logrus.Logger) (*FieldSampler, error) {
	if len(drivers) == 0 {
		return nil, fmt.Errorf("field sampler requires drivers")
	}
	if len(ownership) != len(drivers) {
		return nil, fmt.Errorf("ownership length %d does not match drivers %d", len(ownership), len(drivers))
	}
	if rosterSize < 1 || rosterSize > len(drivers) {
		return nil, fmt.Errorf("roster size %d invalid for %d drivers", rosterSize, len(drivers))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FieldSampler{
		Drivers:       drivers,
		Ownership:     ownership,
		RosterSize:    rosterSize,
		SalaryCap:     salaryCap,
		Concentration: DefaultConcentration,
		logger:        log,
	}, nil
}

// SampleField draws up to fieldSize salary-legal opponent lineups. A
// persistent shortfall after the refill budget returns what was drawn plus a
// warning string; the caller decides whether that degrades the request.
func (f *FieldSampler) SampleField(ctx context.Context, fieldSize int, seed int64) ([]FieldLineup, string, error) {
	if fieldSize < 1 {
		return nil, "", fmt.Errorf("field size must be positive, got %d", fieldSize)
	}

	src := rand.NewSource(uint64(seed))
	rng := rand.New(src)

	base := make([]float64, len(f.Ownership))
	total := 0.0
	for i, o := range f.Ownership {
		if o < 0 {
			o = 0
		}
		base[i] = o
		total += o
	}
	if total <= 0 {
		// No ownership signal: fall back to uniform.
		for i := range base {
			base[i] = 1
		}
		total = float64(len(base))
	}
	for i := range base {
		base[i] /= total
	}

	field := make([]FieldLineup, 0, fieldSize)
	for round := 0; round <= maxRefillRounds && len(field) < fieldSize; round++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		need := (fieldSize - len(field)) * oversampleFactor
		for c := 0; c < need && len(field) < fieldSize; c++ {
			lineup, ok := f.drawLineup(base, src, rng)
			if ok {
				field = append(field, lineup)
			}
		}
	}

	warning := ""
	if len(field) < fieldSize {
		warning = fmt.Sprintf("field sampler produced %d of %d entrants after %d refill rounds",
			len(field), fieldSize, maxRefillRounds)
		f.logger.WithFields(logrus.Fields{
			"sampled":    len(field),
			"field_size": fieldSize,
		}).Warn("Field sampling shortfall")
	}
	if len(field) == 0 {
		return nil, "", fmt.Errorf("field sampler could not produce any salary-legal lineup")
	}
	return field, warning, nil
}

// drawLineup perturbs the ownership simplex with a Dirichlet draw and picks
// RosterSize distinct drivers without replacement. Returns ok=false when the
// draw breaks the salary cap.
func (f *FieldSampler) drawLineup(base []float64, src rand.Source, rng *rand.Rand) (FieldLineup, bool) {
	conc := f.Concentration
	if conc <= 0 {
		conc = DefaultConcentration
	}
	weights := make([]float64, len(base))
	sum := 0.0
	for i, p := range base {
		shape := p * conc
		if shape < 1e-3 {
			shape = 1e-3
		}
		g := distuv.Gamma{Alpha: shape, Beta: 1, Src: src}
		weights[i] = g.Rand()
		sum += weights[i]
	}
	if sum <= 0 {
		return FieldLineup{}, false
	}

	lineup := FieldLineup{Columns: make([]int, 0, f.RosterSize)}
	taken := make([]bool, len(weights))
	remaining := sum
	for slot := 0; slot < f.RosterSize; slot++ {
		target := rng.Float64() * remaining
		pick := -1
		acc := 0.0
		for i, w := range weights {
			if taken[i] {
				continue
			}
			acc += w
			if target <= acc {
				pick = i
				break
			}
		}
		if pick < 0 {
			// Floating point slop at the top of the range.
			for i := len(weights) - 1; i >= 0; i-- {
				if !taken[i] {
					pick = i
					break
				}
			}
		}
		taken[pick] = true
		remaining -= weights[pick]
		lineup.Columns = append(lineup.Columns, pick)
		lineup.Salary += f.Drivers[pick].Salary
	}

	if f.SalaryCap > 0 && lineup.Salary > f.SalaryCap {
		return FieldLineup{}, false
	}
	return lineup, true
}

package contest

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/payout"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
)

// Contest placement fractions: cashing is the top quarter of entrants, a
// "win" is the top one percent.
const (
	cashFraction    = 0.25
	top1PctFraction = 0.01
)

// Simulator scores portfolio lineups against a sampled opponent field over
// Monte-Carlo contest draws. Each draw picks one scenario row and ranks
// every entrant on it.
type Simulator struct {
	Matrix *scenario.Matrix
	Field  []FieldLineup
	Curve  *payout.Curve
	Buyin  float64
	logger *logrus.Logger
}

// NewSimulator wires a simulator over a sampled field and a fitted curve.
func NewSimulator(matrix *scenario.Matrix, field []FieldLineup, curve *payout.Curve, buyin float64, log *logrus.Logger) (*Simulator, error) {
	if matrix == nil || matrix.Scenarios() == 0 {
		return nil, fmt.Errorf("simulator requires a scenario matrix")
	}
	if len(field) == 0 {
		return nil, fmt.Errorf("simulator requires a sampled field")
	}
	if curve == nil {
		return nil, fmt.Errorf("simulator requires a fitted payout curve")
	}
	if buyin <= 0 {
		return nil, fmt.Errorf("buyin must be positive, got %v", buyin)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Simulator{Matrix: matrix, Field: field, Curve: curve, Buyin: buyin, logger: log}, nil
}

// LineupDraws holds the raw per-draw outcomes of one lineup across all
// contest simulations. Metrics aggregation consumes it.
type LineupDraws struct {
	Payouts []float64
	Ranks   []int
	Cashes  int
	Wins    int
}

// SimulatePortfolio runs nSims contest draws. lineups holds the portfolio's
// scenario-column selections. Ties go against the entrant: rank counts every
// field score greater than or equal to the lineup's score.
func (s *Simulator) SimulatePortfolio(ctx context.Context, lineups [][]int, nSims int, seed int64) ([]LineupDraws, error) {
	if len(lineups) == 0 {
		return nil, fmt.Errorf("no lineups to simulate")
	}
	if nSims < 1 {
		return nil, fmt.Errorf("n_contest_sims must be positive, got %d", nSims)
	}

	entrants := len(s.Field) + 1 // field plus the entrant being ranked
	cashRank := int(math.Ceil(float64(entrants) * cashFraction))
	winRank := int(math.Ceil(float64(entrants) * top1PctFraction))

	rng := rand.New(rand.NewSource(uint64(seed)))

	draws := make([]LineupDraws, len(lineups))
	for li := range draws {
		draws[li].Payouts = make([]float64, 0, nSims)
		draws[li].Ranks = make([]int, 0, nSims)
	}

	fieldScores := make([]float64, len(s.Field))
	for sim := 0; sim < nSims; sim++ {
		if sim%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := s.Matrix.Row(rng.Intn(s.Matrix.Scenarios()))
		for fi := range s.Field {
			fieldScores[fi] = scoreLineup(row, s.Field[fi].Columns)
		}

		for li, columns := range lineups {
			myScore := scoreLineup(row, columns)
			rank := 1
			for _, fs := range fieldScores {
				if fs >= myScore {
					rank++
				}
			}

			pay, err := s.Curve.Predict(rank)
			if err != nil {
				return nil, fmt.Errorf("payout at rank %d: %w", rank, err)
			}
			d := &draws[li]
			d.Payouts = append(d.Payouts, pay)
			d.Ranks = append(d.Ranks, rank)
			if rank <= cashRank {
				d.Cashes++
			}
			if rank <= winRank {
				d.Wins++
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"lineups":  len(lineups),
		"n_sims":   nSims,
		"entrants": entrants,
	}).Debug("Contest simulation finished")

	return draws, nil
}

func scoreLineup(row []float64, columns []int) float64 {
	total := 0.0
	for _, col := range columns {
		total += row[col]
	}
	return total
}

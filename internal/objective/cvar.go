// Package objective translates scenario matrices and lineup selection
// variables into MILP objective expressions: per-driver mean, standard
// Rockafellar-Uryasev CVaR, and the bounded upper-tail CVaR maximization
// used as the tournament objective.
package objective

import (
	"errors"
	"fmt"
	"math"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/milp"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
)

var (
	ErrInvalidAlpha = errors.New("alpha must be in (0, 1)")
	ErrEmptyMatrix  = errors.New("scenario matrix is empty")
)

// CVaRTerms exposes the raw auxiliary variables behind one CVaR expression
// so callers can compose custom weightings instead of taking the default
// objective.
type CVaRTerms struct {
	Alpha  float64
	Prefix string
	Zeta   *milp.Var
	Slack  []*milp.Var
	Expr   *milp.Expr
}

func validateInputs(x []*milp.Var, sm *scenario.Matrix, alpha float64) error {
	if alpha <= 0 || alpha >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	if sm == nil || sm.Scenarios() == 0 || sm.Drivers() == 0 {
		return ErrEmptyMatrix
	}
	if len(x) != sm.Drivers() {
		return fmt.Errorf("selection variable count %d does not match scenario columns %d", len(x), sm.Drivers())
	}
	return nil
}

// BuildMeanExpr returns the expected-points expression sum(mean_i * x_i).
func BuildMeanExpr(x []*milp.Var, sm *scenario.Matrix) (*milp.Expr, error) {
	if sm == nil || sm.Scenarios() == 0 {
		return nil, ErrEmptyMatrix
	}
	if len(x) != sm.Drivers() {
		return nil, fmt.Errorf("selection variable count %d does not match scenario columns %d", len(x), sm.Drivers())
	}
	expr := milp.NewExpr()
	means := sm.ColMeans()
	for i, v := range x {
		expr.AddTerm(v, means[i])
	}
	return expr, nil
}

// ApplyMeanObjective sets maximize sum(mean_i * x_i) on the model.
func ApplyMeanObjective(m *milp.Model, x []*milp.Var, sm *scenario.Matrix) error {
	expr, err := BuildMeanExpr(x, sm)
	if err != nil {
		return err
	}
	m.SetObjective(expr, milp.Maximize)
	return nil
}

// BuildStandardCVaR emits the classic Rockafellar-Uryasev minimization form
// over losses loss_k = -p_k(x):
//
//	u_k >= loss_k - zeta,  u_k >= 0
//	expr = zeta + 1/((1-alpha)*S) * sum(u_k)
//
// The expression is meant to be minimized as a sub-term of a composite
// objective; it is not the tournament objective.
func BuildStandardCVaR(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, alpha float64, prefix string) (*CVaRTerms, error) {
	if err := validateInputs(x, sm, alpha); err != nil {
		return nil, err
	}

	s := sm.Scenarios()
	// Losses are negated points, so zeta spans [-n*maxCell, -n*minCell],
	// widened to include the empty selection at loss zero.
	n := float64(len(x))
	lossLo := math.Min(-n*sm.MaxCell(), 0)
	lossHi := math.Max(-n*sm.MinCell(), 0)
	zeta := m.AddContinuous(prefix+"zeta", lossLo, lossHi)

	expr := milp.NewExpr()
	expr.AddTerm(zeta, 1)
	scale := 1.0 / ((1 - alpha) * float64(s))

	slack := make([]*milp.Var, s)
	for k := 0; k < s; k++ {
		u := m.AddContinuous(fmt.Sprintf("%su_%d", prefix, k), 0, math.Inf(1))
		slack[k] = u

		// u_k >= -p_k(x) - zeta  <=>  -p_k(x) - zeta - u_k <= 0
		con := milp.NewExpr()
		row := sm.Row(k)
		for i, v := range x {
			con.AddTerm(v, -row[i])
		}
		con.AddTerm(zeta, -1)
		con.AddTerm(u, -1)
		m.AddConstraint(con, milp.LE, 0, fmt.Sprintf("%sru_%d", prefix, k))

		expr.AddTerm(u, scale)
	}

	return &CVaRTerms{Alpha: alpha, Prefix: prefix, Zeta: zeta, Slack: slack, Expr: expr}, nil
}

// BuildUpperTailCVaR emits the bounded upper-tail CVaR terms for
// maximization. For lineup points p_k(x) = sum(s_ki * x_i):
//
//	zeta in [roster*minCell, roster*maxCell]
//	u_k >= p_k(x) - zeta,  0 <= u_k <= roster*(maxCell - minCell)
//	expr = zeta + 1/((1-alpha)*S) * sum(u_k)
//
// The u_k upper bound is mandatory: without it the LP relaxation is
// unbounded under maximization.
func BuildUpperTailCVaR(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, alpha float64, rosterSize int, prefix string) (*CVaRTerms, error) {
	if err := validateInputs(x, sm, alpha); err != nil {
		return nil, err
	}
	if rosterSize < 1 {
		return nil, fmt.Errorf("roster size must be positive, got %d", rosterSize)
	}

	s := sm.Scenarios()
	roster := float64(rosterSize)
	zetaLo := roster * sm.MinCell()
	zetaHi := roster * sm.MaxCell()
	maxExcess := roster * (sm.MaxCell() - sm.MinCell())

	zeta := m.AddContinuous(prefix+"zeta", zetaLo, zetaHi)

	expr := milp.NewExpr()
	expr.AddTerm(zeta, 1)
	scale := 1.0 / ((1 - alpha) * float64(s))

	slack := make([]*milp.Var, s)
	for k := 0; k < s; k++ {
		u := m.AddContinuous(fmt.Sprintf("%su_%d", prefix, k), 0, maxExcess)
		slack[k] = u

		// u_k >= p_k(x) - zeta  <=>  p_k(x) - zeta - u_k <= 0
		con := milp.NewExpr()
		row := sm.Row(k)
		for i, v := range x {
			con.AddTerm(v, row[i])
		}
		con.AddTerm(zeta, -1)
		con.AddTerm(u, -1)
		m.AddConstraint(con, milp.LE, 0, fmt.Sprintf("%sexcess_%d", prefix, k))

		expr.AddTerm(u, scale)
	}

	return &CVaRTerms{Alpha: alpha, Prefix: prefix, Zeta: zeta, Slack: slack, Expr: expr}, nil
}

// ApplyUpperTailCVaR is the add-to-model half of the dual API: it builds the
// bounded terms and installs maximize(expr) as the model objective.
func ApplyUpperTailCVaR(m *milp.Model, x []*milp.Var, sm *scenario.Matrix, alpha float64, rosterSize int, prefix string) (*CVaRTerms, error) {
	terms, err := BuildUpperTailCVaR(m, x, sm, alpha, rosterSize, prefix)
	if err != nil {
		return nil, err
	}
	m.SetObjective(terms.Expr, milp.Maximize)
	return terms, nil
}

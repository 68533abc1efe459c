package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Result is the outcome of a MILP solve. Values is nil unless an incumbent
// solution exists.
type Result struct {
	Status    Status
	Objective float64
	Values    []float64
	Nodes     int
}

// Solver is a branch-and-bound MILP solver using gonum's simplex for the LP
// relaxations. Branching is restricted to binary variables, which is all the
// lineup models need.
type Solver struct {
	IntTol   float64
	LPTol    float64
	MaxNodes int
	logger   *logrus.Logger
}

// NewSolver returns a solver with default tolerances.
func NewSolver(log *logrus.Logger) *Solver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Solver{
		IntTol:   1e-6,
		LPTol:    1e-9,
		MaxNodes: 200000,
		logger:   log,
	}
}

type node struct {
	fixes map[int]float64 // binary variable index -> fixed value
}

// Solve runs branch and bound until optimality, infeasibility, the time
// limit, or context cancellation. On timeout with an incumbent the result is
// StatusTimeLimit with Values populated; the caller decides whether to
// accept it.
func (s *Solver) Solve(ctx context.Context, m *Model, timeLimit time.Duration) (*Result, error) {
	if err := m.Validate(); err != nil {
		return &Result{Status: StatusError}, err
	}

	deadline := time.Now().Add(timeLimit)
	rel := newRelaxation(m)

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1) // minimize space
		nodes        int
	)

	stack := []node{{fixes: map[int]float64{}}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return s.finish(m, incumbent, StatusTimeLimit, nodes), err
		}
		if time.Now().After(deadline) {
			s.logger.WithFields(logrus.Fields{
				"model": m.Name,
				"nodes": nodes,
			}).Debug("MILP time limit reached")
			return s.finish(m, incumbent, StatusTimeLimit, nodes), nil
		}
		if nodes >= s.MaxNodes {
			return s.finish(m, incumbent, StatusTimeLimit, nodes), nil
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		obj, x, err := rel.solve(cur.fixes, s.LPTol)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			continue
		case errors.Is(err, lp.ErrUnbounded):
			// A missing bound on an objective variable; fatal by contract.
			return &Result{Status: StatusUnbounded, Nodes: nodes}, nil
		case err != nil:
			// Singular basis and friends: treat the node as unusable.
			if nodes == 1 {
				return &Result{Status: StatusError, Nodes: nodes}, fmt.Errorf("LP relaxation failed: %w", err)
			}
			continue
		}

		if obj >= incumbentObj-1e-9 {
			continue // bound prune
		}

		branchVar := s.mostFractionalBinary(m, x)
		if branchVar < 0 {
			// Integral solution: new incumbent.
			rounded := make([]float64, len(x))
			copy(rounded, x)
			for _, v := range m.Vars() {
				if v.Binary {
					rounded[v.Index] = math.Round(rounded[v.Index])
				}
			}
			incumbent = rounded
			incumbentObj = obj
			continue
		}

		// Depth-first: explore the branch nearest the relaxation value last
		// pushed, so it pops first.
		frac := x[branchVar]
		near, far := 1.0, 0.0
		if frac < 0.5 {
			near, far = 0.0, 1.0
		}
		stack = append(stack, childNode(cur, branchVar, far))
		stack = append(stack, childNode(cur, branchVar, near))
	}

	if incumbent == nil {
		return &Result{Status: StatusInfeasible, Nodes: nodes}, nil
	}
	res := s.finish(m, incumbent, StatusOptimal, nodes)
	return res, nil
}

func childNode(parent node, varIdx int, value float64) node {
	fixes := make(map[int]float64, len(parent.fixes)+1)
	for k, v := range parent.fixes {
		fixes[k] = v
	}
	fixes[varIdx] = value
	return node{fixes: fixes}
}

func (s *Solver) finish(m *Model, incumbent []float64, status Status, nodes int) *Result {
	if incumbent == nil {
		return &Result{Status: status, Nodes: nodes}
	}
	return &Result{
		Status:    status,
		Objective: m.Objective().Value(incumbent),
		Values:    incumbent,
		Nodes:     nodes,
	}
}

func (s *Solver) mostFractionalBinary(m *Model, x []float64) int {
	best, bestDist := -1, s.IntTol
	for _, v := range m.Vars() {
		if !v.Binary {
			continue
		}
		dist := math.Abs(x[v.Index] - math.Round(x[v.Index]))
		if dist > bestDist {
			best, bestDist = v.Index, dist
		}
	}
	return best
}

// relaxation holds the model in a form ready for repeated LP solves with
// different binary fixings. Variables with a finite lower bound are shifted
// to zero; free-below variables are split into positive and negative parts.
type relaxation struct {
	m *Model
	c []float64 // minimize-space objective over original vars
}

func newRelaxation(m *Model) *relaxation {
	c := make([]float64, m.NumVars())
	for idx, coef := range m.Objective().coefs {
		c[idx] = coef
	}
	if m.ObjectiveSense() == Maximize {
		for i := range c {
			c[i] = -c[i]
		}
	}
	return &relaxation{m: m, c: c}
}

// solve builds the standard-form LP min c·z s.t. Az = b, z >= 0 and runs the
// simplex. It returns the objective (minimize space, excluding the
// expression constant) and the original-variable solution.
func (r *relaxation) solve(fixes map[int]float64, tol float64) (float64, []float64, error) {
	m := r.m
	n := m.NumVars()

	// Effective bounds under the node's fixings.
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i, v := range m.Vars() {
		lower[i] = v.Lower
		upper[i] = v.Upper
		if fv, ok := fixes[i]; ok {
			lower[i] = fv
			upper[i] = fv
		}
	}

	// Column layout: one column per variable (shifted by its lower bound);
	// variables with lower = -inf get a second, negated column.
	negCol := make([]int, n)
	extra := 0
	for i := 0; i < n; i++ {
		negCol[i] = -1
		if math.IsInf(lower[i], -1) {
			negCol[i] = n + extra
			extra++
		}
	}
	cols := n + extra

	type row struct {
		coefs map[int]float64 // original variable index -> coefficient
		rhs   float64
		eq    bool
	}
	var rows []row

	addRow := func(coefs map[int]float64, rhs float64, eq bool) {
		rows = append(rows, row{coefs: coefs, rhs: rhs, eq: eq})
	}

	for _, con := range m.Constraints() {
		rhs := con.RHS - con.Expr.constant
		switch con.Op {
		case LE:
			addRow(con.Expr.coefs, rhs, false)
		case GE:
			neg := make(map[int]float64, len(con.Expr.coefs))
			for idx, coef := range con.Expr.coefs {
				neg[idx] = -coef
			}
			addRow(neg, -rhs, false)
		case EQ:
			addRow(con.Expr.coefs, rhs, true)
		}
	}
	// Upper bounds as rows (lower bounds are absorbed by the shift).
	for i := 0; i < n; i++ {
		if !math.IsInf(upper[i], 1) {
			addRow(map[int]float64{i: 1}, upper[i], false)
		}
	}

	nIneq := 0
	for _, rw := range rows {
		if !rw.eq {
			nIneq++
		}
	}

	totalCols := cols + nIneq
	a := mat.NewDense(len(rows), totalCols, nil)
	b := make([]float64, len(rows))
	cStd := make([]float64, totalCols)

	shift := func(i int) float64 {
		if math.IsInf(lower[i], -1) {
			return 0
		}
		return lower[i]
	}

	for i := 0; i < n; i++ {
		cStd[i] = r.c[i]
		if negCol[i] >= 0 {
			cStd[negCol[i]] = -r.c[i]
		}
	}

	slack := cols
	for ri, rw := range rows {
		rhs := rw.rhs
		// Sorted index order keeps the float accumulation, and thus the
		// solve, deterministic across runs.
		idxs := make([]int, 0, len(rw.coefs))
		for idx := range rw.coefs {
			idxs = append(idxs, idx)
		}
		sort.Ints(idxs)
		for _, idx := range idxs {
			coef := rw.coefs[idx]
			a.Set(ri, idx, coef)
			if negCol[idx] >= 0 {
				a.Set(ri, negCol[idx], -coef)
			}
			rhs -= coef * shift(idx)
		}
		b[ri] = rhs
		if !rw.eq {
			a.Set(ri, slack, 1)
			slack++
		}
	}

	_, xStd, err := lp.Simplex(cStd, a, b, tol, nil)
	if err != nil {
		return 0, nil, err
	}

	x := make([]float64, n)
	obj := 0.0
	for i := 0; i < n; i++ {
		x[i] = xStd[i] + shift(i)
		if negCol[i] >= 0 {
			x[i] -= xStd[negCol[i]]
		}
		obj += r.c[i] * x[i]
	}
	return obj, x, nil
}

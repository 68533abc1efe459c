package milp

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(t *testing.T, m *Model) *Result {
	t.Helper()
	res, err := NewSolver(nil).Solve(context.Background(), m, 10*time.Second)
	require.NoError(t, err)
	return res
}

func TestSolveKnapsack(t *testing.T) {
	// max 10a + 6b + 4c s.t. a + b + c <= 2
	m := NewModel("knapsack")
	a := m.AddBinary("a")
	b := m.AddBinary("b")
	c := m.AddBinary("c")

	capacity := NewExpr().AddTerm(a, 1).AddTerm(b, 1).AddTerm(c, 1)
	m.AddConstraint(capacity, LE, 2, "capacity")

	obj := NewExpr().AddTerm(a, 10).AddTerm(b, 6).AddTerm(c, 4)
	m.SetObjective(obj, Maximize)

	res := solve(t, m)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, 16.0, res.Objective, 1e-6)
	assert.InDelta(t, 1.0, res.Values[a.Index], 1e-6)
	assert.InDelta(t, 1.0, res.Values[b.Index], 1e-6)
	assert.InDelta(t, 0.0, res.Values[c.Index], 1e-6)
}

func TestSolveEqualityAndContinuous(t *testing.T) {
	// min y s.t. y >= 3a + 2b, a + b = 1
	m := NewModel("mixed")
	a := m.AddBinary("a")
	b := m.AddBinary("b")
	y := m.AddContinuous("y", 0, 100)

	pick := NewExpr().AddTerm(a, 1).AddTerm(b, 1)
	m.AddConstraint(pick, EQ, 1, "pick_one")

	cover := NewExpr().AddTerm(a, 3).AddTerm(b, 2).AddTerm(y, -1)
	m.AddConstraint(cover, LE, 0, "cover")

	m.SetObjective(NewExpr().AddTerm(y, 1), Minimize)

	res := solve(t, m)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, 2.0, res.Objective, 1e-6)
	assert.InDelta(t, 1.0, res.Values[b.Index], 1e-6)
}

func TestSolveInfeasible(t *testing.T) {
	m := NewModel("infeasible")
	a := m.AddBinary("a")
	b := m.AddBinary("b")

	sum := NewExpr().AddTerm(a, 1).AddTerm(b, 1)
	m.AddConstraint(sum, GE, 3, "impossible")
	m.SetObjective(NewExpr().AddTerm(a, 1), Maximize)

	res := solve(t, m)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.Nil(t, res.Values)
}

func TestSolveUnboundedWithoutSlackBound(t *testing.T) {
	// Maximizing an unbounded continuous variable must come back as
	// unbounded, not crash or loop. This is the failure mode of a CVaR
	// auxiliary variable missing its upper bound.
	m := NewModel("unbounded")
	a := m.AddBinary("a")
	u := m.AddContinuous("u", 0, math.Inf(1))

	// u >= a never caps u from above.
	link := NewExpr().AddTerm(u, 1).AddTerm(a, -1)
	m.AddConstraint(link, GE, 0, "loose_link")

	obj := NewExpr().AddTerm(a, 1).AddTerm(u, 1)
	m.SetObjective(obj, Maximize)

	assert.True(t, m.HasUnboundedObjectiveVar())

	res := solve(t, m)
	assert.Equal(t, StatusUnbounded, res.Status)
}

func TestBoundedSlackIsNotUnbounded(t *testing.T) {
	// The same model with a finite bound on u solves fine.
	m := NewModel("bounded")
	a := m.AddBinary("a")
	u := m.AddContinuous("u", 0, 50)

	obj := NewExpr().AddTerm(a, 1).AddTerm(u, 1)
	m.SetObjective(obj, Maximize)

	assert.False(t, m.HasUnboundedObjectiveVar())

	res := solve(t, m)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, 51.0, res.Objective, 1e-6)
}

func TestFixVar(t *testing.T) {
	m := NewModel("fixed")
	a := m.AddBinary("a")
	b := m.AddBinary("b")
	m.FixVar(a, 0)

	obj := NewExpr().AddTerm(a, 10).AddTerm(b, 1)
	m.SetObjective(obj, Maximize)

	res := solve(t, m)
	assert.Equal(t, StatusOptimal, res.Status)
	assert.InDelta(t, 0.0, res.Values[a.Index], 1e-6)
	assert.InDelta(t, 1.0, res.Objective, 1e-6)
}

func TestValidateRejectsBadModels(t *testing.T) {
	m := NewModel("dup")
	m.AddBinary("x")
	m.AddBinary("x")
	m.SetObjective(NewExpr(), Maximize)
	assert.Error(t, m.Validate())

	m2 := NewModel("no_objective")
	m2.AddBinary("x")
	assert.Error(t, m2.Validate())

	m3 := NewModel("inverted")
	m3.AddContinuous("y", 5, 1)
	m3.SetObjective(NewExpr(), Minimize)
	assert.Error(t, m3.Validate())
}

func TestSolveHonorsContextCancel(t *testing.T) {
	m := NewModel("cancelled")
	a := m.AddBinary("a")
	m.SetObjective(NewExpr().AddTerm(a, 1), Maximize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewSolver(nil).Solve(ctx, m, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusTimeLimit, res.Status)
}

func TestExprValue(t *testing.T) {
	m := NewModel("expr")
	a := m.AddBinary("a")
	b := m.AddBinary("b")

	e := NewExpr().AddTerm(a, 2).AddTerm(b, 3).AddConstant(1)
	assert.Equal(t, 6.0, e.Value([]float64{1, 1}))
	assert.Equal(t, 3.0, e.Value([]float64{1, 0}))

	scaled := NewExpr().AddScaled(e, 2)
	assert.Equal(t, 12.0, scaled.Value([]float64{1, 1}))
}

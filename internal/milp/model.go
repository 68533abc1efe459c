// Package milp provides a small mixed-integer linear programming layer:
// a model type for binary and bounded continuous variables with linear
// constraints, and a branch-and-bound solver over gonum's LP simplex.
package milp

import (
	"fmt"
	"math"
)

// Sense is the objective direction.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// Status is the solver outcome.
type Status int

const (
	StatusOptimal Status = iota
	StatusFeasible
	StatusInfeasible
	StatusUnbounded
	StatusTimeLimit
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeLimit:
		return "time_limit"
	default:
		return "error"
	}
}

// Var is a model variable. Binary variables carry {0,1} bounds.
type Var struct {
	Index  int
	Name   string
	Lower  float64
	Upper  float64
	Binary bool
}

// Expr is a linear expression: sum of coefficient*variable plus a constant.
type Expr struct {
	coefs    map[int]float64
	constant float64
}

// NewExpr returns an empty linear expression.
func NewExpr() *Expr {
	return &Expr{coefs: make(map[int]float64)}
}

// AddTerm accumulates coef*v into the expression.
func (e *Expr) AddTerm(v *Var, coef float64) *Expr {
	e.coefs[v.Index] += coef
	return e
}

// AddConstant accumulates a constant offset.
func (e *Expr) AddConstant(c float64) *Expr {
	e.constant += c
	return e
}

// AddScaled accumulates scale*other into the expression.
func (e *Expr) AddScaled(other *Expr, scale float64) *Expr {
	for idx, coef := range other.coefs {
		e.coefs[idx] += scale * coef
	}
	e.constant += scale * other.constant
	return e
}

// Value evaluates the expression against a solution vector.
func (e *Expr) Value(x []float64) float64 {
	total := e.constant
	for idx, coef := range e.coefs {
		total += coef * x[idx]
	}
	return total
}

// Op is a constraint relation.
type Op int

const (
	LE Op = iota
	GE
	EQ
)

// Constraint is a linear constraint expr (op) rhs. The expression constant is
// folded into the right-hand side at solve time.
type Constraint struct {
	Expr *Expr
	Op   Op
	RHS  float64
	Name string
}

// Model is a MILP instance under construction.
type Model struct {
	Name      string
	vars      []*Var
	cons      []*Constraint
	objective *Expr
	sense     Sense
	names     map[string]int
	dupNames  []string
}

// NewModel creates an empty model.
func NewModel(name string) *Model {
	return &Model{
		Name:  name,
		names: make(map[string]int),
	}
}

func (m *Model) addVar(v *Var) *Var {
	v.Index = len(m.vars)
	if _, exists := m.names[v.Name]; exists {
		m.dupNames = append(m.dupNames, v.Name)
	}
	m.names[v.Name] = v.Index
	m.vars = append(m.vars, v)
	return v
}

// AddBinary adds a {0,1} variable.
func (m *Model) AddBinary(name string) *Var {
	return m.addVar(&Var{Name: name, Lower: 0, Upper: 1, Binary: true})
}

// AddContinuous adds a bounded continuous variable. Use math.Inf for open
// bounds.
func (m *Model) AddContinuous(name string, lower, upper float64) *Var {
	return m.addVar(&Var{Name: name, Lower: lower, Upper: upper})
}

// AddConstraint appends a linear constraint.
func (m *Model) AddConstraint(expr *Expr, op Op, rhs float64, name string) {
	m.cons = append(m.cons, &Constraint{Expr: expr, Op: op, RHS: rhs, Name: name})
}

// FixVar pins a variable to a value by collapsing its bounds.
func (m *Model) FixVar(v *Var, value float64) {
	v.Lower = value
	v.Upper = value
}

// SetObjective installs the objective expression and direction.
func (m *Model) SetObjective(expr *Expr, sense Sense) {
	m.objective = expr
	m.sense = sense
}

// Objective returns the current objective expression, or nil.
func (m *Model) Objective() *Expr { return m.objective }

// ObjectiveSense returns the objective direction.
func (m *Model) ObjectiveSense() Sense { return m.sense }

// Vars returns the model variables in index order.
func (m *Model) Vars() []*Var { return m.vars }

// Constraints returns the model constraints.
func (m *Model) Constraints() []*Constraint { return m.cons }

// NumVars returns the variable count.
func (m *Model) NumVars() int { return len(m.vars) }

// NumConstraints returns the constraint count.
func (m *Model) NumConstraints() int { return len(m.cons) }

// VarNames returns all variable names in index order.
func (m *Model) VarNames() []string {
	names := make([]string, len(m.vars))
	for i, v := range m.vars {
		names[i] = v.Name
	}
	return names
}

// Validate reports structural problems: duplicate variable names, inverted
// bounds, or a missing objective.
func (m *Model) Validate() error {
	if len(m.dupNames) > 0 {
		return fmt.Errorf("duplicate variable names: %v", m.dupNames)
	}
	for _, v := range m.vars {
		if v.Lower > v.Upper {
			return fmt.Errorf("variable %s has inverted bounds [%v, %v]", v.Name, v.Lower, v.Upper)
		}
	}
	if m.objective == nil {
		return fmt.Errorf("model %s has no objective", m.Name)
	}
	return nil
}

// HasUnboundedObjectiveVar reports whether any variable with a nonzero
// objective coefficient is missing the bound that would cap the objective in
// the model's optimization direction. Used as a self-check by objective
// builders.
func (m *Model) HasUnboundedObjectiveVar() bool {
	if m.objective == nil {
		return false
	}
	for idx, coef := range m.objective.coefs {
		if coef == 0 {
			continue
		}
		v := m.vars[idx]
		improving := coef > 0
		if m.sense == Minimize {
			improving = coef < 0
		}
		if improving && math.IsInf(v.Upper, 1) {
			return true
		}
		if !improving && math.IsInf(v.Lower, -1) {
			return true
		}
	}
	return false
}

package generator

import "errors"

var (
	// ErrUnbounded indicates the solver reported an unbounded model. The
	// bounded CVaR formulation must prevent this; seeing it means a missing
	// bound on an auxiliary variable and is fatal.
	ErrUnbounded = errors.New("MILP unbounded: missing bound on auxiliary variable")

	// ErrNoFeasibleLineup indicates no lineup satisfies the roster
	// constraints at all (infeasible on the very first solve).
	ErrNoFeasibleLineup = errors.New("no feasible lineup under the given constraints")

	// ErrSolverTimeout indicates the first lineup solve hit its time limit
	// without producing any incumbent.
	ErrSolverTimeout = errors.New("solver time limit reached with no incumbent")
)

package generator

import (
	"fmt"
	"sort"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/milp"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// DraftKings classic NASCAR contest defaults.
const (
	DefaultRosterSize = 6
	DefaultSalaryCap  = 50000
	DefaultMinStack   = 2
	DefaultMaxStack   = 3
)

// addRosterConstraints emits the DraftKings compliance constraints onto the
// model: roster size, salary cap, semi-continuous team stacking, locks,
// excludes, and veto rules. x is indexed by scenario column; drivers[i]
// describes column i.
func addRosterConstraints(m *milp.Model, x []*milp.Var, drivers []types.DriverRecord, spec *types.ConstraintSpec, req *Request) error {
	if len(x) != len(drivers) {
		return fmt.Errorf("selection variables (%d) do not match drivers (%d)", len(x), len(drivers))
	}

	// Roster size: sum(x) = n_roster.
	roster := milp.NewExpr()
	for _, v := range x {
		roster.AddTerm(v, 1)
	}
	m.AddConstraint(roster, milp.EQ, float64(req.RosterSize), "roster_size")

	// Salary cap.
	salary := milp.NewExpr()
	for i, v := range x {
		salary.AddTerm(v, float64(drivers[i].Salary))
	}
	m.AddConstraint(salary, milp.LE, float64(req.SalaryCap), "salary_cap")

	// Team stacking: count_t in {0} or [min_stack, max_stack], linearized
	// with a binary activity indicator per team.
	byTeam := make(map[string][]int)
	teams := make([]string, 0)
	for i, d := range drivers {
		if _, ok := byTeam[d.Team]; !ok {
			teams = append(teams, d.Team)
		}
		byTeam[d.Team] = append(byTeam[d.Team], i)
	}
	// Stable team order keeps the model, and thus the solve, deterministic.
	sort.Strings(teams)
	for _, team := range teams {
		members := byTeam[team]
		y := m.AddBinary("team_active_" + team)

		teamSum := milp.NewExpr()
		for _, i := range members {
			teamSum.AddTerm(x[i], 1)
		}

		// count_t <= |D_t| * y_t
		upper := milp.NewExpr().AddScaled(teamSum, 1).AddTerm(y, -float64(len(members)))
		m.AddConstraint(upper, milp.LE, 0, "stack_upper_"+team)

		// count_t >= min_stack * y_t (prohibits singleton teams)
		lower := milp.NewExpr().AddScaled(teamSum, 1).AddTerm(y, -float64(req.MinStack))
		m.AddConstraint(lower, milp.GE, 0, "stack_lower_"+team)

		// count_t <= max_stack
		capExpr := milp.NewExpr().AddScaled(teamSum, 1)
		m.AddConstraint(capExpr, milp.LE, float64(req.MaxStack), "stack_cap_"+team)
	}

	if spec == nil {
		return nil
	}

	// Locks, excludes, and vetoes operate on driver ids; map them back to
	// columns.
	colByID := make(map[int]int, len(drivers))
	for i, d := range drivers {
		colByID[d.DriverID] = i
	}
	for _, id := range spec.Locked {
		col, ok := colByID[id]
		if !ok {
			return fmt.Errorf("locked driver %d is not in the slate", id)
		}
		m.FixVar(x[col], 1)
	}
	for _, id := range spec.Excluded {
		if col, ok := colByID[id]; ok {
			m.FixVar(x[col], 0)
		}
	}
	for _, veto := range spec.Vetoes {
		if col, ok := colByID[veto.DriverID]; ok {
			m.FixVar(x[col], 0)
		}
	}

	return nil
}

// addExposureCuts forces out drivers and teams that have reached their
// exposure ceilings before the next solve.
func addExposureCuts(m *milp.Model, x []*milp.Var, drivers []types.DriverRecord, book *ExposureBook, exposure types.ExposureOptions) {
	colByID := make(map[int]int, len(drivers))
	for i, d := range drivers {
		colByID[d.DriverID] = i
	}
	for _, id := range book.OverExposedDrivers(exposure.MaxDriver) {
		if col, ok := colByID[id]; ok {
			m.FixVar(x[col], 0)
		}
	}
	banned := make(map[string]bool)
	for _, team := range book.OverExposedTeams(exposure.MaxTeam) {
		banned[team] = true
	}
	if len(banned) > 0 {
		for i, d := range drivers {
			if banned[d.Team] {
				m.FixVar(x[i], 0)
			}
		}
	}
}

// diversityPenalty builds the soft overlap penalty: for each previously
// emitted lineup L_j, subtract w * sum_{i in L_j} x_i from the objective.
// Summed over lineups this is w * overlapCount_i per driver.
func diversityPenalty(x []*milp.Var, drivers []types.DriverRecord, previous [][]int, weight float64) *milp.Expr {
	penalty := milp.NewExpr()
	if weight <= 0 || len(previous) == 0 {
		return penalty
	}
	colByID := make(map[int]int, len(drivers))
	for i, d := range drivers {
		colByID[d.DriverID] = i
	}
	overlap := make(map[int]int)
	for _, lineup := range previous {
		for _, id := range lineup {
			if col, ok := colByID[id]; ok {
				overlap[col]++
			}
		}
	}
	for col, count := range overlap {
		penalty.AddTerm(x[col], -weight*float64(count))
	}
	return penalty
}

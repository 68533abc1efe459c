package generator

import (
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// ExposureBook tracks per-driver and per-team appearance counts across the
// portfolio being built. It is owned by a single request and mutated
// strictly sequentially between solves.
type ExposureBook struct {
	driverCount map[int]int
	teamCount   map[string]int
	issued      int
}

// NewExposureBook returns an empty book.
func NewExposureBook() *ExposureBook {
	return &ExposureBook{
		driverCount: make(map[int]int),
		teamCount:   make(map[string]int),
	}
}

// Record adds an accepted lineup to the book. Team counts track lineups
// touching the team, not roster slots.
func (b *ExposureBook) Record(driverIDs []int, drivers []types.DriverRecord) {
	teams := make(map[string]bool)
	byID := driverIndex(drivers)
	for _, id := range driverIDs {
		b.driverCount[id]++
		if rec, ok := byID[id]; ok {
			teams[rec.Team] = true
		}
	}
	for team := range teams {
		b.teamCount[team]++
	}
	b.issued++
}

// Issued returns the number of lineups recorded so far.
func (b *ExposureBook) Issued() int { return b.issued }

// DriverCount returns the appearance count of one driver.
func (b *ExposureBook) DriverCount(driverID int) int { return b.driverCount[driverID] }

// DriverFraction returns count/issued, or 0 before any lineup is issued.
func (b *ExposureBook) DriverFraction(driverID int) float64 {
	if b.issued == 0 {
		return 0
	}
	return float64(b.driverCount[driverID]) / float64(b.issued)
}

// TeamFraction returns the fraction of issued lineups touching a team.
func (b *ExposureBook) TeamFraction(team string) float64 {
	if b.issued == 0 {
		return 0
	}
	return float64(b.teamCount[team]) / float64(b.issued)
}

// OverExposedDrivers lists drivers whose fractional exposure has reached the
// cap; they are forced out of the next solve.
func (b *ExposureBook) OverExposedDrivers(maxDriver float64) []int {
	// A cap of 1 (or more) means unrestricted.
	if b.issued == 0 || maxDriver <= 0 || maxDriver >= 1 {
		return nil
	}
	var out []int
	for id, count := range b.driverCount {
		if float64(count)/float64(b.issued) >= maxDriver {
			out = append(out, id)
		}
	}
	return out
}

// OverExposedTeams lists teams whose fractional exposure has reached the cap.
func (b *ExposureBook) OverExposedTeams(maxTeam float64) []string {
	if b.issued == 0 || maxTeam <= 0 {
		return nil
	}
	var out []string
	for team, count := range b.teamCount {
		if float64(count)/float64(b.issued) >= maxTeam {
			out = append(out, team)
		}
	}
	return out
}

// DriverExposureReport returns display-id keyed exposure fractions for the
// response payload.
func (b *ExposureBook) DriverExposureReport(drivers []types.DriverRecord) map[string]float64 {
	report := make(map[string]float64)
	if b.issued == 0 {
		return report
	}
	byID := driverIndex(drivers)
	for id, count := range b.driverCount {
		key := byID[id].DisplayID
		if key == "" {
			key = "unknown"
		}
		report[key] = float64(count) / float64(b.issued)
	}
	return report
}

// TeamExposureReport returns team keyed exposure fractions.
func (b *ExposureBook) TeamExposureReport() map[string]float64 {
	report := make(map[string]float64)
	if b.issued == 0 {
		return report
	}
	for team, count := range b.teamCount {
		report[team] = float64(count) / float64(b.issued)
	}
	return report
}

func driverIndex(drivers []types.DriverRecord) map[int]types.DriverRecord {
	byID := make(map[int]types.DriverRecord, len(drivers))
	for _, d := range drivers {
		byID[d.DriverID] = d
	}
	return byID
}

// Package export renders portfolios in DraftKings upload format.
package export

import (
	"fmt"
	"strings"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/generator"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// unknownName is substituted when a lineup references a driver missing from
// the slate map; the row stays importable and the caller gets a warning.
const unknownName = "Unknown"

// DraftKingsCSV renders one row per lineup: six driver names, comma
// separated, LF line endings, no header row. The upload format keys on name
// position, so the writer never quotes or reorders fields. Returns the CSV
// body and per-row warnings for unresolvable drivers.
func DraftKingsCSV(lineups []generator.Lineup, drivers []types.DriverRecord) (string, []string, error) {
	if len(lineups) == 0 {
		return "", nil, fmt.Errorf("no lineups to export")
	}

	byID := make(map[int]types.DriverRecord, len(drivers))
	for _, d := range drivers {
		byID[d.DriverID] = d
	}

	var (
		sb       strings.Builder
		warnings []string
	)
	for row, lineup := range lineups {
		fields := make([]string, len(lineup.DriverIDs))
		for i, id := range lineup.DriverIDs {
			d, ok := byID[id]
			if !ok || d.Name == "" {
				fields[i] = unknownName
				warnings = append(warnings, fmt.Sprintf("row %d: driver %d has no name, exported as %q", row+1, id, unknownName))
				continue
			}
			// Commas inside a name would shift every following column.
			fields[i] = strings.ReplaceAll(d.Name, ",", " ")
		}
		sb.WriteString(strings.Join(fields, ","))
		sb.WriteByte('\n')
	}
	return sb.String(), warnings, nil
}

// FromResults renders the upload CSV from response lineups, which already
// carry resolved driver names.
func FromResults(lineups []types.LineupResult) (string, []string, error) {
	if len(lineups) == 0 {
		return "", nil, fmt.Errorf("no lineups to export")
	}

	var (
		sb       strings.Builder
		warnings []string
	)
	for row, lineup := range lineups {
		fields := make([]string, len(lineup.Drivers))
		for i, d := range lineup.Drivers {
			if d.Name == "" {
				fields[i] = unknownName
				warnings = append(warnings, fmt.Sprintf("row %d: driver %d has no name, exported as %q", row+1, d.DriverID, unknownName))
				continue
			}
			fields[i] = strings.ReplaceAll(d.Name, ",", " ")
		}
		sb.WriteString(strings.Join(fields, ","))
		sb.WriteByte('\n')
	}
	return sb.String(), warnings, nil
}

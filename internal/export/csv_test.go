package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/generator"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

func exportDrivers() []types.DriverRecord {
	names := []string{
		"Kyle Larson", "Chase Elliott", "Denny Hamlin",
		"Ryan Blaney", "William Byron", "Tyler Reddick",
		"Ross Chastain", "Joey Logano",
	}
	drivers := make([]types.DriverRecord, len(names))
	for i, name := range names {
		drivers[i] = types.DriverRecord{DriverID: i, Name: name}
	}
	return drivers
}

func TestDraftKingsCSVFormat(t *testing.T) {
	lineups := []generator.Lineup{
		{DriverIDs: []int{0, 1, 2, 3, 4, 5}},
		{DriverIDs: []int{2, 3, 4, 5, 6, 7}},
	}

	body, warnings, err := DraftKingsCSV(lineups, exportDrivers())
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// One LF-terminated row per lineup, no header.
	assert.True(t, strings.HasSuffix(body, "\n"))
	rows := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	require.Len(t, rows, 2)
	assert.Equal(t, "Kyle Larson,Chase Elliott,Denny Hamlin,Ryan Blaney,William Byron,Tyler Reddick", rows[0])
	assert.Equal(t, "Denny Hamlin,Ryan Blaney,William Byron,Tyler Reddick,Ross Chastain,Joey Logano", rows[1])
	for _, row := range rows {
		assert.Len(t, strings.Split(row, ","), 6)
	}
	assert.NotContains(t, body, "\r", "DraftKings upload format uses LF line endings")
}

func TestDraftKingsCSVUnknownDriver(t *testing.T) {
	lineups := []generator.Lineup{{DriverIDs: []int{0, 1, 99}}}

	body, warnings, err := DraftKingsCSV(lineups, exportDrivers())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "99")
	assert.Equal(t, "Kyle Larson,Chase Elliott,Unknown\n", body)
}

func TestDraftKingsCSVSanitizesCommas(t *testing.T) {
	drivers := []types.DriverRecord{
		{DriverID: 0, Name: "Earnhardt, Jr."},
		{DriverID: 1, Name: "Chase Elliott"},
	}
	lineups := []generator.Lineup{{DriverIDs: []int{0, 1}}}

	body, warnings, err := DraftKingsCSV(lineups, drivers)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Earnhardt  Jr.,Chase Elliott\n", body)
}

func TestDraftKingsCSVEmptyPortfolio(t *testing.T) {
	_, _, err := DraftKingsCSV(nil, exportDrivers())
	assert.Error(t, err)
}

func TestFromResultsMatchesDraftKingsCSV(t *testing.T) {
	drivers := exportDrivers()
	lineups := []generator.Lineup{{DriverIDs: []int{0, 1, 2, 3, 4, 5}}}

	results := []types.LineupResult{{
		Drivers: []types.LineupDriver{
			{DriverID: 0, Name: "Kyle Larson"},
			{DriverID: 1, Name: "Chase Elliott"},
			{DriverID: 2, Name: "Denny Hamlin"},
			{DriverID: 3, Name: "Ryan Blaney"},
			{DriverID: 4, Name: "William Byron"},
			{DriverID: 5, Name: "Tyler Reddick"},
		},
	}}

	fromLineups, _, err := DraftKingsCSV(lineups, drivers)
	require.NoError(t, err)
	fromResults, warnings, err := FromResults(results)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, fromLineups, fromResults)
}

func TestFromResultsUnknownName(t *testing.T) {
	results := []types.LineupResult{{
		Drivers: []types.LineupDriver{
			{DriverID: 4},
			{DriverID: 5, Name: "Tyler Reddick"},
		},
	}}

	body, warnings, err := FromResults(results)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Unknown,Tyler Reddick\n", body)
}

package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// countingSource wraps a Source and counts Sample invocations.
type countingSource struct {
	mu    sync.Mutex
	calls int
	inner Source
}

func (c *countingSource) Sample(ctx context.Context, nScenarios int, seed int64) (*Matrix, []int, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Sample(ctx, nScenarios, seed)
}

func testDrivers(n int) []types.DriverRecord {
	drivers := make([]types.DriverRecord, n)
	for i := range drivers {
		drivers[i] = types.DriverRecord{
			DriverID:        i,
			Name:            "Driver " + string(rune('A'+i)),
			Team:            "Team" + string(rune('A'+i%3)),
			Salary:          5000 + i*500,
			ProjectedPoints: 30 + float64(i)*2,
			Skill:           0.5,
			RecentForm:      0.5,
		}
	}
	return drivers
}

func TestCacheSingleSampleForRepeatedKey(t *testing.T) {
	src := &countingSource{inner: &GammaSource{Drivers: testDrivers(4)}}
	c := NewCache(1<<30, time.Hour, nil)
	key := Key{SlateID: "slate-1", NScenarios: 50, Seed: 7}

	m1, cols1, err := c.GetOrSample(context.Background(), key, src)
	require.NoError(t, err)
	m2, cols2, err := c.GetOrSample(context.Background(), key, src)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Same(t, m1, m2)
	assert.Equal(t, cols1, cols2)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.SampleCalls)
}

func TestCacheConcurrentMissesSingleFlight(t *testing.T) {
	src := &countingSource{inner: &GammaSource{Drivers: testDrivers(4)}}
	c := NewCache(1<<30, time.Hour, nil)
	key := Key{SlateID: "slate-1", NScenarios: 200, Seed: 11}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrSample(context.Background(), key, src)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, src.calls, "concurrent misses must collapse to one sample call")
}

func TestCacheDistinctKeysSampleSeparately(t *testing.T) {
	src := &countingSource{inner: &GammaSource{Drivers: testDrivers(4)}}
	c := NewCache(1<<30, time.Hour, nil)

	_, _, err := c.GetOrSample(context.Background(), Key{SlateID: "a", NScenarios: 20, Seed: 1}, src)
	require.NoError(t, err)
	_, _, err = c.GetOrSample(context.Background(), Key{SlateID: "a", NScenarios: 20, Seed: 2}, src)
	require.NoError(t, err)
	_, _, err = c.GetOrSample(context.Background(), Key{SlateID: "a", NScenarios: 20, Seed: 1, SpecHash: "rev2"}, src)
	require.NoError(t, err)

	assert.Equal(t, 3, src.calls)
}

func TestCacheEvictsUnderBytesBudget(t *testing.T) {
	drivers := testDrivers(4)
	// Each 100x4 matrix is 3200 bytes; budget fits one.
	c := NewCache(4000, time.Hour, nil)
	src := &GammaSource{Drivers: drivers}

	_, _, err := c.GetOrSample(context.Background(), Key{SlateID: "a", NScenarios: 100, Seed: 1}, src)
	require.NoError(t, err)
	_, _, err = c.GetOrSample(context.Background(), Key{SlateID: "b", NScenarios: 100, Seed: 1}, src)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.LessOrEqual(t, stats.Bytes, int64(4000))
	assert.Equal(t, 1, stats.Entries)
}

func TestGammaSourceDeterministicUnderSeed(t *testing.T) {
	src := &GammaSource{Drivers: testDrivers(5)}

	m1, cols1, err := src.Sample(context.Background(), 100, 42)
	require.NoError(t, err)
	m2, cols2, err := src.Sample(context.Background(), 100, 42)
	require.NoError(t, err)

	assert.Equal(t, cols1, cols2)
	for k := 0; k < m1.Scenarios(); k++ {
		assert.Equal(t, m1.Row(k), m2.Row(k), "row %d", k)
	}

	m3, _, err := src.Sample(context.Background(), 100, 43)
	require.NoError(t, err)
	assert.NotEqual(t, m1.Row(0), m3.Row(0), "different seeds must differ")
}

func TestMatrixLineupSeries(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{1, 2, 3},
		{4, 5, 6},
	})
	require.NoError(t, err)

	series := m.LineupSeries([]int{0, 2})
	assert.Equal(t, []float64{4, 10}, series)

	assert.Equal(t, 1.0, m.MinCell())
	assert.Equal(t, 6.0, m.MaxCell())
	assert.InDelta(t, 2.5, m.ColMeans()[0], 1e-12)
}

func TestMatrixSubsetRows(t *testing.T) {
	m, err := NewMatrix([][]float64{
		{1, 2},
		{3, 4},
		{5, 6},
	})
	require.NoError(t, err)

	sub, err := m.SubsetRows([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Scenarios())
	assert.Equal(t, []float64{5, 6}, sub.Row(0))
	assert.Equal(t, []float64{1, 2}, sub.Row(1))

	_, err = m.SubsetRows([]int{5})
	assert.Error(t, err)
	_, err = m.SubsetRows(nil)
	assert.Error(t, err)
}

package stats

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonize-mri/neuroprep/internal/volume"
)

func series(t *testing.T, g volume.Grid, frames int, data []float64) *volume.TimeSeries {
	t.Helper()
	require.Len(t, data, frames*g.Count())
	ts := volume.NewTimeSeries(g, frames)
	copy(ts.Data, data)
	return ts
}

func fullMask(g volume.Grid) *volume.Mask {
	m := volume.NewMask(g)
	for i := range m.In {
		m.In[i] = true
	}
	return m
}

func TestTSNRHandComputable(t *testing.T) {
	// Shape (2,1,1,3): voxel 0 samples {1,2,3}, voxel 1 samples {10,12,14}.
	g := volume.Grid{NX: 2, NY: 1, NZ: 1}
	ts := series(t, g, 3, []float64{
		1, 10,
		2, 12,
		3, 14,
	})

	res, err := NewEngine(io.Discard).TSNR(ts)
	require.NoError(t, err)

	// Voxel 0: mean 2, std 1, tsnr 2. Voxel 1: mean 12, std 2, tsnr 6.
	assert.InDelta(t, 2.0, res.Map.Data[0], 1e-12)
	assert.InDelta(t, 6.0, res.Map.Data[1], 1e-12)
	assert.True(t, res.Included.In[0])
	assert.True(t, res.Included.In[1])
	assert.InDelta(t, 0.6, res.Threshold, 1e-12) // 0.05 * 12
	assert.Equal(t, g, res.Map.Grid)
}

func TestTSNRExcludesConstantSignal(t *testing.T) {
	// Voxel 0 is constant across time with a mean well above threshold:
	// its ratio is undefined and must be excluded, never infinite.
	g := volume.Grid{NX: 2, NY: 1, NZ: 1}
	ts := series(t, g, 3, []float64{
		50, 10,
		50, 12,
		50, 14,
	})

	res, err := NewEngine(io.Discard).TSNR(ts)
	require.NoError(t, err)

	assert.False(t, res.Included.In[0])
	assert.Equal(t, 0.0, res.Map.Data[0])
	assert.False(t, math.IsInf(res.Map.Data[0], 0))
	assert.True(t, res.Included.In[1])
}

func TestTSNRThresholdExcludesLowSignal(t *testing.T) {
	// Voxel 1's mean (4) is below 5% of the global maximum mean (100):
	// map value exactly zero, voxel excluded.
	g := volume.Grid{NX: 2, NY: 1, NZ: 1}
	ts := series(t, g, 3, []float64{
		99, 3,
		100, 4,
		101, 5,
	})

	res, err := NewEngine(io.Discard).TSNR(ts)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, res.Threshold, 1e-12)
	assert.True(t, res.Included.In[0])
	assert.False(t, res.Included.In[1])
	assert.Equal(t, 0.0, res.Map.Data[1])

	// An excluded voxel contributes to no region mean even when its masks
	// cover it.
	table, err := NewEngine(io.Discard).RegionMeans(res, fullMask(g), []Region{
		{Name: "grey-matter", Mask: fullMask(g)},
	})
	require.NoError(t, err)
	assert.InDelta(t, res.Map.Data[0], table.Value("grey-matter"), 1e-12)
}

func TestTSNRRejectsSingleFrame(t *testing.T) {
	ts := volume.NewTimeSeries(volume.Grid{NX: 1, NY: 1, NZ: 1}, 1)
	_, err := NewEngine(io.Discard).TSNR(ts)
	assert.Error(t, err)
}

func TestRegionMeansIntersection(t *testing.T) {
	g := volume.Grid{NX: 4, NY: 1, NZ: 1}
	res := &TSNRResult{
		Map:      &volume.Volume{Grid: g, Data: []float64{10, 20, 30, 40}},
		Included: fullMask(g),
	}
	res.Included.In[3] = false // below threshold

	gm := fullMask(g)
	gm.In[2] = false // outside grey matter

	region := fullMask(g)

	table, err := NewEngine(io.Discard).RegionMeans(res, gm, []Region{
		{Name: "precentral", Mask: region},
	})
	require.NoError(t, err)

	// Only voxels 0 and 1 are in region ∩ grey matter ∩ included.
	assert.InDelta(t, 15.0, table.Value("precentral"), 1e-12)
}

func TestRegionMeansSkipsUndefinedValues(t *testing.T) {
	g := volume.Grid{NX: 3, NY: 1, NZ: 1}
	res := &TSNRResult{
		Map:      &volume.Volume{Grid: g, Data: []float64{6, math.NaN(), 10}},
		Included: fullMask(g),
	}

	table, err := NewEngine(io.Discard).RegionMeans(res, fullMask(g), []Region{
		{Name: "thalamus", Mask: fullMask(g)},
	})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, table.Value("thalamus"), 1e-12)
}

func TestRegionMeansEmptyRegionIsUndefined(t *testing.T) {
	g := volume.Grid{NX: 2, NY: 1, NZ: 1}
	res := &TSNRResult{
		Map:      &volume.Volume{Grid: g, Data: []float64{1, 2}},
		Included: fullMask(g),
	}

	table, err := NewEngine(io.Discard).RegionMeans(res, fullMask(g), []Region{
		{Name: "cerebellum", Mask: volume.NewMask(g)},
	})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(table.Value("cerebellum")))
}

func TestRegionMeansRejectsGridMismatch(t *testing.T) {
	g := volume.Grid{NX: 2, NY: 1, NZ: 1}
	res := &TSNRResult{
		Map:      volume.NewVolume(g),
		Included: fullMask(g),
	}

	_, err := NewEngine(io.Discard).RegionMeans(res,
		fullMask(volume.Grid{NX: 3, NY: 1, NZ: 1}), nil)
	var mismatch *volume.GridMismatchError
	require.ErrorAs(t, err, &mismatch)
}

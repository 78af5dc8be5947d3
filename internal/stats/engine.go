// Package stats computes temporal signal-to-noise ratio maps and regional
// summaries from 4D time series. This is the one component that performs
// numeric work itself instead of delegating to an external tool.
package stats

import (
	"fmt"
	"io"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/harmonize-mri/neuroprep/internal/volume"
)

// DefaultThresholdFraction is the minimum-signal cutoff: voxels whose
// temporal mean is at or below this fraction of the global maximum mean are
// excluded. Fixed by the deployed protocol.
const DefaultThresholdFraction = 0.05

// Engine computes tSNR maps and region means.
type Engine struct {
	// ThresholdFraction of the global maximum mean signal below which a
	// voxel is excluded.
	ThresholdFraction float64
	logger            *log.Logger
}

func NewEngine(w io.Writer) *Engine {
	return &Engine{
		ThresholdFraction: DefaultThresholdFraction,
		logger:            log.New(w, "", 0),
	}
}

// TSNRResult is a single-volume (non-time-resolved) map plus the inclusion
// mask. Excluded voxels carry a zero map value but are NOT zero-valued
// data: consumers must restrict every average to the Included mask.
type TSNRResult struct {
	Map       *volume.Volume
	Included  *volume.Mask
	Threshold float64
}

// TSNR computes, per voxel, mean and standard deviation over time and
// their ratio wherever the mean clears the signal threshold. Voxels with
// constant signal (zero standard deviation) are excluded rather than
// producing an infinite ratio. The output keeps the input's spatial grid.
func (e *Engine) TSNR(ts *volume.TimeSeries) (*TSNRResult, error) {
	if ts.Frames < 2 {
		return nil, fmt.Errorf("tsnr needs at least 2 frames, have %d", ts.Frames)
	}

	n := ts.Grid.Count()
	means := make([]float64, n)
	stds := make([]float64, n)
	samples := make([]float64, ts.Frames)

	maxMean := math.Inf(-1)
	for i := 0; i < n; i++ {
		ts.Voxel(i, samples)
		means[i] = stat.Mean(samples, nil)
		stds[i] = stat.StdDev(samples, nil)
		if means[i] > maxMean {
			maxMean = means[i]
		}
	}
	threshold := e.ThresholdFraction * maxMean

	out := volume.NewVolume(ts.Grid)
	included := volume.NewMask(ts.Grid)
	excluded := 0
	for i := 0; i < n; i++ {
		if means[i] <= threshold || stds[i] == 0 {
			excluded++
			continue
		}
		out.Data[i] = means[i] / stds[i]
		included.In[i] = true
	}

	e.logger.Printf("tsnr_map voxels=%d included=%d excluded=%d threshold=%.6g",
		n, n-excluded, excluded, threshold)
	return &TSNRResult{Map: out, Included: included, Threshold: threshold}, nil
}

// Region pairs a name with its mask. The grey-matter entry leads the fixed
// region set; see DefaultRegionNames.
type Region struct {
	Name string
	Mask *volume.Mask
}

// DefaultRegionNames is the fixed region set of the deployed protocol:
// grey matter plus five named anatomical regions.
var DefaultRegionNames = []string{
	"grey-matter",
	"precentral",
	"postcentral",
	"hippocampus",
	"thalamus",
	"cerebellum",
}

// RegionMeans computes, per region, the mean tSNR over voxels that are
// simultaneously inside the region mask, inside the grey-matter mask, and
// included by the threshold. Not-a-number map values are excluded from the
// mean and logged, not propagated. A region with no contributing voxels
// yields NaN.
func (e *Engine) RegionMeans(res *TSNRResult, greyMatter *volume.Mask, regions []Region) (SummaryTable, error) {
	if err := greyMatter.CompatibleWith(res.Map.Grid); err != nil {
		return SummaryTable{}, fmt.Errorf("grey-matter mask: %w", err)
	}

	table := SummaryTable{
		Regions: make([]string, len(regions)),
		Values:  make([]float64, len(regions)),
	}
	for r, region := range regions {
		if err := region.Mask.CompatibleWith(res.Map.Grid); err != nil {
			return SummaryTable{}, fmt.Errorf("region %s: %w", region.Name, err)
		}

		var sum float64
		var count, undefined int
		for i, v := range res.Map.Data {
			if !region.Mask.In[i] || !greyMatter.In[i] || !res.Included.In[i] {
				continue
			}
			if math.IsNaN(v) {
				undefined++
				continue
			}
			sum += v
			count++
		}
		if undefined > 0 {
			e.logger.Printf("region_undefined region=%s voxels=%d", region.Name, undefined)
		}

		table.Regions[r] = region.Name
		if count == 0 {
			table.Values[r] = math.NaN()
		} else {
			table.Values[r] = sum / float64(count)
		}
	}
	return table, nil
}

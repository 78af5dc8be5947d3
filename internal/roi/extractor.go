// Package roi aggregates a skeletonised statistical map over a labeled
// atlas: one mean per labeled region, restricted to the skeleton.
package roi

import (
	"fmt"
	"io"
	"log"
	"math"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/stats"
	"github.com/harmonize-mri/neuroprep/internal/volume"
)

// DefaultRegionCount is the label count of the deployed atlas. Region i
// always maps to label value i; label 0 is background.
const DefaultRegionCount = 48

// Extractor computes per-region skeleton-restricted means.
type Extractor struct {
	RegionCount int
	logger      *log.Logger
}

func NewExtractor(w io.Writer) *Extractor {
	return &Extractor{
		RegionCount: DefaultRegionCount,
		logger:      log.New(w, "", 0),
	}
}

// RegionName names label i in the output tables.
func RegionName(label int) string {
	return fmt.Sprintf("region-%02d", label)
}

// Extract computes, for each label 1..RegionCount, the mean of the
// statistical map over voxels carrying that label and lying on the
// skeleton. Undefined map values are excluded from the mean and logged.
// The result is deterministic: identical inputs always yield an identical
// table.
func (e *Extractor) Extract(atlas *volume.Labels, statMap *volume.Volume, skeleton *volume.Mask) (stats.SummaryTable, error) {
	if err := atlas.CompatibleWith(statMap.Grid); err != nil {
		return stats.SummaryTable{}, fmt.Errorf("atlas: %w", err)
	}
	if err := skeleton.CompatibleWith(statMap.Grid); err != nil {
		return stats.SummaryTable{}, fmt.Errorf("skeleton: %w", err)
	}

	table := stats.SummaryTable{
		Regions: make([]string, e.RegionCount),
		Values:  make([]float64, e.RegionCount),
	}
	for label := 1; label <= e.RegionCount; label++ {
		var sum float64
		var count, undefined int
		for i, v := range statMap.Data {
			if atlas.Data[i] != label || !skeleton.In[i] {
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
			e.logger.Printf("region_undefined region=%s voxels=%d", RegionName(label), undefined)
		}

		table.Regions[label-1] = RegionName(label)
		if count == 0 {
			table.Values[label-1] = math.NaN()
		} else {
			table.Values[label-1] = sum / float64(count)
		}
	}
	return table, nil
}

// Collate renders one row per subject across the full region set: a wide
// table keyed by region identifier.
func Collate(subjects []string, tables []stats.SummaryTable) (string, error) {
	if len(subjects) != len(tables) {
		return "", fmt.Errorf("collate: %d subjects, %d tables", len(subjects), len(tables))
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("collate: no tables")
	}

	regions := tables[0].Regions
	var b strings.Builder
	b.WriteString("subject")
	for _, region := range regions {
		b.WriteString("\t" + region)
	}
	b.WriteString("\n")

	for s, table := range tables {
		if len(table.Regions) != len(regions) {
			return "", fmt.Errorf("collate: subject %s region set differs", subjects[s])
		}
		b.WriteString(subjects[s])
		for _, v := range table.Values {
			if math.IsNaN(v) {
				b.WriteString("\tn/a")
			} else {
				fmt.Fprintf(&b, "\t%.4f", v)
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

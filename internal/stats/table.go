package stats

import (
	"fmt"
	"math"
	"strings"
)

// SummaryTable is an ordered mapping from region name to a scalar
// statistic. Built once per run, never mutated after.
type SummaryTable struct {
	Regions []string
	Values  []float64
}

// Value returns the statistic for a region name, NaN if absent.
func (t SummaryTable) Value(region string) float64 {
	for i, name := range t.Regions {
		if name == region {
			return t.Values[i]
		}
	}
	return math.NaN()
}

// Average reduces per-run tables to the arithmetic mean of each region's
// per-run means, ignoring undefined entries. All tables must share one
// region order. The run count is small and fixed; this is a plain
// reduction, not a streaming computation.
func Average(runs []SummaryTable) (SummaryTable, error) {
	if len(runs) == 0 {
		return SummaryTable{}, fmt.Errorf("no run tables to average")
	}
	first := runs[0]
	for _, run := range runs[1:] {
		if len(run.Regions) != len(first.Regions) {
			return SummaryTable{}, fmt.Errorf("run tables disagree on region set")
		}
		for i, name := range run.Regions {
			if name != first.Regions[i] {
				return SummaryTable{}, fmt.Errorf("run tables disagree on region order at %d: %s vs %s",
					i, name, first.Regions[i])
			}
		}
	}

	avg := SummaryTable{
		Regions: append([]string(nil), first.Regions...),
		Values:  make([]float64, len(first.Regions)),
	}
	for i := range avg.Regions {
		var sum float64
		var count int
		for _, run := range runs {
			if math.IsNaN(run.Values[i]) {
				continue
			}
			sum += run.Values[i]
			count++
		}
		if count == 0 {
			avg.Values[i] = math.NaN()
		} else {
			avg.Values[i] = sum / float64(count)
		}
	}
	return avg, nil
}

// RenderWide renders the per-session table: one region-name column, one
// value column per run, and the across-run average column. Undefined
// entries render as "n/a".
func RenderWide(runs []SummaryTable, avg SummaryTable) string {
	var b strings.Builder
	b.WriteString("region")
	for i := range runs {
		fmt.Fprintf(&b, "\trun-%d", i+1)
	}
	b.WriteString("\tmean\n")

	for i, region := range avg.Regions {
		b.WriteString(region)
		for _, run := range runs {
			b.WriteString("\t" + formatCell(run.Values[i]))
		}
		b.WriteString("\t" + formatCell(avg.Values[i]) + "\n")
	}
	return b.String()
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

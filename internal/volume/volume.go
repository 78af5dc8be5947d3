// Package volume holds the in-memory model for volumetric data: single
// 3D fields, 4D time series, and boolean masks over a shared voxel grid.
// Image-format parsing stays outside; the pipelines convert to and from
// the flat on-disk form via the functions in io.go.
package volume

import "fmt"

// Grid is the spatial extent of a volume. Two fields are combinable only
// when their grids are identical.
type Grid struct {
	NX int `yaml:"nx"`
	NY int `yaml:"ny"`
	NZ int `yaml:"nz"`
}

func (g Grid) Count() int { return g.NX * g.NY * g.NZ }

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d", g.NX, g.NY, g.NZ)
}

// GridMismatchError reports an attempt to combine fields defined over
// different voxel grids.
type GridMismatchError struct {
	Have Grid
	Want Grid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("voxel grid mismatch: %s vs %s", e.Have, e.Want)
}

func checkGrid(have, want Grid) error {
	if have != want {
		return &GridMismatchError{Have: have, Want: want}
	}
	return nil
}

// Volume is a single scalar field, one value per voxel, flat in x-fastest
// order.
type Volume struct {
	Grid Grid
	Data []float64
}

func NewVolume(g Grid) *Volume {
	return &Volume{Grid: g, Data: make([]float64, g.Count())}
}

// TimeSeries is a 4D sampled signal: Frames volumes over one grid, stored
// frame-major so frame t occupies Data[t*Grid.Count() : (t+1)*Grid.Count()].
type TimeSeries struct {
	Grid   Grid
	Frames int
	Data   []float64
}

func NewTimeSeries(g Grid, frames int) *TimeSeries {
	return &TimeSeries{Grid: g, Frames: frames, Data: make([]float64, frames*g.Count())}
}

// Voxel copies the temporal samples of voxel i into dst, which must have
// length Frames.
func (ts *TimeSeries) Voxel(i int, dst []float64) {
	n := ts.Grid.Count()
	for t := 0; t < ts.Frames; t++ {
		dst[t] = ts.Data[t*n+i]
	}
}

// Mask is a boolean spatial field aligned to a reference grid.
type Mask struct {
	Grid Grid
	In   []bool
}

func NewMask(g Grid) *Mask {
	return &Mask{Grid: g, In: make([]bool, g.Count())}
}

// CompatibleWith reports a grid mismatch between the mask and another grid.
func (m *Mask) CompatibleWith(g Grid) error {
	return checkGrid(m.Grid, g)
}

// Labels is an integer-labeled atlas field; label 0 is background.
type Labels struct {
	Grid Grid
	Data []int
}

func (l *Labels) CompatibleWith(g Grid) error {
	return checkGrid(l.Grid, g)
}

// RegionMask builds the binary mask selecting voxels whose label equals
// the given value.
func (l *Labels) RegionMask(label int) *Mask {
	m := NewMask(l.Grid)
	for i, v := range l.Data {
		m.In[i] = v == label
	}
	return m
}

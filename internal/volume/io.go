package volume

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/atomicio"
)

// On-disk form: a flat little-endian float32 file (.f32) with a YAML
// sidecar (.yaml) carrying the grid and frame count. The conversion from
// the scanner image format to this form is an external concern.

type sidecar struct {
	Grid   Grid `yaml:"grid"`
	Frames int  `yaml:"frames"`
}

func sidecarPath(path string) string {
	return strings.TrimSuffix(path, ".f32") + ".yaml"
}

// ReadTimeSeries loads a 4D series from path and its sidecar.
func ReadTimeSeries(path string) (*TimeSeries, error) {
	var sc sidecar
	if err := atomicio.ReadYAML(sidecarPath(path), &sc); err != nil {
		return nil, fmt.Errorf("read series sidecar: %w", err)
	}
	if sc.Frames < 1 {
		return nil, fmt.Errorf("series %s: frame count %d", path, sc.Frames)
	}
	data, err := readFloats(path, sc.Frames*sc.Grid.Count())
	if err != nil {
		return nil, err
	}
	return &TimeSeries{Grid: sc.Grid, Frames: sc.Frames, Data: data}, nil
}

// ReadVolume loads a single 3D field; the sidecar must declare one frame.
func ReadVolume(path string) (*Volume, error) {
	var sc sidecar
	if err := atomicio.ReadYAML(sidecarPath(path), &sc); err != nil {
		return nil, fmt.Errorf("read volume sidecar: %w", err)
	}
	if sc.Frames != 0 && sc.Frames != 1 {
		return nil, fmt.Errorf("volume %s: time-resolved data (%d frames)", path, sc.Frames)
	}
	data, err := readFloats(path, sc.Grid.Count())
	if err != nil {
		return nil, err
	}
	return &Volume{Grid: sc.Grid, Data: data}, nil
}

// ReadMask loads a 3D field and thresholds it at zero: any nonzero voxel
// is inside the mask.
func ReadMask(path string) (*Mask, error) {
	v, err := ReadVolume(path)
	if err != nil {
		return nil, err
	}
	m := NewMask(v.Grid)
	for i, x := range v.Data {
		m.In[i] = x != 0
	}
	return m, nil
}

// ReadLabels loads an atlas field, rounding each voxel to its integer
// label.
func ReadLabels(path string) (*Labels, error) {
	v, err := ReadVolume(path)
	if err != nil {
		return nil, err
	}
	l := &Labels{Grid: v.Grid, Data: make([]int, len(v.Data))}
	for i, x := range v.Data {
		l.Data[i] = int(math.Round(x))
	}
	return l, nil
}

// WriteVolume writes a single-frame field and its sidecar. The sidecar
// declares one frame so consumers can tell the output is not time-resolved.
func WriteVolume(path string, v *Volume) error {
	if err := atomicio.WriteYAML(sidecarPath(path), sidecar{Grid: v.Grid, Frames: 1}); err != nil {
		return fmt.Errorf("write volume sidecar: %w", err)
	}
	return writeFloats(path, v.Data)
}

// WriteTimeSeries writes a 4D series and its sidecar.
func WriteTimeSeries(path string, ts *TimeSeries) error {
	if err := atomicio.WriteYAML(sidecarPath(path), sidecar{Grid: ts.Grid, Frames: ts.Frames}); err != nil {
		return fmt.Errorf("write series sidecar: %w", err)
	}
	return writeFloats(path, ts.Data)
}

func readFloats(path string, want int) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read volume data: %w", err)
	}
	if len(raw) != want*4 {
		return nil, fmt.Errorf("volume %s: %d bytes, want %d", path, len(raw), want*4)
	}
	data := make([]float64, want)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		data[i] = float64(math.Float32frombits(bits))
	}
	return data, nil
}

func writeFloats(path string, data []float64) error {
	raw := make([]byte, len(data)*4)
	for i, x := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(x)))
	}
	return atomicio.WriteRaw(path, raw)
}

// Package acquisition holds the per-scanner-type acquisition parameter
// tables. The values are physical constants fixed by scanner calibration;
// they are looked up, never computed.
package acquisition

import (
	"fmt"

	"github.com/harmonize-mri/neuroprep/internal/model"
)

// Direction is a phase-encoding direction vector as written into the
// distortion-estimation parameter file.
type Direction [3]int

// ParameterSet is the resolved calibration entry for one
// (scanner code, modality) pair.
type ParameterSet struct {
	Code     string
	Modality model.Modality

	// Forward/Reverse describe the phase-encode direction pair. Forward is
	// the direction of the first volume in the merged reference pair and of
	// the first parameter-file row; keeping merge order and row order in
	// lockstep is what makes the estimated field's sign convention match
	// the acquisition. Philips sessions run AP-then-PA, the others
	// PA-then-AP. This is externally imposed and must not be normalized.
	Forward Direction
	Reverse Direction

	// ReadoutTime is the effective readout time in seconds. ASL and DTI use
	// different readout times even for the same scanner.
	ReadoutTime float64

	// FieldmapDir names the fieldmap acquisition ("AP" or "PA") read as the
	// forward reference. Philips sessions read an AP fieldmap; codes A and
	// B both read a PA fieldmap without further distinction.
	FieldmapDir string
}

var ap = Direction{0, 1, 0}
var pa = Direction{0, -1, 0}

type tableKey struct {
	code     string
	modality model.Modality
}

// calibration is the closed table of recognized scanner types. DTI
// recognizes N/A/B; ASL recognizes only N and B. T1 needs no distortion
// correction and therefore has no entries.
var calibration = map[tableKey]ParameterSet{
	{"N", model.ModalityDTI}: {
		Code: "N", Modality: model.ModalityDTI,
		Forward: ap, Reverse: pa,
		ReadoutTime: 0.0742,
		FieldmapDir: "AP",
	},
	{"A", model.ModalityDTI}: {
		Code: "A", Modality: model.ModalityDTI,
		Forward: pa, Reverse: ap,
		ReadoutTime: 0.0469,
		FieldmapDir: "PA",
	},
	{"B", model.ModalityDTI}: {
		Code: "B", Modality: model.ModalityDTI,
		Forward: pa, Reverse: ap,
		ReadoutTime: 0.0572,
		FieldmapDir: "PA",
	},
	{"N", model.ModalityASL}: {
		Code: "N", Modality: model.ModalityASL,
		Forward: ap, Reverse: pa,
		ReadoutTime: 0.0352,
		FieldmapDir: "AP",
	},
	{"B", model.ModalityASL}: {
		Code: "B", Modality: model.ModalityASL,
		Forward: pa, Reverse: ap,
		ReadoutTime: 0.0480,
		FieldmapDir: "PA",
	},
}

// Resolve returns the calibration entry for (code, modality), or an
// UnknownScannerTypeError if the pair is not in the recognized set. It has
// no side effects and must be consulted before any distortion-correction
// stage is constructed.
func Resolve(code string, modality model.Modality) (ParameterSet, error) {
	ps, ok := calibration[tableKey{code, modality}]
	if !ok {
		return ParameterSet{}, &model.UnknownScannerTypeError{Code: code, Modality: modality}
	}
	return ps, nil
}

// ParamFileRows renders the two-row direction/readout-time table consumed by
// distortion-field estimation. Row order follows the merged reference order:
// forward row first.
func (ps ParameterSet) ParamFileRows() string {
	return fmt.Sprintf("%d %d %d %.4f\n%d %d %d %.4f\n",
		ps.Forward[0], ps.Forward[1], ps.Forward[2], ps.ReadoutTime,
		ps.Reverse[0], ps.Reverse[1], ps.Reverse[2], ps.ReadoutTime)
}

package pipeline

import "github.com/harmonize-mri/neuroprep/internal/model"

// recognized maps each modality's closed scanner-code set to its pipeline
// variant. The sets differ by modality — DTI recognizes N/A/B while ASL
// recognizes only N and B — because the acquisition protocols differ, so
// the asymmetry is preserved rather than unified.
var recognized = map[model.Modality]map[string]model.Variant{
	model.ModalityT1: {
		"N": model.VariantT1,
		"A": model.VariantT1,
		"B": model.VariantT1,
	},
	model.ModalityASL: {
		"N": model.VariantASLPhilips,
		"B": model.VariantASLSiemens,
	},
	model.ModalityDTI: {
		"N": model.VariantDTIPhilips,
		"A": model.VariantDTISiemensA,
		"B": model.VariantDTISiemensB,
	},
}

// Route derives the scanner-type code from the trailing character of the
// session identifier and selects the pipeline variant to build. It is called
// exactly once per invocation, before any stage list exists.
func Route(sess model.Session, m model.Modality) (model.Variant, error) {
	code := sess.ScannerCode()
	v, ok := recognized[m][code]
	if !ok {
		return "", &model.UnrecognizedScannerCodeError{Code: code, Modality: m}
	}
	return v, nil
}

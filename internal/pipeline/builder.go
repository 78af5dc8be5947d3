package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harmonize-mri/neuroprep/internal/acquisition"
	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/store"
	"github.com/harmonize-mri/neuroprep/internal/tool"
)

// Env carries the two abstractions every variant shares: where raw BIDS
// input is read and where derivatives are written.
type Env struct {
	Layout store.Layout
	Store  *store.Store
}

// Build routes the session, resolves acquisition parameters where the
// modality needs them, and constructs the variant's full stage list. After
// this point the run is a statically known sequence.
func Build(sess model.Session, m model.Modality, env Env) (*Pipeline, error) {
	variant, err := Route(sess, m)
	if err != nil {
		return nil, err
	}

	switch variant {
	case model.VariantT1:
		return buildT1(sess, env), nil
	case model.VariantASLPhilips, model.VariantASLSiemens:
		ps, err := acquisition.Resolve(sess.ScannerCode(), model.ModalityASL)
		if err != nil {
			return nil, err
		}
		if variant == model.VariantASLPhilips {
			return buildASLPhilips(sess, ps, env), nil
		}
		return buildASLSiemens(sess, ps, env), nil
	case model.VariantDTIPhilips, model.VariantDTISiemensA, model.VariantDTISiemensB:
		ps, err := acquisition.Resolve(sess.ScannerCode(), model.ModalityDTI)
		if err != nil {
			return nil, err
		}
		return buildDTI(variant, sess, ps, env), nil
	default:
		return nil, fmt.Errorf("no builder for variant %s", variant)
	}
}

// bidsName composes a raw file name from the subject/session prefix and a
// BIDS suffix, e.g. sub-001_ses-01N_dwi.nii.gz.
func bidsName(sess model.Session, suffix string) string {
	return fmt.Sprintf("%s_%s_%s", sess.SubjectID, sess.SessionID, suffix)
}

func external(id string, inputs, outputs []string, toolName string, args ...string) Stage {
	return Stage{
		ID:      id,
		Inputs:  inputs,
		Outputs: outputs,
		Invoke:  &tool.Invocation{Tool: toolName, Args: args},
	}
}

// writeParamsStage builds the two-row phase-encoding/readout-time parameter
// file consumed by distortion-field estimation.
func writeParamsStage(env Env, ps acquisition.ParameterSet, dest string) Stage {
	return Stage{
		ID:      "write-acqparams",
		Outputs: []string{dest},
		Internal: func(context.Context) error {
			return env.Store.Write(dest, []byte(ps.ParamFileRows()))
		},
	}
}

// copyStage copies a terminal map into the cross-subject aggregation area.
func copyStage(env Env, id, src, dst string) Stage {
	return Stage{
		ID:      id,
		Inputs:  []string{src},
		Outputs: []string{dst},
		Internal: func(context.Context) error {
			return env.Store.CopyFile(src, dst)
		},
	}
}

// fieldmapFile resolves the fieldmap acquisition named by the calibration
// entry (dir-AP or dir-PA).
func fieldmapFile(sess model.Session, env Env, dir string) string {
	return filepath.Join(env.Layout.FmapDir(sess),
		bidsName(sess, fmt.Sprintf("dir-%s_epi.nii.gz", dir)))
}

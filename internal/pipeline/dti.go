package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/acquisition"
	"github.com/harmonize-mri/neuroprep/internal/model"
)

// buildDTI constructs the diffusion pipeline for any recognized scanner
// code. The three codes share one stage shape; they differ only in the
// calibration entry: readout time, direction pair order, and which fieldmap
// acquisition supplies the forward reference (AP for Philips, PA for A and
// B — codes A and B are deliberately not distinguished further, matching
// the deployed acquisition convention).
func buildDTI(variant model.Variant, sess model.Session, ps acquisition.ParameterSet, env Env) *Pipeline {
	dwiDir := env.Layout.DwiDir(sess)
	art := func(name string) string { return env.Store.Path("dti", sess, name) }

	rawDWI := filepath.Join(dwiDir, bidsName(sess, "dwi.nii.gz"))
	rawBvec := filepath.Join(dwiDir, bidsName(sess, "dwi.bvec"))
	rawBval := filepath.Join(dwiDir, bidsName(sess, "dwi.bval"))
	fmap := fieldmapFile(sess, env, ps.FieldmapDir)

	acqparams := art("acqparams.txt")
	b0 := art("b0.nii.gz")
	b0Pair := art("b0_pair.nii.gz")
	b0PairStd := art("b0_pair_std.nii.gz")
	dwiStd := art("dwi_std.nii.gz")
	topupBase := art("topup_dti")
	fieldcoef := topupBase + "_fieldcoef.nii.gz"
	b0PairDC := art("b0_pair_dc.nii.gz")
	dwiDC := art("dwi_dc.nii.gz")
	nodif := art("nodif.nii.gz")
	maskBase := art("nodif_brain")
	brainMask := art("nodif_brain_mask.nii.gz")
	index := art("index.txt")
	eddyBase := art("eddy_corrected")
	eddyOut := eddyBase + ".nii.gz"
	rotatedBvecs := eddyBase + ".eddy_rotated_bvecs"
	qcDir := env.Store.Path("dti", sess, "qc")
	qcReport := filepath.Join(qcDir, "qc.json")
	dtiBase := art("dti")
	faMap := art("dti_FA.nii.gz")
	mdMap := art("dti_MD.nii.gz")

	aggFA := env.Store.AggregatePath("dti", sess, "FA.nii.gz")
	aggMD := env.Store.AggregatePath("dti", sess, "MD.nii.gz")

	// The fieldmap supplies the forward reference, so it merges first; the
	// extracted low-b volume follows. Row order in acqparams matches.
	mergeOrder := []string{fmap, b0}

	// eddy_quad aborts when its -o directory already exists; the engine
	// clears a stale one instead of pre-creating it.
	qc := external("qc-report",
		[]string{eddyOut, index, acqparams, brainMask, rawBval},
		[]string{qcReport},
		"eddy_quad", eddyBase, "-idx", index, "-par", acqparams,
		"-m", brainMask, "-b", rawBval, "-o", qcDir)
	qc.OwnedDirs = []string{qcDir}

	stages := []Stage{
		writeParamsStage(env, ps, acqparams),
		// Representative low-diffusion-weighting reference volume.
		external("extract-ref",
			[]string{rawDWI}, []string{b0},
			"fslroi", rawDWI, b0, "0", "1"),
		external("merge-refs",
			mergeOrder, []string{b0Pair},
			"fslmerge", append([]string{"-t", b0Pair}, mergeOrder...)...),
		external("reorient-refs",
			[]string{b0Pair}, []string{b0PairStd},
			"fslreorient2std", b0Pair, b0PairStd),
		external("reorient-dwi",
			[]string{rawDWI}, []string{dwiStd},
			"fslreorient2std", rawDWI, dwiStd),
		external("estimate-field",
			[]string{b0PairStd, acqparams}, []string{fieldcoef, b0PairDC},
			"topup", "--imain="+b0PairStd, "--datain="+acqparams,
			"--config=b02b0.cnf", "--out="+topupBase, "--iout="+b0PairDC),
		external("correct-dwi",
			[]string{dwiStd, fieldcoef, acqparams}, []string{dwiDC},
			"applytopup", "--imain="+dwiStd, "--datain="+acqparams,
			"--inindex=1", "--topup="+topupBase, "--method=jac", "--out="+dwiDC),
		external("mean-ref",
			[]string{b0PairDC}, []string{nodif},
			"fslmaths", b0PairDC, "-Tmean", nodif),
		external("brain-mask",
			[]string{nodif}, []string{brainMask},
			"bet", nodif, maskBase, "-m", "-f", "0.2"),
		writeIndexStage(env, rawBval, index),
		external("eddy-correct",
			[]string{dwiDC, brainMask, acqparams, index, rawBvec, rawBval, fieldcoef},
			[]string{eddyOut, rotatedBvecs},
			"eddy", "--imain="+dwiDC, "--mask="+brainMask, "--acqp="+acqparams,
			"--index="+index, "--bvecs="+rawBvec, "--bvals="+rawBval,
			"--topup="+topupBase, "--out="+eddyBase),
		qc,
		external("fit-tensor",
			[]string{eddyOut, brainMask, rotatedBvecs, rawBval},
			[]string{faMap, mdMap},
			"dtifit", "-k", eddyOut, "-m", brainMask, "-r", rotatedBvecs,
			"-b", rawBval, "-o", dtiBase),
		copyStage(env, "aggregate-fa", faMap, aggFA),
		copyStage(env, "aggregate-md", mdMap, aggMD),
	}

	return &Pipeline{
		Variant:  variant,
		Session:  sess,
		Modality: model.ModalityDTI,
		Params:   ps,
		Stages:   stages,
	}
}

// writeIndexStage builds the per-volume grouping index required by the
// motion/eddy-current correction: one group entry per diffusion-weighted
// volume, with the volume count read from the gradient-strength table.
func writeIndexStage(env Env, bvalPath, dest string) Stage {
	return Stage{
		ID:      "write-index",
		Inputs:  []string{bvalPath},
		Outputs: []string{dest},
		Internal: func(context.Context) error {
			n, err := countBvalEntries(bvalPath)
			if err != nil {
				return err
			}
			entries := make([]string, n)
			for i := range entries {
				entries[i] = "1"
			}
			return env.Store.Write(dest, []byte(strings.Join(entries, " ")+"\n"))
		},
	}
}

// countBvalEntries counts whitespace-separated values in the
// gradient-strength table; one value per acquired volume.
func countBvalEntries(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read gradient-strength table: %w", err)
	}
	n := len(strings.Fields(string(data)))
	if n == 0 {
		return 0, fmt.Errorf("gradient-strength table %s is empty", path)
	}
	return n, nil
}

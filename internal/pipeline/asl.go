package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/harmonize-mri/neuroprep/internal/acquisition"
	"github.com/harmonize-mri/neuroprep/internal/model"
)

// Multi-delay ASL protocol constants shared by both scanner branches. Five
// post-labeling delays with label/control repeat counts 12/12/12/20/30,
// 86 frames in total. These encode the acquisition protocol, not tunables.
const (
	aslDelayCount  = 5
	aslRepeats     = "12,12,12,20,30"
	aslTotalFrames = 86
	aslPLDs        = "0.5,1.0,1.5,2.0,2.5"
)

// Perfusion-model constants common to both branches.
const (
	aslBolusSec     = "1.4"
	aslSliceTimeSec = "0.018"
	aslTissueT1Sec  = "1.3"
	aslBloodT1Sec   = "1.65"
	aslLabelEff     = "0.85"
	aslBloodT2Sec   = "0.15"
	aslPhilipsTEms  = "14"
	aslPhilipsTRSec = "10"
	aslSiemensTEms  = "19"
	aslSiemensTRSec = "3.58"
)

// oxfordASLArgs assembles the perfusion-fit parameter template. Only the
// echo and repetition times differ between branches; every other constant is
// fixed scanner calibration.
func oxfordASLArgs(diff, outDir, calib, gmPVE, te, tr string) []string {
	return []string{
		"-i", diff,
		"-o", outDir,
		"-c", calib,
		"--iaf=diff",
		"--plds=" + aslPLDs,
		"--bolus=" + aslBolusSec,
		"--slicedt=" + aslSliceTimeSec,
		"--t1=" + aslTissueT1Sec,
		"--t1b=" + aslBloodT1Sec,
		"--alpha=" + aslLabelEff,
		"--te=" + te,
		"--t2b=" + aslBloodT2Sec,
		"--tr=" + tr,
		"--spatial",
		"--pvcorr",
		"--pvgm=" + gmPVE,
	}
}

// tissueSegmentStage produces the grey-matter partial-volume map the
// perfusion fit consumes. It reads the reoriented anatomical derivative, so
// the T1 pipeline must have run for this session first.
func tissueSegmentStage(sess model.Session, env Env) (Stage, string) {
	stdT1 := env.Store.Path("t1", sess, "T1w_std.nii.gz")
	segBase := env.Store.Path("asl", sess, "t1seg")
	gmPVE := segBase + "_pve_1.nii.gz"
	return external("tissue-segment",
		[]string{stdT1},
		[]string{gmPVE},
		"fast", "-o", segBase, stdT1), gmPVE
}

// buildASLPhilips constructs the Philips (code N) ASL branch: the five delay
// acquisitions arrive as separate series alongside a forward/reverse
// calibration pair.
func buildASLPhilips(sess model.Session, ps acquisition.ParameterSet, env Env) *Pipeline {
	perf := env.Layout.PerfDir(sess)
	art := func(name string) string { return env.Store.Path("asl", sess, name) }

	m0Fwd := filepath.Join(perf, bidsName(sess, "dir-AP_m0scan.nii.gz"))
	m0Rev := filepath.Join(perf, bidsName(sess, "dir-PA_m0scan.nii.gz"))

	delays := make([]string, aslDelayCount)
	for i := range delays {
		delays[i] = filepath.Join(perf, bidsName(sess, fmt.Sprintf("delay-%d_asl.nii.gz", i+1)))
	}

	acqparams := art("acqparams.txt")
	m0FwdMean := art("m0_fwd_mean.nii.gz")
	m0RevMean := art("m0_rev_mean.nii.gz")
	allDelay := art("asl_alldelay.nii.gz")
	m0Pair := art("m0_pair.nii.gz")
	topupBase := art("topup_asl")
	fieldcoef := topupBase + "_fieldcoef.nii.gz"
	allDelayDC := art("asl_alldelay_dc.nii.gz")
	m0PairDC := art("m0_pair_dc.nii.gz")
	diff := art("asl_diff.nii.gz")
	oxDir := env.Store.Path("asl", sess, "oxasl")
	perfusion := filepath.Join(oxDir, "native_space", "perfusion.nii.gz")

	segment, gmPVE := tissueSegmentStage(sess, env)

	stages := []Stage{
		writeParamsStage(env, ps, acqparams),
		external("mean-calib-fwd",
			[]string{m0Fwd}, []string{m0FwdMean},
			"fslmaths", m0Fwd, "-Tmean", m0FwdMean),
		external("mean-calib-rev",
			[]string{m0Rev}, []string{m0RevMean},
			"fslmaths", m0Rev, "-Tmean", m0RevMean),
		// Delay volumes merge in ascending delay order.
		external("merge-delays",
			delays, []string{allDelay},
			"fslmerge", append([]string{"-t", allDelay}, delays...)...),
		// Forward mean first: AP-then-PA for Philips.
		external("merge-calib",
			[]string{m0FwdMean, m0RevMean}, []string{m0Pair},
			"fslmerge", "-t", m0Pair, m0FwdMean, m0RevMean),
		external("estimate-field",
			[]string{m0Pair, acqparams}, []string{fieldcoef},
			"topup", "--imain="+m0Pair, "--datain="+acqparams,
			"--config=b02b0.cnf", "--out="+topupBase),
		external("correct-asl",
			[]string{allDelay, fieldcoef, acqparams}, []string{allDelayDC},
			"applytopup", "--imain="+allDelay, "--datain="+acqparams,
			"--inindex=1", "--topup="+topupBase, "--method=jac", "--out="+allDelayDC),
		external("correct-calib",
			[]string{m0Pair, fieldcoef, acqparams}, []string{m0PairDC},
			"applytopup", "--imain="+m0Pair, "--datain="+acqparams,
			"--inindex=1", "--topup="+topupBase, "--method=jac", "--out="+m0PairDC),
		segment,
		external("difference",
			[]string{allDelayDC}, []string{diff},
			"asl_file", "--data="+allDelayDC, "--ntis=5", "--ibf=rpt", "--iaf=tc",
			"--rpts="+aslRepeats, "--diff", "--out="+diff),
		external("fit-perfusion",
			[]string{diff, m0PairDC, gmPVE}, []string{perfusion},
			"oxford_asl", oxfordASLArgs(diff, oxDir, m0PairDC, gmPVE,
				aslPhilipsTEms, aslPhilipsTRSec)...),
	}

	return &Pipeline{
		Variant:  model.VariantASLPhilips,
		Session:  sess,
		Modality: model.ModalityASL,
		Params:   ps,
		Stages:   stages,
	}
}

// buildASLSiemens constructs the Siemens (code B) ASL branch: one combined
// series carrying 86 label/control frames followed by 2 calibration frames,
// with a separate forward/reverse fieldmap pair.
func buildASLSiemens(sess model.Session, ps acquisition.ParameterSet, env Env) *Pipeline {
	perf := env.Layout.PerfDir(sess)
	art := func(name string) string { return env.Store.Path("asl", sess, name) }

	combined := filepath.Join(perf, bidsName(sess, "asl.nii.gz"))
	fmapFwd := fieldmapFile(sess, env, ps.FieldmapDir) // PA for code B
	fmapRev := fieldmapFile(sess, env, "AP")

	acqparams := art("acqparams.txt")
	labelControl := art("asl_tc.nii.gz")
	m0 := art("m0.nii.gz")
	m0Mean := art("m0_mean.nii.gz")
	fmapPair := art("fmap_pair.nii.gz")
	topupBase := art("topup_asl")
	fieldcoef := topupBase + "_fieldcoef.nii.gz"
	labelControlDC := art("asl_tc_dc.nii.gz")
	calibDC := art("calib_dc.nii.gz")
	diff := art("asl_diff.nii.gz")
	oxDir := env.Store.Path("asl", sess, "oxasl")
	perfusion := filepath.Join(oxDir, "native_space", "perfusion.nii.gz")

	segment, gmPVE := tissueSegmentStage(sess, env)

	stages := []Stage{
		// Fixed volume-index convention: frames 0–85 are label/control,
		// 86–87 are the trailing calibration pair.
		external("split-labelcontrol",
			[]string{combined}, []string{labelControl},
			"fslroi", combined, labelControl, "0", fmt.Sprintf("%d", aslTotalFrames)),
		external("split-calib",
			[]string{combined}, []string{m0},
			"fslroi", combined, m0, fmt.Sprintf("%d", aslTotalFrames), "2"),
		external("mean-calib",
			[]string{m0}, []string{m0Mean},
			"fslmaths", m0, "-Tmean", m0Mean),
		writeParamsStage(env, ps, acqparams),
		// Forward fieldmap first: PA-then-AP for Siemens.
		external("merge-fieldmap",
			[]string{fmapFwd, fmapRev}, []string{fmapPair},
			"fslmerge", "-t", fmapPair, fmapFwd, fmapRev),
		external("estimate-field",
			[]string{fmapPair, acqparams}, []string{fieldcoef},
			"topup", "--imain="+fmapPair, "--datain="+acqparams,
			"--config=b02b0.cnf", "--out="+topupBase),
		external("correct-asl",
			[]string{labelControl, fieldcoef, acqparams}, []string{labelControlDC},
			"applytopup", "--imain="+labelControl, "--datain="+acqparams,
			"--inindex=1", "--topup="+topupBase, "--method=jac", "--out="+labelControlDC),
		external("correct-calib",
			[]string{m0Mean, fieldcoef, acqparams}, []string{calibDC},
			"applytopup", "--imain="+m0Mean, "--datain="+acqparams,
			"--inindex=1", "--topup="+topupBase, "--method=jac", "--out="+calibDC),
		segment,
		external("difference",
			[]string{labelControlDC}, []string{diff},
			"asl_file", "--data="+labelControlDC, "--ntis=5", "--ibf=rpt", "--iaf=tc",
			"--rpts="+aslRepeats, "--diff", "--out="+diff),
		external("fit-perfusion",
			[]string{diff, calibDC, gmPVE}, []string{perfusion},
			"oxford_asl", oxfordASLArgs(diff, oxDir, calibDC, gmPVE,
				aslSiemensTEms, aslSiemensTRSec)...),
	}

	return &Pipeline{
		Variant:  model.VariantASLSiemens,
		Session:  sess,
		Modality: model.ModalityASL,
		Params:   ps,
		Stages:   stages,
	}
}

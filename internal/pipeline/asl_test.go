package pipeline

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/store"
)

func buildEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		Layout: store.Layout{Root: filepath.Join(t.TempDir(), "rawdata")},
		Store:  store.New(filepath.Join(t.TempDir(), "derivatives")),
	}
}

func stageByID(t *testing.T, p *Pipeline, id string) Stage {
	t.Helper()
	for _, st := range p.Stages {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("pipeline %s has no stage %s", p.Variant, id)
	return Stage{}
}

func stageIDs(p *Pipeline) []string {
	ids := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		ids[i] = st.ID
	}
	return ids
}

func hasArg(inv []string, want string) bool {
	return slices.Contains(inv, want)
}

func TestBuildASLPhilipsStageOrder(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Variant != model.VariantASLPhilips {
		t.Fatalf("variant = %s", p.Variant)
	}

	want := []string{
		"write-acqparams", "mean-calib-fwd", "mean-calib-rev", "merge-delays",
		"merge-calib", "estimate-field", "correct-asl", "correct-calib",
		"tissue-segment", "difference", "fit-perfusion",
	}
	if got := stageIDs(p); !slices.Equal(got, want) {
		t.Errorf("stage order = %v\nwant %v", got, want)
	}
}

func TestBuildASLPhilipsMergeDelaysAscending(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	merge := stageByID(t, p, "merge-delays")
	if len(merge.Inputs) != 5 {
		t.Fatalf("merge-delays inputs = %d, want 5", len(merge.Inputs))
	}
	for i, in := range merge.Inputs {
		want := "delay-" + string(rune('1'+i))
		if !strings.Contains(in, want) {
			t.Errorf("merge input %d = %s, want %s series", i, in, want)
		}
	}
	// The invocation merges in the same ascending order.
	if got := merge.Invoke.Args[2:]; !slices.Equal(got, merge.Inputs) {
		t.Errorf("merge args %v do not follow input order %v", got, merge.Inputs)
	}
}

func TestBuildASLPhilipsCalibMergeForwardFirst(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	merge := stageByID(t, p, "merge-calib")
	args := merge.Invoke.Args
	if len(args) != 4 {
		t.Fatalf("merge-calib args = %v", args)
	}
	if !strings.Contains(args[2], "m0_fwd_mean") || !strings.Contains(args[3], "m0_rev_mean") {
		t.Errorf("merge-calib order = %v, want forward mean first", args[2:])
	}
}

func TestBuildASLPhilipsConstants(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	diff := stageByID(t, p, "difference")
	for _, arg := range []string{"--ntis=5", "--rpts=12,12,12,20,30", "--ibf=rpt", "--iaf=tc", "--diff"} {
		if !hasArg(diff.Invoke.Args, arg) {
			t.Errorf("difference missing arg %s in %v", arg, diff.Invoke.Args)
		}
	}

	fit := stageByID(t, p, "fit-perfusion")
	for _, arg := range []string{
		"--plds=0.5,1.0,1.5,2.0,2.5", "--bolus=1.4", "--slicedt=0.018",
		"--t1=1.3", "--t1b=1.65", "--alpha=0.85", "--t2b=0.15",
		"--te=14", "--tr=10", "--spatial", "--pvcorr",
	} {
		if !hasArg(fit.Invoke.Args, arg) {
			t.Errorf("fit-perfusion missing arg %s", arg)
		}
	}
}

func TestBuildASLSiemensStageOrder(t *testing.T) {
	sess := session(t, "ses-01B")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Variant != model.VariantASLSiemens {
		t.Fatalf("variant = %s", p.Variant)
	}

	want := []string{
		"split-labelcontrol", "split-calib", "mean-calib", "write-acqparams",
		"merge-fieldmap", "estimate-field", "correct-asl", "correct-calib",
		"tissue-segment", "difference", "fit-perfusion",
	}
	if got := stageIDs(p); !slices.Equal(got, want) {
		t.Errorf("stage order = %v\nwant %v", got, want)
	}
}

func TestBuildASLSiemensFrameSplit(t *testing.T) {
	sess := session(t, "ses-01B")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	lc := stageByID(t, p, "split-labelcontrol")
	if got := lc.Invoke.Args[2:]; !slices.Equal(got, []string{"0", "86"}) {
		t.Errorf("label/control split = %v, want [0 86]", got)
	}
	calib := stageByID(t, p, "split-calib")
	if got := calib.Invoke.Args[2:]; !slices.Equal(got, []string{"86", "2"}) {
		t.Errorf("calibration split = %v, want [86 2]", got)
	}
}

func TestBuildASLSiemensFieldmapForwardFirst(t *testing.T) {
	sess := session(t, "ses-01B")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Params.ReadoutTime != 0.0480 {
		t.Errorf("readout time = %v, want 0.0480", p.Params.ReadoutTime)
	}

	// Code B supplies the forward reference from the dir-PA acquisition.
	merge := stageByID(t, p, "merge-fieldmap")
	args := merge.Invoke.Args
	if !strings.Contains(args[2], "dir-PA_epi") || !strings.Contains(args[3], "dir-AP_epi") {
		t.Errorf("merge-fieldmap order = %v, want dir-PA first", args[2:])
	}
}

func TestBuildASLSiemensTiming(t *testing.T) {
	sess := session(t, "ses-01B")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityASL, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	fit := stageByID(t, p, "fit-perfusion")
	for _, arg := range []string{"--te=19", "--tr=3.58"} {
		if !hasArg(fit.Invoke.Args, arg) {
			t.Errorf("fit-perfusion missing arg %s", arg)
		}
	}
}

func TestBuildASLTissueSegmentReadsAnatomicalDerivative(t *testing.T) {
	for _, sessionID := range []string{"ses-01N", "ses-01B"} {
		sess := session(t, sessionID)
		env := buildEnv(t)

		p, err := Build(sess, model.ModalityASL, env)
		if err != nil {
			t.Fatalf("Build(%s): %v", sessionID, err)
		}

		seg := stageByID(t, p, "tissue-segment")
		wantIn := env.Store.Path("t1", sess, "T1w_std.nii.gz")
		if !slices.Contains(seg.Inputs, wantIn) {
			t.Errorf("%s: tissue-segment inputs %v do not include %s", sessionID, seg.Inputs, wantIn)
		}

		fit := stageByID(t, p, "fit-perfusion")
		found := false
		for _, arg := range fit.Invoke.Args {
			if strings.HasPrefix(arg, "--pvgm=") && strings.Contains(arg, "t1seg_pve_1") {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: fit-perfusion lacks grey-matter PVE argument", sessionID)
		}
	}
}

package pipeline

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/harmonize-mri/neuroprep/internal/model"
)

func TestBuildDTIStageOrder(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityDTI, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{
		"write-acqparams", "extract-ref", "merge-refs", "reorient-refs",
		"reorient-dwi", "estimate-field", "correct-dwi", "mean-ref",
		"brain-mask", "write-index", "eddy-correct", "qc-report",
		"fit-tensor", "aggregate-fa", "aggregate-md",
	}
	if got := stageIDs(p); !slices.Equal(got, want) {
		t.Errorf("stage order = %v\nwant %v", got, want)
	}
}

func TestBuildDTICalibrationPerCode(t *testing.T) {
	tests := []struct {
		sessionID   string
		variant     model.Variant
		readout     float64
		fieldmapDir string
	}{
		{"ses-01N", model.VariantDTIPhilips, 0.0742, "AP"},
		{"ses-01A", model.VariantDTISiemensA, 0.0469, "PA"},
		{"ses-01B", model.VariantDTISiemensB, 0.0572, "PA"},
	}
	for _, tt := range tests {
		sess := session(t, tt.sessionID)
		env := buildEnv(t)

		p, err := Build(sess, model.ModalityDTI, env)
		if err != nil {
			t.Fatalf("Build(%s): %v", tt.sessionID, err)
		}
		if p.Variant != tt.variant {
			t.Errorf("%s: variant = %s, want %s", tt.sessionID, p.Variant, tt.variant)
		}
		if p.Params.ReadoutTime != tt.readout {
			t.Errorf("%s: readout = %v, want %v", tt.sessionID, p.Params.ReadoutTime, tt.readout)
		}

		// The fieldmap named by the calibration entry merges first, ahead
		// of the extracted low-b reference.
		merge := stageByID(t, p, "merge-refs")
		if len(merge.Inputs) != 2 {
			t.Fatalf("%s: merge-refs inputs = %v", tt.sessionID, merge.Inputs)
		}
		wantFmap := "dir-" + tt.fieldmapDir + "_epi"
		if !strings.Contains(merge.Inputs[0], wantFmap) {
			t.Errorf("%s: first merged ref = %s, want %s acquisition",
				tt.sessionID, merge.Inputs[0], wantFmap)
		}
		if !strings.Contains(merge.Inputs[1], "b0.nii.gz") {
			t.Errorf("%s: second merged ref = %s, want extracted b0", tt.sessionID, merge.Inputs[1])
		}
	}
}

func TestBuildDTIToolArguments(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityDTI, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	extract := stageByID(t, p, "extract-ref")
	if got := extract.Invoke.Args[2:]; !slices.Equal(got, []string{"0", "1"}) {
		t.Errorf("extract-ref window = %v, want [0 1]", got)
	}

	mask := stageByID(t, p, "brain-mask")
	for _, arg := range []string{"-m", "-f", "0.2"} {
		if !hasArg(mask.Invoke.Args, arg) {
			t.Errorf("brain-mask missing arg %s in %v", arg, mask.Invoke.Args)
		}
	}

	field := stageByID(t, p, "estimate-field")
	if !hasArg(field.Invoke.Args, "--config=b02b0.cnf") {
		t.Errorf("estimate-field missing topup config in %v", field.Invoke.Args)
	}

	// Rotated gradient directions from the motion correction feed the
	// tensor fit, not the raw ones.
	fit := stageByID(t, p, "fit-tensor")
	found := false
	for _, in := range fit.Inputs {
		if strings.HasSuffix(in, ".eddy_rotated_bvecs") {
			found = true
		}
	}
	if !found {
		t.Errorf("fit-tensor inputs %v lack rotated gradient table", fit.Inputs)
	}

	// eddy_quad creates its -o directory itself and aborts when it exists.
	qc := stageByID(t, p, "qc-report")
	wantQCDir := filepath.Join("sub-001", "ses-01N", "qc")
	if len(qc.OwnedDirs) != 1 || !strings.HasSuffix(qc.OwnedDirs[0], wantQCDir) {
		t.Errorf("qc-report owned dirs = %v", qc.OwnedDirs)
	}
	if !hasArg(qc.Invoke.Args, qc.OwnedDirs[0]) {
		t.Errorf("qc-report -o target %v not in args %v", qc.OwnedDirs, qc.Invoke.Args)
	}
}

func TestBuildDTIAggregationPaths(t *testing.T) {
	sess := session(t, "ses-01N")
	env := buildEnv(t)

	p, err := Build(sess, model.ModalityDTI, env)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	fa := stageByID(t, p, "aggregate-fa")
	wantFA := env.Store.AggregatePath("dti", sess, "FA.nii.gz")
	if !slices.Contains(fa.Outputs, wantFA) {
		t.Errorf("aggregate-fa outputs = %v, want %s", fa.Outputs, wantFA)
	}
	md := stageByID(t, p, "aggregate-md")
	wantMD := env.Store.AggregatePath("dti", sess, "MD.nii.gz")
	if !slices.Contains(md.Outputs, wantMD) {
		t.Errorf("aggregate-md outputs = %v, want %s", md.Outputs, wantMD)
	}
}

func TestBuildT1SharedAcrossCodes(t *testing.T) {
	// All three scanner codes route to the identical anatomical pipeline.
	for _, sessionID := range []string{"ses-01N", "ses-01A", "ses-01B"} {
		sess := session(t, sessionID)
		env := buildEnv(t)

		p, err := Build(sess, model.ModalityT1, env)
		if err != nil {
			t.Fatalf("Build(%s): %v", sessionID, err)
		}
		if p.Variant != model.VariantT1 {
			t.Errorf("%s: variant = %s", sessionID, p.Variant)
		}
		want := []string{"reorient-anat", "surface-recon"}
		if got := stageIDs(p); !slices.Equal(got, want) {
			t.Errorf("%s: stage order = %v", sessionID, got)
		}

		recon := stageByID(t, p, "surface-recon")
		if recon.Invoke.Tool != "recon-all" || !hasArg(recon.Invoke.Args, "-all") {
			t.Errorf("%s: surface-recon invocation = %s", sessionID, recon.Invoke)
		}
		if len(recon.Outputs) != 1 || !strings.HasSuffix(recon.Outputs[0], "recon-all.done") {
			t.Errorf("%s: surface-recon success marker = %v", sessionID, recon.Outputs)
		}
		// recon-all creates the subject directory itself.
		subjectDir := filepath.Join("freesurfer", "sub-001_"+sessionID)
		if len(recon.OwnedDirs) != 1 || !strings.HasSuffix(recon.OwnedDirs[0], subjectDir) {
			t.Errorf("%s: surface-recon owned dirs = %v", sessionID, recon.OwnedDirs)
		}
	}
}

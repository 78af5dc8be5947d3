package pipeline

import (
	"path/filepath"

	"github.com/harmonize-mri/neuroprep/internal/model"
)

// buildT1 constructs the anatomical pipeline: reorientation to the standard
// orientation, then cortical surface reconstruction. The reconstruction is a
// single long-running external operation; nothing downstream in this
// pipeline consumes its intermediates.
func buildT1(sess model.Session, env Env) *Pipeline {
	rawT1 := filepath.Join(env.Layout.AnatDir(sess), bidsName(sess, "T1w.nii.gz"))
	stdT1 := env.Store.Path("t1", sess, "T1w_std.nii.gz")

	fsDir := filepath.Join(env.Store.Root(), "freesurfer")
	fsSubject := sess.SubjectID + "_" + sess.SessionID
	reconDone := filepath.Join(fsDir, fsSubject, "scripts", "recon-all.done")

	// recon-all -i refuses to run when the subject directory already exists;
	// the engine clears a stale one instead of pre-creating it.
	recon := external("surface-recon",
		[]string{stdT1},
		[]string{reconDone},
		"recon-all", "-sd", fsDir, "-s", fsSubject, "-i", stdT1, "-all")
	recon.OwnedDirs = []string{filepath.Join(fsDir, fsSubject)}

	return &Pipeline{
		Variant:  model.VariantT1,
		Session:  sess,
		Modality: model.ModalityT1,
		Stages: []Stage{
			external("reorient-anat",
				[]string{rawT1},
				[]string{stdT1},
				"fslreorient2std", rawT1, stdT1),
			recon,
		},
	}
}

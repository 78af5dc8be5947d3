package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/model"
)

// Layout resolves locations inside the BIDS-structured raw tree. The raw
// tree is consumed, never written.
type Layout struct {
	Root string
}

func (l Layout) sessionDir(sess model.Session) string {
	return filepath.Join(l.Root, sess.SubjectID, sess.SessionID)
}

func (l Layout) AnatDir(sess model.Session) string {
	return filepath.Join(l.sessionDir(sess), "anat")
}

func (l Layout) PerfDir(sess model.Session) string {
	return filepath.Join(l.sessionDir(sess), "perf")
}

func (l Layout) FmapDir(sess model.Session) string {
	return filepath.Join(l.sessionDir(sess), "fmap")
}

func (l Layout) DwiDir(sess model.Session) string {
	return filepath.Join(l.sessionDir(sess), "dwi")
}

// modalityDirs maps a modality to the raw folder whose presence marks a unit
// as runnable.
var modalityDirs = map[model.Modality]string{
	model.ModalityT1:  "anat",
	model.ModalityASL: "perf",
	model.ModalityDTI: "dwi",
}

// HasModality reports whether the session's raw tree carries data for m.
func (l Layout) HasModality(sess model.Session, m model.Modality) bool {
	dir, ok := modalityDirs[m]
	if !ok {
		return false
	}
	info, err := os.Stat(filepath.Join(l.sessionDir(sess), dir))
	return err == nil && info.IsDir()
}

// Unit is one independently schedulable (subject, session, modality)
// invocation. Units share no mutable state; a caller may run many in
// parallel worker slots.
type Unit struct {
	Session  model.Session
	Modality model.Modality
}

// DiscoverUnits walks the raw tree and returns every runnable unit in
// deterministic order (subject, then session, then t1/asl/dti).
func (l Layout) DiscoverUnits() ([]Unit, error) {
	subjects, err := listDirs(l.Root, "sub-")
	if err != nil {
		return nil, err
	}

	var units []Unit
	for _, sub := range subjects {
		sessions, err := listDirs(filepath.Join(l.Root, sub), "ses-")
		if err != nil {
			return nil, err
		}
		for _, ses := range sessions {
			sess, err := model.NewSession(sub, ses)
			if err != nil {
				continue
			}
			for _, m := range []model.Modality{model.ModalityT1, model.ModalityASL, model.ModalityDTI} {
				if l.HasModality(sess, m) {
					units = append(units, Unit{Session: sess, Modality: m})
				}
			}
		}
	}
	return units, nil
}

func listDirs(root, prefix string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

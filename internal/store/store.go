// Package store manages the derivatives namespace: deterministic artifact
// locations per subject/session/analysis, lazy directory creation, and the
// cross-subject aggregation area.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harmonize-mri/neuroprep/internal/atomicio"
	"github.com/harmonize-mri/neuroprep/internal/model"
)

// Store resolves and writes artifact locations under one derivatives root.
// Paths are pure functions of (analysis, subject, session, logical name), so
// reruns are idempotent and every intermediate is inspectable on disk.
type Store struct {
	root string
}

func New(derivativesRoot string) *Store {
	return &Store{root: derivativesRoot}
}

func (s *Store) Root() string { return s.root }

// Path resolves the location of a named artifact for one subject/session.
func (s *Store) Path(analysis string, sess model.Session, name string) string {
	return filepath.Join(s.root, analysis, sess.SubjectID, sess.SessionID, name)
}

// AggregatePath resolves a location in the cross-subject aggregation area,
// keyed by subject/session in the file name so one directory collects a map
// per subject for the group-level pipeline.
func (s *Store) AggregatePath(analysis string, sess model.Session, name string) string {
	return filepath.Join(s.root, analysis, "aggregate",
		fmt.Sprintf("%s_%s_%s", sess.SubjectID, sess.SessionID, name))
}

// ManifestPath resolves the run manifest location for one unit.
func (s *Store) ManifestPath(sess model.Session, m model.Modality) string {
	return filepath.Join(s.root, "manifests", sess.Unit(m)+".yaml")
}

// Exists reports whether an artifact is present and non-empty. Empty files
// are treated as absent: a zero-byte output means the producing operation
// did not complete.
func (s *Store) Exists(location string) bool {
	info, err := os.Stat(location)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// Write creates the parent directory on first use and writes data
// atomically. Failure to create or write the namespace is a
// StorageUnavailableError.
func (s *Store) Write(location string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
		return &model.StorageUnavailableError{Path: filepath.Dir(location), Err: err}
	}
	if err := atomicio.WriteRaw(location, data); err != nil {
		return &model.StorageUnavailableError{Path: location, Err: err}
	}
	return nil
}

// WriteYAML writes a YAML document the same way Write writes raw bytes.
func (s *Store) WriteYAML(location string, data any) error {
	if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
		return &model.StorageUnavailableError{Path: filepath.Dir(location), Err: err}
	}
	if err := atomicio.WriteYAML(location, data); err != nil {
		return &model.StorageUnavailableError{Path: location, Err: err}
	}
	return nil
}

// EnsureDir creates a directory that an external operation will write into.
func (s *Store) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &model.StorageUnavailableError{Path: dir, Err: err}
	}
	return nil
}

// CopyFile copies an artifact into the aggregation area. The copy is
// written atomically so a concurrent group-level reader never sees a
// partial map.
func (s *Store) CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return s.Write(dst, data)
}

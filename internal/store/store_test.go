package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harmonize-mri/neuroprep/internal/model"
)

func testSession(t *testing.T) model.Session {
	t.Helper()
	sess, err := model.NewSession("sub-001", "ses-01N")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestPathIsDeterministic(t *testing.T) {
	s := New("/deriv")
	sess := testSession(t)

	p1 := s.Path("dti", sess, "dti_FA.nii.gz")
	p2 := s.Path("dti", sess, "dti_FA.nii.gz")
	if p1 != p2 {
		t.Fatalf("paths differ: %q vs %q", p1, p2)
	}
	want := filepath.Join("/deriv", "dti", "sub-001", "ses-01N", "dti_FA.nii.gz")
	if p1 != want {
		t.Errorf("Path = %q, want %q", p1, want)
	}
}

func TestAggregatePathKeyedBySubjectSession(t *testing.T) {
	s := New("/deriv")
	sess := testSession(t)

	got := s.AggregatePath("dti", sess, "FA.nii.gz")
	want := filepath.Join("/deriv", "dti", "aggregate", "sub-001_ses-01N_FA.nii.gz")
	if got != want {
		t.Errorf("AggregatePath = %q, want %q", got, want)
	}
}

func TestExistsRequiresNonEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	missing := filepath.Join(dir, "missing")
	if s.Exists(missing) {
		t.Error("Exists(missing) = true")
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if s.Exists(empty) {
		t.Error("Exists(empty file) = true; zero-byte outputs must count as absent")
	}

	full := filepath.Join(dir, "full")
	if err := os.WriteFile(full, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if !s.Exists(full) {
		t.Error("Exists(non-empty file) = false")
	}
}

func TestWriteCreatesDirectoriesLazily(t *testing.T) {
	s := New(t.TempDir())
	sess := testSession(t)

	loc := s.Path("asl", sess, "acqparams.txt")
	if err := s.Write(loc, []byte("0 1 0 0.0352\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists(loc) {
		t.Error("artifact not present after Write")
	}
}

func TestWriteStorageUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// A file where a directory is needed makes the namespace unusable.
	s := New(blocked)
	sess := testSession(t)
	err := s.Write(s.Path("dti", sess, "out"), []byte("y"))

	var unavailable *model.StorageUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StorageUnavailableError, got %v", err)
	}
}

func TestDiscoverUnits(t *testing.T) {
	root := t.TempDir()
	mk := func(parts ...string) {
		if err := os.MkdirAll(filepath.Join(append([]string{root}, parts...)...), 0755); err != nil {
			t.Fatal(err)
		}
	}
	mk("sub-001", "ses-01N", "anat")
	mk("sub-001", "ses-01N", "dwi")
	mk("sub-001", "ses-02B", "perf")
	mk("sub-002", "ses-01A", "dwi")
	mk("sub-002", "ses-01A", "func") // func has no preprocessing pipeline
	mk("not-a-subject", "ses-01N", "anat")

	l := Layout{Root: root}
	units, err := l.DiscoverUnits()
	if err != nil {
		t.Fatalf("DiscoverUnits: %v", err)
	}

	want := []struct {
		subject, session string
		modality         model.Modality
	}{
		{"sub-001", "ses-01N", model.ModalityT1},
		{"sub-001", "ses-01N", model.ModalityDTI},
		{"sub-001", "ses-02B", model.ModalityASL},
		{"sub-002", "ses-01A", model.ModalityDTI},
	}
	if len(units) != len(want) {
		t.Fatalf("got %d units, want %d: %+v", len(units), len(want), units)
	}
	for i, w := range want {
		u := units[i]
		if u.Session.SubjectID != w.subject || u.Session.SessionID != w.session || u.Modality != w.modality {
			t.Errorf("unit[%d] = %+v, want %+v", i, u, w)
		}
	}
}

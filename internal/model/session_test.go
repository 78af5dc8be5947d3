package model

import "testing"

func TestScannerCode(t *testing.T) {
	tests := []struct {
		sessionID string
		code      string
	}{
		{"ses-01N", "N"},
		{"ses-02A", "A"},
		{"ses-03B", "B"},
		{"ses-01x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.sessionID, func(t *testing.T) {
			s, err := NewSession("sub-001", tt.sessionID)
			if err != nil {
				t.Fatalf("NewSession: %v", err)
			}
			if got := s.ScannerCode(); got != tt.code {
				t.Errorf("ScannerCode() = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestNewSessionRejectsEmptyIdentifiers(t *testing.T) {
	if _, err := NewSession("", "ses-01N"); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := NewSession("sub-001", ""); err == nil {
		t.Error("expected error for empty session")
	}
}

func TestParseModality(t *testing.T) {
	for _, s := range []string{"t1", "ASL", "dti"} {
		if _, err := ParseModality(s); err != nil {
			t.Errorf("ParseModality(%q): %v", s, err)
		}
	}
	if _, err := ParseModality("fmri"); err == nil {
		t.Error("expected error for unsupported modality")
	}
}

func TestUnit(t *testing.T) {
	s, _ := NewSession("sub-001", "ses-01N")
	if got := s.Unit(ModalityDTI); got != "sub-001_ses-01N_dti" {
		t.Errorf("Unit() = %q", got)
	}
}

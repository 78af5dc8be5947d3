// Package model defines the data structures for neuroprep's configuration,
// sessions, run manifests, and error kinds.
package model

import (
	"fmt"
	"strings"
)

// Modality identifies one acquisition family with its own pipeline.
type Modality string

const (
	ModalityT1  Modality = "t1"
	ModalityASL Modality = "asl"
	ModalityDTI Modality = "dti"
)

// ParseModality validates a user-supplied modality name.
func ParseModality(s string) (Modality, error) {
	switch Modality(strings.ToLower(s)) {
	case ModalityT1:
		return ModalityT1, nil
	case ModalityASL:
		return ModalityASL, nil
	case ModalityDTI:
		return ModalityDTI, nil
	default:
		return "", fmt.Errorf("unknown modality %q (want t1, asl or dti)", s)
	}
}

// Variant is a statically selected pipeline shape. The scanner-type decision
// is made exactly once, before the stage list is built; a variant is never
// branched on again during execution.
type Variant string

const (
	VariantT1          Variant = "t1"
	VariantASLPhilips  Variant = "asl-philips"
	VariantASLSiemens  Variant = "asl-siemens"
	VariantDTIPhilips  Variant = "dti-philips"
	VariantDTISiemensA Variant = "dti-siemens-a"
	VariantDTISiemensB Variant = "dti-siemens-b"
)

// Session identifies one subject visit. The scanner-type code is carried as
// the final character of the session identifier (e.g. "ses-01N" → "N").
type Session struct {
	SubjectID string
	SessionID string
}

// NewSession builds an immutable Session from configuration input.
func NewSession(subjectID, sessionID string) (Session, error) {
	if subjectID == "" {
		return Session{}, fmt.Errorf("subject identifier is empty")
	}
	if sessionID == "" {
		return Session{}, fmt.Errorf("session identifier is empty")
	}
	return Session{SubjectID: subjectID, SessionID: sessionID}, nil
}

// ScannerCode returns the trailing scanner-type code of the session
// identifier. Whether the code is recognized depends on the modality; that
// check belongs to the router, not here.
func (s Session) ScannerCode() string {
	if s.SessionID == "" {
		return ""
	}
	return s.SessionID[len(s.SessionID)-1:]
}

// Unit names one independently schedulable pipeline invocation.
func (s Session) Unit(m Modality) string {
	return fmt.Sprintf("%s_%s_%s", s.SubjectID, s.SessionID, m)
}

package model

import "fmt"

// UnknownScannerTypeError is returned by the acquisition parameter resolver
// when a (scanner code, modality) pair has no calibration entry. No stage may
// run for such a session.
type UnknownScannerTypeError struct {
	Code     string
	Modality Modality
}

func (e *UnknownScannerTypeError) Error() string {
	return fmt.Sprintf("unknown scanner type %q for modality %s", e.Code, e.Modality)
}

// UnrecognizedScannerCodeError is returned by the router when a session's
// trailing code is outside the modality's recognized set. The DTI and ASL
// sets differ on purpose; they reflect distinct acquisition protocols.
type UnrecognizedScannerCodeError struct {
	Code     string
	Modality Modality
}

func (e *UnrecognizedScannerCodeError) Error() string {
	return fmt.Sprintf("unrecognized scanner code %q for modality %s", e.Code, e.Modality)
}

// MissingInputArtifactError halts a run before the stage's operation is
// invoked: a declared input was absent or empty at stage start.
type MissingInputArtifactError struct {
	Stage    string
	Artifact string
}

func (e *MissingInputArtifactError) Error() string {
	return fmt.Sprintf("stage %s: missing input artifact %s", e.Stage, e.Artifact)
}

// StageFailedError reports that a stage's operation ran but its success
// predicate failed, or the operation itself errored. Fatal for the run; no
// later stage executes.
type StageFailedError struct {
	Stage  string
	Reason string
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

// StorageUnavailableError reports that the derivatives namespace could not be
// created or written.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable at %s: %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

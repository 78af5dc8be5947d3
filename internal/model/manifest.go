package model

import "time"

// StageRecord captures one stage's terminal outcome within a run.
type StageRecord struct {
	ID         string      `yaml:"id"`
	Status     StageStatus `yaml:"status"`
	Reason     string      `yaml:"reason,omitempty"`
	StartedAt  time.Time   `yaml:"started_at,omitempty"`
	FinishedAt time.Time   `yaml:"finished_at,omitempty"`
}

// RunManifest is the per-invocation record written under the derivatives
// namespace. A consumer must not trust any derivative of a run whose
// manifest is not completed: partial products are never valid.
type RunManifest struct {
	RunID      string        `yaml:"run_id"`
	SubjectID  string        `yaml:"subject_id"`
	SessionID  string        `yaml:"session_id"`
	Modality   Modality      `yaml:"modality"`
	Variant    Variant       `yaml:"variant,omitempty"`
	Status     RunStatus     `yaml:"status"`
	Error      string        `yaml:"error,omitempty"`
	Stages     []StageRecord `yaml:"stages,omitempty"`
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at,omitempty"`
}

package model

import "fmt"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected" // unsupported session metadata, no stage ran
)

type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped" // never started: an earlier stage failed
)

var terminalRunStatuses = map[RunStatus]bool{
	RunStatusCompleted: true,
	RunStatusFailed:    true,
	RunStatusRejected:  true,
}

var terminalStageStatuses = map[StageStatus]bool{
	StageStatusCompleted: true,
	StageStatusFailed:    true,
	StageStatusSkipped:   true,
}

// Runs move pending → running → terminal. rejected is reachable only from
// pending: routing happens before any stage starts.
var validRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusPending: {
		RunStatusRunning:  true,
		RunStatusRejected: true,
	},
	RunStatusRunning: {
		RunStatusCompleted: true,
		RunStatusFailed:    true,
	},
}

// Stages are terminal after one execution: there is no retry transition.
// Recovery is an idempotent rerun of the whole pipeline invocation.
var validStageTransitions = map[StageStatus]map[StageStatus]bool{
	StageStatusPending: {
		StageStatusRunning: true,
		StageStatusFailed:  true, // input check failed before the operation ran
		StageStatusSkipped: true,
	},
	StageStatusRunning: {
		StageStatusCompleted: true,
		StageStatusFailed:    true,
	},
}

func IsRunTerminal(s RunStatus) bool { return terminalRunStatuses[s] }

func IsStageTerminal(s StageStatus) bool { return terminalStageStatuses[s] }

func ValidateRunTransition(from, to RunStatus) error {
	if validRunTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid run status transition: %s → %s", from, to)
}

func ValidateStageTransition(from, to StageStatus) error {
	if validStageTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid stage status transition: %s → %s", from, to)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harmonize-mri/neuroprep/internal/acquisition"
	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/store"
	"github.com/harmonize-mri/neuroprep/internal/tool"
)

// Pipeline is a bound, ready-to-run stage sequence for one session and
// modality. The variant was chosen before construction; nothing branches on
// scanner type at run time.
type Pipeline struct {
	Variant  model.Variant
	Session  model.Session
	Modality model.Modality
	Params   acquisition.ParameterSet // zero value for T1
	Stages   []Stage

	// OnStageStart, when set, is notified as each stage begins executing.
	// The batch runner uses it to record stage_start events.
	OnStageStart func(stageID string)
}

// LogLevel controls engine logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Engine executes pipelines against one artifact store and one runner.
type Engine struct {
	store    *store.Store
	runner   tool.Runner
	logger   *log.Logger
	logLevel LogLevel
}

func NewEngine(st *store.Store, runner tool.Runner, w io.Writer, logLevel string) *Engine {
	return &Engine{
		store:    st,
		runner:   runner,
		logger:   log.New(w, "", 0),
		logLevel: parseLogLevel(logLevel),
	}
}

// Run executes the stages strictly in declared order. Before stage k runs,
// every declared input must be present and non-empty; otherwise the run
// halts with a MissingInputArtifactError and stages k+1..n never execute.
// After a stage's operation returns, every declared output must be present
// and non-empty; otherwise the run halts with a StageFailedError. There is
// no retry: recovery is an idempotent rerun of the whole invocation, safe
// because every output location is deterministic.
//
// The returned records cover all stages, including those skipped after the
// failure point, so the manifest shows exactly how far the run got.
func (e *Engine) Run(ctx context.Context, p *Pipeline) ([]model.StageRecord, error) {
	unit := p.Session.Unit(p.Modality)
	records := make([]model.StageRecord, len(p.Stages))
	for i, st := range p.Stages {
		records[i] = model.StageRecord{ID: st.ID, Status: model.StageStatusPending}
	}

	e.log(LogLevelInfo, "run_start unit=%s variant=%s stages=%d", unit, p.Variant, len(p.Stages))

	for i, st := range p.Stages {
		rec := &records[i]

		if missing := e.firstMissingInput(st); missing != "" {
			rec.Status = model.StageStatusFailed
			rec.Reason = fmt.Sprintf("missing input artifact %s", missing)
			skipRemaining(records[i+1:])
			e.log(LogLevelError, "run_halt unit=%s stage=%s reason=missing_input artifact=%s",
				unit, st.ID, missing)
			return records, &model.MissingInputArtifactError{Stage: st.ID, Artifact: missing}
		}

		rec.Status = model.StageStatusRunning
		rec.StartedAt = time.Now()
		e.log(LogLevelInfo, "stage_start unit=%s stage=%s", unit, st.ID)
		if p.OnStageStart != nil {
			p.OnStageStart(st.ID)
		}

		if err := e.execute(ctx, st); err != nil {
			reason := err.Error()
			if errors.Is(err, tool.ErrTimeout) {
				reason = "timeout"
			}
			rec.Status = model.StageStatusFailed
			rec.Reason = reason
			rec.FinishedAt = time.Now()
			skipRemaining(records[i+1:])
			e.log(LogLevelError, "stage_failed unit=%s stage=%s reason=%q", unit, st.ID, reason)
			return records, &model.StageFailedError{Stage: st.ID, Reason: reason}
		}

		if missing := e.firstMissingOutput(st); missing != "" {
			reason := fmt.Sprintf("expected output %s absent or empty", missing)
			rec.Status = model.StageStatusFailed
			rec.Reason = reason
			rec.FinishedAt = time.Now()
			skipRemaining(records[i+1:])
			e.log(LogLevelError, "stage_failed unit=%s stage=%s reason=%q", unit, st.ID, reason)
			return records, &model.StageFailedError{Stage: st.ID, Reason: reason}
		}

		rec.Status = model.StageStatusCompleted
		rec.FinishedAt = time.Now()
		e.log(LogLevelInfo, "stage_done unit=%s stage=%s elapsed=%s",
			unit, st.ID, rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}

	e.log(LogLevelInfo, "run_done unit=%s variant=%s", unit, p.Variant)
	return records, nil
}

func (e *Engine) execute(ctx context.Context, st Stage) error {
	// A few collaborators insist on creating their output directory
	// themselves and abort when it already exists; for those, a stale copy
	// from an earlier run is removed rather than pre-created. Everything
	// else writes into directories the engine prepares, since the external
	// operations do not create them.
	for _, dir := range st.OwnedDirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove stale %s: %w", dir, err)
		}
		if err := e.store.EnsureDir(filepath.Dir(dir)); err != nil {
			return err
		}
	}
	for _, out := range st.Outputs {
		if st.ownsOutput(out) {
			continue
		}
		if err := e.store.EnsureDir(filepath.Dir(out)); err != nil {
			return err
		}
	}
	if st.Internal != nil {
		return st.Internal(ctx)
	}
	if st.Invoke != nil {
		return e.runner.Run(ctx, *st.Invoke)
	}
	return fmt.Errorf("stage %s has no operation bound", st.ID)
}

func (e *Engine) firstMissingInput(st Stage) string {
	for _, in := range st.Inputs {
		if !e.store.Exists(in) {
			return in
		}
	}
	return ""
}

func (e *Engine) firstMissingOutput(st Stage) string {
	for _, out := range st.Outputs {
		if !e.store.Exists(out) {
			return out
		}
	}
	return ""
}

func skipRemaining(records []model.StageRecord) {
	for i := range records {
		records[i].Status = model.StageStatusSkipped
	}
}

// Complete reports whether the full expected output set of the pipeline is
// present. Consumers must check this before trusting any derivative: partial
// products are never valid.
func (e *Engine) Complete(p *Pipeline) bool {
	for _, st := range p.Stages {
		if missing := e.firstMissingOutput(st); missing != "" {
			return false
		}
	}
	return true
}

func (e *Engine) log(level LogLevel, format string, args ...any) {
	if level < e.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s pipeline: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

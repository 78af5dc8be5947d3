// Package batch schedules pipeline invocations over discovered units. Each
// (subject, session, modality) unit is an independently schedulable unit of
// work with its own derivatives namespace; only the aggregation folders and
// the manifest directory are shared, serialised by a lock map.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harmonize-mri/neuroprep/internal/events"
	"github.com/harmonize-mri/neuroprep/internal/lock"
	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/pipeline"
	"github.com/harmonize-mri/neuroprep/internal/store"
	"github.com/harmonize-mri/neuroprep/internal/tool"
)

// LogLevel controls runner logging verbosity.
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

// Runner executes pipeline units and records their manifests and events.
type Runner struct {
	cfg      model.Config
	layout   store.Layout
	store    *store.Store
	engine   *pipeline.Engine
	eventLog *events.Log
	locks    *lock.MutexMap
	logger   *log.Logger
	logLevel LogLevel
}

func NewRunner(cfg model.Config, eventLog *events.Log, w io.Writer) *Runner {
	st := store.New(cfg.Paths.DerivativesRoot)
	timeout := time.Duration(cfg.Tools.TimeoutSec) * time.Second
	return &Runner{
		cfg:      cfg,
		layout:   store.Layout{Root: cfg.Paths.RawRoot},
		store:    st,
		engine:   pipeline.NewEngine(st, tool.NewExecRunner(timeout, w), w, cfg.Logging.Level),
		eventLog: eventLog,
		locks:    lock.NewMutexMap(),
		logger:   log.New(w, "", 0),
		logLevel: parseLogLevel(cfg.Logging.Level),
	}
}

// SetToolRunner overrides the external-tool runner for testing.
func (r *Runner) SetToolRunner(tr tool.Runner, w io.Writer) {
	r.engine = pipeline.NewEngine(r.store, tr, w, r.cfg.Logging.Level)
}

// Result is one unit's terminal outcome.
type Result struct {
	Unit     store.Unit
	Manifest model.RunManifest
	Err      error
}

// RunUnit executes one unit end to end, writing its manifest before the
// first stage and again after the terminal transition. A routing rejection
// leaves a rejected manifest and runs no stage.
func (r *Runner) RunUnit(ctx context.Context, unit store.Unit) Result {
	sess, m := unit.Session, unit.Modality
	name := sess.Unit(m)
	manifest := model.RunManifest{
		RunID:     uuid.NewString(),
		SubjectID: sess.SubjectID,
		SessionID: sess.SessionID,
		Modality:  m,
		Status:    model.RunStatusPending,
		StartedAt: time.Now().UTC(),
	}

	p, err := pipeline.Build(sess, m, pipeline.Env{Layout: r.layout, Store: r.store})
	if err != nil {
		manifest.Status = model.RunStatusRejected
		manifest.Error = err.Error()
		manifest.FinishedAt = time.Now().UTC()
		r.writeManifest(sess, m, &manifest)
		r.record(events.EventRunRejected, manifest.RunID, name, "", map[string]string{"error": err.Error()})
		r.log(LogLevelError, "unit_rejected unit=%s error=%q", name, err)
		return Result{Unit: unit, Manifest: manifest, Err: err}
	}

	manifest.Variant = p.Variant
	manifest.Status = model.RunStatusRunning
	r.writeManifest(sess, m, &manifest)
	r.record(events.EventRunStart, manifest.RunID, name, "", map[string]string{"variant": string(p.Variant)})
	p.OnStageStart = func(stage string) {
		r.record(events.EventStageStart, manifest.RunID, name, stage, nil)
	}

	records, runErr := r.engine.Run(ctx, p)
	manifest.Stages = records
	manifest.FinishedAt = time.Now().UTC()
	for _, rec := range records {
		switch rec.Status {
		case model.StageStatusCompleted:
			r.record(events.EventStageDone, manifest.RunID, name, rec.ID, nil)
		case model.StageStatusFailed:
			r.record(events.EventStageFailed, manifest.RunID, name, rec.ID,
				map[string]string{"reason": rec.Reason})
		}
	}

	if runErr != nil {
		manifest.Status = model.RunStatusFailed
		manifest.Error = runErr.Error()
		r.writeManifest(sess, m, &manifest)
		r.record(events.EventRunFailed, manifest.RunID, name, "", map[string]string{"error": runErr.Error()})
		r.log(LogLevelError, "unit_failed unit=%s error=%q", name, runErr)
		return Result{Unit: unit, Manifest: manifest, Err: runErr}
	}

	manifest.Status = model.RunStatusCompleted
	r.writeManifest(sess, m, &manifest)
	r.record(events.EventRunDone, manifest.RunID, name, "", nil)
	r.log(LogLevelInfo, "unit_done unit=%s stages=%d", name, len(records))
	return Result{Unit: unit, Manifest: manifest}
}

// RunBatch executes units over at most cfg.Batch.Jobs parallel worker
// slots. Units are mutually independent: a failing unit is recorded in its
// own manifest and does not cancel its siblings. The returned error only
// summarises how many units failed.
func (r *Runner) RunBatch(ctx context.Context, units []store.Unit) ([]Result, error) {
	results := make([]Result, len(units))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Batch.Jobs)
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			results[i] = r.RunUnit(ctx, unit)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.log(LogLevelInfo, "batch_done units=%d failed=%d", len(units), failed)
	if failed > 0 {
		return results, fmt.Errorf("%d of %d units failed", failed, len(units))
	}
	return results, nil
}

// DiscoverAndRun runs every unit found in the raw tree.
func (r *Runner) DiscoverAndRun(ctx context.Context) ([]Result, error) {
	units, err := r.layout.DiscoverUnits()
	if err != nil {
		return nil, fmt.Errorf("discover units: %w", err)
	}
	r.log(LogLevelInfo, "batch_start units=%d jobs=%d", len(units), r.cfg.Batch.Jobs)
	return r.RunBatch(ctx, units)
}

// writeManifest serialises manifest writes through the lock map: the
// manifest directory is shared across parallel workers.
func (r *Runner) writeManifest(sess model.Session, m model.Modality, manifest *model.RunManifest) {
	path := r.store.ManifestPath(sess, m)
	r.locks.Lock("manifests")
	defer r.locks.Unlock("manifests")
	if err := r.store.WriteYAML(path, manifest); err != nil {
		r.log(LogLevelError, "manifest_write_failed path=%s error=%q", path, err)
	}
}

func (r *Runner) record(event, runID, unit, stage string, details map[string]string) {
	if r.eventLog == nil {
		return
	}
	if err := r.eventLog.Record(event, runID, unit, stage, details); err != nil {
		r.log(LogLevelWarn, "event_write_failed event=%s error=%q", event, err)
	}
}

func (r *Runner) log(level LogLevel, format string, args ...any) {
	if level < r.logLevel {
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
	r.logger.Printf("%s %s batch: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

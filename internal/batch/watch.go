package batch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/store"
)

// Watcher dispatches newly arrived units. Filesystem events are debounced
// into a rescan; a periodic scan catches anything fsnotify missed. A unit
// is dispatched once per Watcher lifetime: rerunning a unit after new data
// lands mid-session is an operator decision, not an automatic one.
type Watcher struct {
	runner *Runner
	cfg    model.WatchConfig

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	seenMu sync.Mutex
	seen   map[string]bool

	scans chan struct{}
}

func NewWatcher(runner *Runner, cfg model.WatchConfig) *Watcher {
	return &Watcher{
		runner: runner,
		cfg:    cfg,
		seen:   make(map[string]bool),
		scans:  make(chan struct{}, 1),
	}
}

// Watch blocks until ctx is cancelled, running every unseen unit as it
// appears under the raw root.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.runner.layout.Root); err != nil {
		return err
	}
	w.runner.log(LogLevelInfo, "watch_start root=%s interval=%ds",
		w.runner.layout.Root, w.cfg.ScanIntervalSec)

	ticker := time.NewTicker(time.Duration(w.cfg.ScanIntervalSec) * time.Second)
	defer ticker.Stop()

	// Pick up anything already present.
	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.runner.log(LogLevelDebug, "watch_event op=%s file=%s", event.Op, event.Name)
				w.debounceScan()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.runner.log(LogLevelError, "watch_error error=%v", err)
		case <-ticker.C:
			w.scan(ctx)
		case <-w.scans:
			w.scan(ctx)
		}
	}
}

// debounceScan coalesces bursts of filesystem events into one rescan after
// the configured quiet period.
func (w *Watcher) debounceScan() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.cfg.DebounceSec*float64(time.Second)),
		func() {
			select {
			case w.scans <- struct{}{}:
			default:
			}
		},
	)
}

func (w *Watcher) scan(ctx context.Context) {
	units, err := w.runner.layout.DiscoverUnits()
	if err != nil {
		w.runner.log(LogLevelError, "watch_scan error=%q", err)
		return
	}

	fresh := w.unseen(units)
	if len(fresh) == 0 {
		return
	}
	w.runner.log(LogLevelInfo, "watch_dispatch units=%d", len(fresh))
	w.runner.RunBatch(ctx, fresh)
}

func (w *Watcher) unseen(units []store.Unit) []store.Unit {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()

	var fresh []store.Unit
	for _, u := range units {
		key := u.Session.Unit(u.Modality)
		if w.seen[key] {
			continue
		}
		w.seen[key] = true
		fresh = append(fresh, u)
	}
	return fresh
}

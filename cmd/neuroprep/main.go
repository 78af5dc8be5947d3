package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harmonize-mri/neuroprep/internal/atomicio"
	"github.com/harmonize-mri/neuroprep/internal/batch"
	"github.com/harmonize-mri/neuroprep/internal/events"
	"github.com/harmonize-mri/neuroprep/internal/lock"
	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/roi"
	"github.com/harmonize-mri/neuroprep/internal/setup"
	"github.com/harmonize-mri/neuroprep/internal/stats"
	"github.com/harmonize-mri/neuroprep/internal/store"
	"github.com/harmonize-mri/neuroprep/internal/volume"
)

const version = "1.0.0"

const configFileName = "neuroprep.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "batch":
		runBatch(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "tsnr":
		runTSNR(os.Args[2:])
	case "roistats":
		runROIStats(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("neuroprep %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`neuroprep - multi-site MRI preprocessing

Usage:
  neuroprep init [<dir>] [--name <project>]
  neuroprep run --subject <id> --session <id> --modality <t1|asl|dti>
  neuroprep batch [--jobs <n>]
  neuroprep watch
  neuroprep tsnr --subject <id> --session <id>
  neuroprep roistats --subject <id> --session <id>
  neuroprep status
  neuroprep version
  neuroprep help

Configuration is read from ` + configFileName + ` in the current directory
or the nearest ancestor.`)
}

// findConfig walks up from the working directory to the nearest
// neuroprep.yaml.
func findConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig() model.Config {
	path := findConfig()
	if path == "" {
		fmt.Fprintf(os.Stderr, "error: %s not found in this directory or any ancestor\n", configFileName)
		os.Exit(1)
	}

	var cfg model.Config
	if err := atomicio.ReadYAML(path, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyDefaults()

	// Relative roots are anchored at the config file's directory.
	base := filepath.Dir(path)
	if !filepath.IsAbs(cfg.Paths.RawRoot) {
		cfg.Paths.RawRoot = filepath.Join(base, cfg.Paths.RawRoot)
	}
	if !filepath.IsAbs(cfg.Paths.DerivativesRoot) {
		cfg.Paths.DerivativesRoot = filepath.Join(base, cfg.Paths.DerivativesRoot)
	}
	return cfg
}

func newRunner(cfg model.Config) (*batch.Runner, *events.Log) {
	logPath := filepath.Join(cfg.Paths.DerivativesRoot, "logs", "events.jsonl")
	eventLog, err := events.Open(logPath, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open event log: %v\n", err)
		os.Exit(1)
	}
	return batch.NewRunner(cfg, eventLog, os.Stderr), eventLog
}

// parseSession extracts the common --subject/--session pair.
func parseSession(args []string, usage string) (model.Session, []string) {
	var subject, sessionID string
	var rest []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--subject":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--subject requires a value")
				os.Exit(1)
			}
			i++
			subject = args[i]
		case "--session":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--session requires a value")
				os.Exit(1)
			}
			i++
			sessionID = args[i]
		default:
			rest = append(rest, args[i])
		}
	}

	if subject == "" || sessionID == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	sess, err := model.NewSession(subject, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid session: %v\n", err)
		os.Exit(1)
	}
	return sess, rest
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func runInit(args []string) {
	dir := "."
	var name string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			if args[i][0] == '-' {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
				fmt.Fprintln(os.Stderr, "usage: neuroprep init [<dir>] [--name <project>]")
				os.Exit(1)
			}
			dir = args[i]
		}
	}

	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized study workspace in %s\n", dir)
}

func runRun(args []string) {
	usage := "usage: neuroprep run --subject <id> --session <id> --modality <t1|asl|dti>"
	var modalityArg string
	sess, rest := parseSession(args, usage)

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--modality":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--modality requires a value")
				os.Exit(1)
			}
			i++
			modalityArg = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(1)
		}
	}
	m, err := model.ParseModality(modalityArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	runner, eventLog := newRunner(cfg)
	defer eventLog.Close()

	res := runner.RunUnit(signalContext(), store.Unit{Session: sess, Modality: m})
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", res.Err)
		os.Exit(1)
	}
	fmt.Printf("completed %s (run %s)\n", sess.Unit(m), res.Manifest.RunID)
}

func runBatch(args []string) {
	cfg := loadConfig()

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--jobs":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--jobs requires a value")
				os.Exit(1)
			}
			i++
			var jobs int
			if _, err := fmt.Sscanf(args[i], "%d", &jobs); err != nil || jobs < 1 {
				fmt.Fprintf(os.Stderr, "invalid --jobs value: %s\n", args[i])
				os.Exit(1)
			}
			cfg.Batch.Jobs = jobs
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: neuroprep batch [--jobs <n>]")
			os.Exit(1)
		}
	}

	fl := acquireBatchLock(cfg)
	defer fl.Unlock()

	runner, eventLog := newRunner(cfg)
	defer eventLog.Close()

	results, err := runner.DiscoverAndRun(signalContext())
	for _, res := range results {
		status := "completed"
		if res.Err != nil {
			status = "failed: " + res.Err.Error()
		}
		fmt.Printf("%s\t%s\n", res.Unit.Session.Unit(res.Unit.Modality), status)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: %v\n", err)
		os.Exit(1)
	}
}

func runWatch(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: neuroprep watch")
		os.Exit(1)
	}
	cfg := loadConfig()

	fl := acquireBatchLock(cfg)
	defer fl.Unlock()

	runner, eventLog := newRunner(cfg)
	defer eventLog.Close()

	w := batch.NewWatcher(runner, cfg.Watch)
	if err := w.Watch(signalContext()); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

func acquireBatchLock(cfg model.Config) *lock.FileLock {
	if err := os.MkdirAll(cfg.Paths.DerivativesRoot, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create derivatives root: %v\n", err)
		os.Exit(1)
	}
	fl := lock.NewFileLock(filepath.Join(cfg.Paths.DerivativesRoot, ".neuroprep.lock"))
	if err := fl.TryLock(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return fl
}

// runTSNR computes per-run tSNR maps and the per-session summary table for
// the functional runs of one session.
func runTSNR(args []string) {
	sess, rest := parseSession(args, "usage: neuroprep tsnr --subject <id> --session <id>")
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[0])
		os.Exit(1)
	}

	cfg := loadConfig()
	st := store.New(cfg.Paths.DerivativesRoot)
	engine := stats.NewEngine(os.Stderr)
	engine.ThresholdFraction = cfg.Stats.ThresholdFrac

	greyMatter, err := volume.ReadMask(st.Path("func", sess, "gm_mask.f32"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "grey-matter mask: %v\n", err)
		os.Exit(1)
	}
	regions := []stats.Region{{Name: stats.DefaultRegionNames[0], Mask: greyMatter}}
	for _, name := range stats.DefaultRegionNames[1:] {
		mask, err := volume.ReadMask(st.Path("func", sess, name+"_mask.f32"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "region mask %s: %v\n", name, err)
			os.Exit(1)
		}
		regions = append(regions, stats.Region{Name: name, Mask: mask})
	}

	var tables []stats.SummaryTable
	for run := 1; run <= cfg.Stats.RunsPerSession; run++ {
		series, err := volume.ReadTimeSeries(st.Path("func", sess, fmt.Sprintf("run-%d_bold.f32", run)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "run %d series: %v\n", run, err)
			os.Exit(1)
		}
		res, err := engine.TSNR(series)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run %d tsnr: %v\n", run, err)
			os.Exit(1)
		}
		mapPath := st.Path("func", sess, fmt.Sprintf("run-%d_tsnr.f32", run))
		if err := volume.WriteVolume(mapPath, res.Map); err != nil {
			fmt.Fprintf(os.Stderr, "run %d map: %v\n", run, err)
			os.Exit(1)
		}

		table, err := engine.RegionMeans(res, greyMatter, regions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run %d regions: %v\n", run, err)
			os.Exit(1)
		}
		tables = append(tables, table)
	}

	avg, err := stats.Average(tables)
	if err != nil {
		fmt.Fprintf(os.Stderr, "average: %v\n", err)
		os.Exit(1)
	}
	rendered := stats.RenderWide(tables, avg)
	summaryPath := st.Path("func", sess, "tsnr_summary.tsv")
	if err := st.Write(summaryPath, []byte(rendered)); err != nil {
		fmt.Fprintf(os.Stderr, "write summary: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(rendered)
}

// runROIStats applies the labeled atlas to the subject's skeletonised
// fractional-anisotropy map.
func runROIStats(args []string) {
	sess, rest := parseSession(args, "usage: neuroprep roistats --subject <id> --session <id>")
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[0])
		os.Exit(1)
	}

	cfg := loadConfig()
	st := store.New(cfg.Paths.DerivativesRoot)

	atlas, err := volume.ReadLabels(filepath.Join(cfg.Paths.DerivativesRoot, "roi", "atlas.f32"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "atlas: %v\n", err)
		os.Exit(1)
	}
	skeleton, err := volume.ReadMask(filepath.Join(cfg.Paths.DerivativesRoot, "roi", "skeleton_mask.f32"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "skeleton mask: %v\n", err)
		os.Exit(1)
	}
	faMap, err := volume.ReadVolume(st.Path("roi", sess, "FA_skeletonised.f32"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "skeletonised FA map: %v\n", err)
		os.Exit(1)
	}

	table, err := roi.NewExtractor(os.Stderr).Extract(atlas, faMap, skeleton)
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(1)
	}
	rendered, err := roi.Collate(
		[]string{sess.SubjectID + "_" + sess.SessionID},
		[]stats.SummaryTable{table})
	if err != nil {
		fmt.Fprintf(os.Stderr, "collate: %v\n", err)
		os.Exit(1)
	}
	outPath := st.Path("roi", sess, "fa_regions.tsv")
	if err := st.Write(outPath, []byte(rendered)); err != nil {
		fmt.Fprintf(os.Stderr, "write table: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(rendered)
}

func runStatus(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: neuroprep status")
		os.Exit(1)
	}
	cfg := loadConfig()
	runner, eventLog := newRunner(cfg)
	defer eventLog.Close()

	manifests, err := runner.Manifests()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(batch.RenderStatus(manifests))
}

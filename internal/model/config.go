package model

type Config struct {
	Project Project       `yaml:"project"`
	Paths   PathsConfig   `yaml:"paths"`
	Tools   ToolsConfig   `yaml:"tools"`
	Batch   BatchConfig   `yaml:"batch"`
	Watch   WatchConfig   `yaml:"watch"`
	Stats   StatsConfig   `yaml:"stats"`
	Logging LoggingConfig `yaml:"logging"`
}

type Project struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type PathsConfig struct {
	RawRoot         string `yaml:"raw_root"`         // BIDS-structured input tree
	DerivativesRoot string `yaml:"derivatives_root"` // output namespace, created lazily
}

type ToolsConfig struct {
	// TimeoutSec bounds each external operation invocation. A timed-out
	// operation is reported as a stage failure with reason "timeout".
	TimeoutSec int `yaml:"timeout_sec"`
}

type BatchConfig struct {
	Jobs int `yaml:"jobs"` // parallel worker slots for independent units
}

type WatchConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type StatsConfig struct {
	// ThresholdFrac is the minimum-signal fraction of the global maximum
	// mean signal. Fixed by the study protocol at 0.05.
	ThresholdFrac float64 `yaml:"threshold_frac"`
	// RunsPerSession is the number of functional runs averaged per session.
	RunsPerSession int `yaml:"runs_per_session"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills unset fields. Calibration constants are not here on
// purpose: they live in the acquisition tables and are not configurable.
func (c *Config) ApplyDefaults() {
	if c.Paths.RawRoot == "" {
		c.Paths.RawRoot = "rawdata"
	}
	if c.Paths.DerivativesRoot == "" {
		c.Paths.DerivativesRoot = "derivatives"
	}
	if c.Tools.TimeoutSec <= 0 {
		c.Tools.TimeoutSec = 4 * 60 * 60
	}
	if c.Batch.Jobs <= 0 {
		c.Batch.Jobs = 1
	}
	if c.Watch.DebounceSec <= 0 {
		c.Watch.DebounceSec = 2.0
	}
	if c.Watch.ScanIntervalSec <= 0 {
		c.Watch.ScanIntervalSec = 60
	}
	if c.Stats.ThresholdFrac <= 0 {
		c.Stats.ThresholdFrac = 0.05
	}
	if c.Stats.RunsPerSession <= 0 {
		c.Stats.RunsPerSession = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

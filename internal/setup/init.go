// Package setup handles study workspace initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harmonize-mri/neuroprep/internal/atomicio"
	"github.com/harmonize-mri/neuroprep/internal/model"
)

const configFileName = "neuroprep.yaml"

// Run scaffolds a study workspace under projectDir: the raw and derivatives
// roots plus a neuroprep.yaml filled with defaults. projectName defaults to
// the directory basename. Fails if a config already exists: init never
// overwrites a live study.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	configPath := filepath.Join(absDir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}

	cfg := model.Config{}
	cfg.ApplyDefaults()
	cfg.Project.Name = projectName

	dirs := []string{
		cfg.Paths.RawRoot,
		cfg.Paths.DerivativesRoot,
		filepath.Join(cfg.Paths.DerivativesRoot, "logs"),
		filepath.Join(cfg.Paths.DerivativesRoot, "manifests"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := atomicio.WriteYAML(configPath, cfg); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}
	return nil
}

package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/atomicio"
	"github.com/harmonize-mri/neuroprep/internal/model"
	"github.com/harmonize-mri/neuroprep/internal/pipeline"
	"github.com/harmonize-mri/neuroprep/internal/store"
)

// Manifests loads every run manifest under the derivatives root, sorted by
// unit name.
func (r *Runner) Manifests() ([]model.RunManifest, error) {
	dir := filepath.Join(r.store.Root(), "manifests")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}

	var manifests []model.RunManifest
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		var m model.RunManifest
		if err := atomicio.ReadYAML(filepath.Join(dir, entry.Name()), &m); err != nil {
			r.log(LogLevelWarn, "manifest_unreadable file=%s error=%q", entry.Name(), err)
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].SubjectID+manifests[i].SessionID+string(manifests[i].Modality) <
			manifests[j].SubjectID+manifests[j].SessionID+string(manifests[j].Modality)
	})
	return manifests, nil
}

// Complete reports whether a unit's full expected output set is present.
// Consumers must not trust any derivative of an incomplete unit.
func (r *Runner) Complete(unit store.Unit) (bool, error) {
	p, err := pipeline.Build(unit.Session, unit.Modality,
		pipeline.Env{Layout: r.layout, Store: r.store})
	if err != nil {
		return false, err
	}
	return r.engine.Complete(p), nil
}

// RenderStatus formats manifests as the status table printed by the CLI.
func RenderStatus(manifests []model.RunManifest) string {
	if len(manifests) == 0 {
		return "no runs recorded\n"
	}

	var b strings.Builder
	b.WriteString("UNIT\tVARIANT\tSTATUS\tSTAGES\tERROR\n")
	for _, m := range manifests {
		completed := 0
		for _, st := range m.Stages {
			if st.Status == model.StageStatusCompleted {
				completed++
			}
		}
		unit := fmt.Sprintf("%s_%s_%s", m.SubjectID, m.SessionID, m.Modality)
		fmt.Fprintf(&b, "%s\t%s\t%s\t%d/%d\t%s\n",
			unit, m.Variant, m.Status, completed, len(m.Stages), m.Error)
	}
	return b.String()
}

// Package pipeline builds and executes per-modality preprocessing pipelines.
// A pipeline is a strictly linear stage list selected once per session by the
// scanner-type router; execution is fail-fast with no retries.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/harmonize-mri/neuroprep/internal/tool"
)

// Stage is one named unit of work. It declares the artifacts it reads and
// writes; the engine enforces both sides. Exactly one of Invoke or Internal
// is set: most stages bind an external operation, the few that build text
// parameter files or copy maps run in-process.
type Stage struct {
	ID string

	// Inputs are artifact locations that must exist and be non-empty before
	// the stage may run. They are either outputs of earlier stages or raw
	// files supplied by the BIDS tree.
	Inputs []string

	// Outputs are the locations the stage must have produced, non-empty,
	// for its success predicate to hold.
	Outputs []string

	// OwnedDirs lists directories the bound operation creates itself and
	// refuses to start when they already exist (recon-all's subject
	// directory, eddy_quad's -o directory). The engine removes stale copies
	// before invoking instead of pre-creating them, so reruns stay
	// idempotent.
	OwnedDirs []string

	Invoke   *tool.Invocation
	Internal func(ctx context.Context) error
}

// ownsOutput reports whether out lies inside a directory the bound
// operation creates itself.
func (st Stage) ownsOutput(out string) bool {
	for _, dir := range st.OwnedDirs {
		if out == dir || strings.HasPrefix(out, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

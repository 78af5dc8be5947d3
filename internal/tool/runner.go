// Package tool invokes the external image-processing collaborators. The
// operations themselves are opaque; this package only builds their argument
// lists, enforces a wall-clock budget, and reports exit status.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"
)

// Invocation binds a stage to one external operation. Args carry the fixed
// parameter template; the values encode calibrated physical constants and
// must be reproduced exactly.
type Invocation struct {
	Tool string
	Args []string
	Dir  string // working directory; empty means the caller's
}

func (inv Invocation) String() string {
	return inv.Tool + " " + strings.Join(inv.Args, " ")
}

// ErrTimeout marks an invocation that exceeded its wall-clock budget. The
// pipeline engine maps it to a stage failure with reason "timeout".
var ErrTimeout = errors.New("operation timed out")

// Runner executes external operations. The production implementation shells
// out; tests substitute a double that fabricates outputs.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExecRunner runs invocations as blocking subprocesses with an enforced
// timeout.
type ExecRunner struct {
	Timeout time.Duration
	logger  *log.Logger
}

// NewExecRunner creates a runner whose log lines go to w.
func NewExecRunner(timeout time.Duration, w io.Writer) *ExecRunner {
	return &ExecRunner{
		Timeout: timeout,
		logger:  log.New(w, "", 0),
	}
}

// stderrTailBytes bounds how much collaborator stderr is kept for the
// failure reason.
const stderrTailBytes = 512

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	r.log("tool_start tool=%s args=%q", inv.Tool, strings.Join(inv.Args, " "))

	cmd := exec.CommandContext(ctx, inv.Tool, inv.Args...)
	cmd.Dir = inv.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	if ctx.Err() == context.DeadlineExceeded {
		r.log("tool_timeout tool=%s elapsed=%s", inv.Tool, elapsed)
		return fmt.Errorf("%s after %s: %w", inv.Tool, elapsed, ErrTimeout)
	}
	if err != nil {
		tail := stderrTail(stderr.Bytes())
		r.log("tool_failure tool=%s elapsed=%s error=%v", inv.Tool, elapsed, err)
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", inv.Tool, err, tail)
		}
		return fmt.Errorf("%s: %w", inv.Tool, err)
	}

	r.log("tool_success tool=%s elapsed=%s", inv.Tool, elapsed)
	return nil
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTailBytes {
		s = "..." + s[len(s)-stderrTailBytes:]
	}
	return s
}

func (r *ExecRunner) log(format string, args ...any) {
	if r.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s INFO tool: %s", time.Now().Format(time.RFC3339), msg)
}

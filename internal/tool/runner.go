package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"pgconvert/internal/logging"
	"pgconvert/internal/pipeerrors"
)

// Runner executes external tools. Every invocation blocks until the tool
// exits and reports its exit status as an error; stages compose sequential
// Run/RunTo calls instead of shell pipes so no partial failure is masked.
type Runner interface {
	// Run executes a tool and discards its stdout
	Run(ctx context.Context, name string, args ...string) error
	// RunTo executes a tool with stdout streamed to w
	RunTo(ctx context.Context, w io.Writer, name string, args ...string) error
}

// ExecRunner runs tools via os/exec
type ExecRunner struct {
	logger *logging.Logger
	// Env entries appended to the tool's environment, e.g. PGPASSWORD
	Env []string
}

// NewExecRunner creates a runner that logs every invocation
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ExecRunner{logger: logger}
}

// Run executes a tool and discards its stdout
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return r.RunTo(ctx, io.Discard, name, args...)
}

// RunTo executes a tool with stdout streamed to w. Stderr is captured and
// included in the returned error on a non-zero exit.
func (r *ExecRunner) RunTo(ctx context.Context, w io.Writer, name string, args ...string) error {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%s: %w: %s", name, err, msg)
		} else {
			err = fmt.Errorf("%s: %w", name, err)
		}
	}
	r.logger.LogToolExecution(name, args, time.Since(start), err)
	return err
}

// CheckDependencies verifies that every required external tool is resolvable
// on PATH. Called once at startup, before any side effect.
func CheckDependencies(names ...string) error {
	var missing []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return pipeerrors.NewMissingDependencyError(
			fmt.Sprintf("required external tools not found: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external tool and returns its stdout.  Tests inject a
// fake; production code uses ExecRunner.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunError reports a failed tool invocation together with its stderr.
type RunError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RunError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
}

func (e *RunError) Unwrap() error { return e.Err }

// ExecRunner runs tools with os/exec.  Stderr is captured separately and
// attached to the error on failure.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, &RunError{
			Command: filepath.Base(name) + " " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// workdir is a scratch directory holding one input and one output file.
// The tools need seekable files: several containers keep their index at
// the end of the stream.
type workdir struct {
	dir    string
	input  string
	output string
}

func newWorkdir(essence []byte) (*workdir, error) {
	dir, err := os.MkdirTemp("", "asset-ffmpeg-")
	if err != nil {
		return nil, err
	}
	w := &workdir{
		dir:    dir,
		input:  filepath.Join(dir, "input"),
		output: filepath.Join(dir, "output"),
	}
	if err := os.WriteFile(w.input, essence, 0o600); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// file writes an auxiliary input next to the main one.
func (w *workdir) file(name string, data []byte) (string, error) {
	path := filepath.Join(w.dir, name)
	return path, os.WriteFile(path, data, 0o600)
}

func (w *workdir) result() ([]byte, error) {
	data, err := os.ReadFile(w.output)
	if err != nil {
		return nil, fmt.Errorf("read tool output: %w", err)
	}
	return data, nil
}

func (w *workdir) Close() { _ = os.RemoveAll(w.dir) }

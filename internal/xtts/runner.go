package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner failure codes. The runner reports exactly one of these in its
// stderr JSON document so callers can classify without parsing prose.
const (
	codeLoad    = "load"    // model files missing, download failed, init failed
	codeOOM     = "oom"     // accelerator out of memory
	codeVoice   = "voice"   // reference voice sample missing or malformed
	codeBackend = "backend" // any other runtime failure
)

// runnerError is the structured failure report parsed from the runner's
// stderr, e.g. {"code":"oom","message":"CUDA out of memory"}.
type runnerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	raw string
}

func (e *runnerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("runner error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("runner failed: %s", e.raw)
}

// runRunner executes the runner with stdin pre-configured before start,
// which avoids stdin races with short-lived subprocesses. Returns stdout
// bytes on success.
func runRunner(ctx context.Context, runner, input string, args []string, timeout time.Duration) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, runner, args...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("runner timed out after %v", timeout)
		}
		return nil, fmt.Errorf("runner canceled: %w", ctxErr)
	}

	if err != nil {
		return nil, parseRunnerFailure(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// parseRunnerFailure extracts the structured error report from stderr. The
// report is the last non-empty line; anything before it is runner noise
// (progress bars, framework warnings).
func parseRunnerFailure(runErr error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("runner failed: %w", runErr)
	}

	lines := strings.Split(stderr, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var rerr runnerError
	if err := json.Unmarshal([]byte(last), &rerr); err == nil && rerr.Code != "" {
		rerr.raw = last
		return &rerr
	}
	return &runnerError{raw: stderr}
}

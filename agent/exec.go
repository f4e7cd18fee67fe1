package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// streamLineLimit bounds a single NDJSON line. CLI result lines can
// carry whole file diffs, so the default 64K scanner buffer is too small.
const streamLineLimit = 4 * 1024 * 1024

// Runner executes one CLI provider as a subprocess.
type Runner interface {
	// Run executes the CLI and blocks until it finishes.
	Run(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration) (*Response, error)
	// Stream executes the CLI in streaming mode, invoking emit for
	// every parsed event including a terminal result event.
	Stream(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration, emit func(Event)) error
}

// dockerWrap rewrites argv for in-container execution when a container
// is configured. The second return is the working directory to use on
// the host; empty means inherit (the container owns the cwd).
func dockerWrap(argv []string, container string, chatID int64, workingDir string) ([]string, string) {
	if container == "" {
		return argv, workingDir
	}
	slog.Debug("docker wrap", "container", container)
	wrapped := []string{
		"docker", "exec",
		"-e", fmt.Sprintf("DUCTOR_CHAT_ID=%d", chatID),
		container,
	}
	return append(wrapped, argv...), ""
}

type execResult struct {
	stdout     string
	stderr     string
	returnCode int
	timedOut   bool
	durationMS int64
}

// runCapture starts argv, registers it for abort handling, and captures
// both output streams until exit or timeout.
func runCapture(ctx context.Context, registry *Registry, chatID int64, label string, argv []string, dir string, timeout time.Duration) (*execResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = sigtermGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", argv[0])
	}

	var tracked *Tracked
	if registry != nil {
		tracked = registry.Register(chatID, cmd, label)
		defer registry.Unregister(tracked)
	}

	waitErr := cmd.Wait()
	res := &execResult{
		stdout:     stdout.String(),
		stderr:     stderr.String(),
		durationMS: time.Since(started).Milliseconds(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.timedOut = true
		return res, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.returnCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, errors.Wrapf(waitErr, "wait %s", argv[0])
	}
	return res, nil
}

// streamCapture starts argv and feeds every stdout line through parse,
// emitting the resulting events. Stderr is drained concurrently. After
// the process exits, finish decides which terminal events to emit; it
// receives the exit code, truncated stderr and whether the run timed out.
func streamCapture(
	ctx context.Context,
	registry *Registry,
	chatID int64,
	label string,
	argv []string,
	dir string,
	timeout time.Duration,
	parse func(string) []Event,
	emit func(Event),
	finish func(returnCode int, stderrText string, timedOut bool) []Event,
) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = sigtermGrace

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", argv[0])
	}

	var tracked *Tracked
	if registry != nil {
		tracked = registry.Register(chatID, cmd, label)
		defer registry.Unregister(tracked)
	}

	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), streamLineLimit)
	for scanner.Scan() {
		for _, ev := range parse(scanner.Text()) {
			emit(ev)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	stderrText := truncateStderr(stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		slog.Warn("cli stream timed out", "label", label, "timeout", timeout)
		for _, ev := range finish(0, stderrText, true) {
			emit(ev)
		}
		return nil
	}
	if scanErr != nil && !errors.Is(scanErr, io.ErrClosedPipe) {
		return errors.Wrap(scanErr, "read stream")
	}

	returnCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			returnCode = exitErr.ExitCode()
		} else {
			return errors.Wrapf(waitErr, "wait %s", argv[0])
		}
	}
	for _, ev := range finish(returnCode, stderrText, false) {
		emit(ev)
	}
	return nil
}

// addOpt appends a flag and value when the value is non-empty.
func addOpt(argv []string, flag, value string) []string {
	if value == "" {
		return argv
	}
	return append(argv, flag, value)
}

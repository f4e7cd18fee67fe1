// Package infra holds process-level plumbing: the PID lockfile and the
// restart sentinel protocol shared with the supervisor.
package infra

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hrygo/ductor/internal/errs"
)

const (
	killWait     = 5 * time.Second
	killInterval = 200 * time.Millisecond
)

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

func killAndWait(pid int) {
	slog.Info("stopping existing instance", "pid", pid)
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("failed to terminate existing instance", "pid", pid, "error", err)
		return
	}
	deadline := time.Now().Add(killWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			slog.Info("previous instance exited cleanly", "pid", pid)
			return
		}
		time.Sleep(killInterval)
	}
	slog.Warn("existing instance did not exit, force killing", "pid", pid)
	_ = proc.Signal(syscall.SIGKILL)
	time.Sleep(killInterval)
}

// AcquireLock writes the PID file after ensuring no other instance is
// running. With killExisting, a live instance is terminated first;
// otherwise an error is returned.
func AcquireLock(pidPath string, killExisting bool) error {
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return errs.Wrap(err, errs.KindInfra, "failed to create pid dir")
	}

	if raw, err := os.ReadFile(pidPath); err == nil {
		existing, parseErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if parseErr == nil && processAlive(existing) {
			if !killExisting {
				return errs.New(errs.KindInfra,
					"another instance is already running (pid=%d); kill it first or delete %s if stale",
					existing, pidPath)
			}
			killAndWait(existing)
		} else {
			slog.Warn("stale pid file found, overwriting", "pid", existing)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(pidPath), ".pid-*.tmp")
	if err != nil {
		return errs.Wrap(err, errs.KindInfra, "failed to create pid temp file")
	}
	if _, err := tmp.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errs.Wrap(err, errs.KindInfra, "failed to write pid file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(err, errs.KindInfra, "failed to close pid file")
	}
	if err := os.Rename(tmp.Name(), pidPath); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(err, errs.KindInfra, "failed to move pid file into place")
	}
	slog.Info("pid lock acquired", "pid", os.Getpid())
	return nil
}

// ReleaseLock removes the PID file if it belongs to this process.
func ReleaseLock(pidPath string) {
	raw, err := os.ReadFile(pidPath)
	if err != nil {
		return
	}
	stored, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		os.Remove(pidPath)
		return
	}
	if stored == os.Getpid() {
		os.Remove(pidPath)
		slog.Info("pid lock released")
	} else {
		slog.Debug("pid file belongs to another process, keeping", "pid", stored)
	}
}

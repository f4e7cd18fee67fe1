package main

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/hrygo/ductor/infra"
	"github.com/hrygo/ductor/internal/profile"
)

const (
	// A child that exits this quickly is considered crashed rather
	// than restarted on purpose.
	fastCrashWindow = 5 * time.Second
	maxBackoff      = 60 * time.Second
)

// runSupervisor re-executes the binary as a supervised child and
// restarts it whenever it exits with infra.ExitRestart. Any other exit
// code is passed through. Crash loops back off exponentially.
func runSupervisor(p *profile.Profile) int {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, terminationSignals...)

	exe, err := os.Executable()
	if err != nil {
		slog.Error("cannot resolve own executable", "error", err)
		return 1
	}

	backoff := time.Second
	for {
		child := exec.Command(exe, os.Args[1:]...)
		child.Env = append(os.Environ(), "DUCTOR_SUPERVISOR=1")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Stdin = os.Stdin

		started := time.Now()
		if err := child.Start(); err != nil {
			slog.Error("failed to start child", "error", err)
			return 1
		}

		done := make(chan error, 1)
		go func() { done <- child.Wait() }()

		var exitCode int
		select {
		case sig := <-signals:
			slog.Info("supervisor received signal, forwarding", "signal", sig)
			_ = child.Process.Signal(sig)
			<-done
			return 0
		case err := <-done:
			exitCode = exitCodeOf(err)
		}

		if exitCode != infra.ExitRestart {
			return exitCode
		}
		if time.Since(started) < fastCrashWindow {
			slog.Warn("child restarted too quickly, backing off", "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = time.Second
		}
		slog.Info("restarting child process")
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

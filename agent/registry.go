package agent

import (
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	sigtermGrace = 2 * time.Second
	reapTimeout  = 5 * time.Second
)

// Tracked is a registered subprocess with metadata. The owning runner
// closes done after the process has been waited on.
type Tracked struct {
	cmd          *exec.Cmd
	chatID       int64
	label        string
	registeredAt time.Time
	done         chan struct{}
}

func (t *Tracked) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Tracked) pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Registry tracks every live CLI subprocess, keyed by chat id. It is
// the single place /stop and stale-process sweeps act on.
type Registry struct {
	mu        sync.Mutex
	processes map[int64][]*Tracked
	aborted   map[int64]bool
}

// NewRegistry returns an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[int64][]*Tracked),
		aborted:   make(map[int64]bool),
	}
}

// Register tracks a started subprocess and returns its handle.
func (r *Registry) Register(chatID int64, cmd *exec.Cmd, label string) *Tracked {
	tracked := &Tracked{
		cmd:          cmd,
		chatID:       chatID,
		label:        label,
		registeredAt: time.Now(),
		done:         make(chan struct{}),
	}
	r.mu.Lock()
	r.processes[chatID] = append(r.processes[chatID], tracked)
	r.mu.Unlock()
	slog.Debug("process registered", "chat", chatID, "label", label, "pid", tracked.pid())
	return tracked
}

// Unregister removes a tracked process and marks it exited. Idempotent.
func (r *Registry) Unregister(tracked *Tracked) {
	if tracked == nil {
		return
	}
	select {
	case <-tracked.done:
	default:
		close(tracked.done)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.processes[tracked.chatID]
	for i, e := range entries {
		if e == tracked {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.processes, tracked.chatID)
	} else {
		r.processes[tracked.chatID] = entries
	}
}

// KillAll kills every active process for the chat and sets its abort
// flag. Returns the number of processes signalled.
func (r *Registry) KillAll(chatID int64) int {
	r.mu.Lock()
	r.aborted[chatID] = true
	entries := r.processes[chatID]
	delete(r.processes, chatID)
	r.mu.Unlock()
	return killProcesses(entries)
}

// WasAborted reports whether the chat was aborted since the last clear.
func (r *Registry) WasAborted(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted[chatID]
}

// ClearAbort clears the abort flag for the chat.
func (r *Registry) ClearAbort(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aborted, chatID)
}

// HasActive reports whether the chat has at least one live subprocess.
func (r *Registry) HasActive(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.processes[chatID] {
		if !e.exited() {
			return true
		}
	}
	return false
}

// KillStale kills processes whose wall-clock age exceeds maxAge.
// Returns the number killed.
func (r *Registry) KillStale(maxAge time.Duration) int {
	now := time.Now()
	var stale []*Tracked
	r.mu.Lock()
	for _, entries := range r.processes {
		for _, tracked := range entries {
			if tracked.exited() {
				continue
			}
			age := now.Sub(tracked.registeredAt)
			if age > maxAge {
				slog.Warn("stale process",
					"pid", tracked.pid(),
					"label", tracked.label,
					"chat", tracked.chatID,
					"age", age.Round(time.Second))
				stale = append(stale, tracked)
			}
		}
	}
	r.mu.Unlock()
	if len(stale) == 0 {
		return 0
	}
	killed := killProcesses(stale)
	for _, tracked := range stale {
		r.Unregister(tracked)
	}
	return killed
}

// killProcesses terminates, waits out the grace period, then kills and
// reaps. Returns the number of processes signalled.
func killProcesses(entries []*Tracked) int {
	signalled := 0
	for _, tracked := range entries {
		if tracked.exited() || tracked.cmd.Process == nil {
			continue
		}
		if err := terminate(tracked.cmd); err == nil {
			slog.Debug("terminate sent", "pid", tracked.pid(), "label", tracked.label)
			signalled++
		}
	}
	if signalled == 0 {
		return 0
	}
	waitForExit(entries, sigtermGrace)
	for _, tracked := range entries {
		if tracked.exited() || tracked.cmd.Process == nil {
			continue
		}
		if err := tracked.cmd.Process.Kill(); err == nil {
			slog.Debug("kill sent", "pid", tracked.pid(), "label", tracked.label)
		}
	}
	waitForExit(entries, reapTimeout)
	for _, tracked := range entries {
		if !tracked.exited() {
			slog.Warn("process did not exit after kill", "pid", tracked.pid())
		}
	}
	slog.Info("killed cli processes", "count", signalled)
	return signalled
}

func waitForExit(entries []*Tracked, timeout time.Duration) {
	deadline := time.After(timeout)
	for _, tracked := range entries {
		select {
		case <-tracked.done:
		case <-deadline:
			return
		}
	}
}

package webhook

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/internal/errs"
)

type hooksFile struct {
	Hooks []*Hook `json:"hooks"`
}

// Manager owns the hook registry and its JSON persistence. The
// observer watches the file for external edits and calls Reload.
type Manager struct {
	mu    sync.Mutex
	path  string
	hooks []*Hook
}

func NewManager(path string) *Manager {
	m := &Manager{path: path}
	m.hooks = m.load()
	return m
}

// Add registers a new hook. The ID must be unique.
func (m *Manager) Add(hook *Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hooks {
		if h.ID == hook.ID {
			return errs.New(errs.KindWebhook, "hook %q already exists", hook.ID)
		}
	}
	if hook.CreatedAt == "" {
		hook.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	hook.normalize()
	m.hooks = append(m.hooks, hook)
	if err := m.save(); err != nil {
		return err
	}
	slog.Info("webhook added", "hook", hook.ID, "mode", hook.Mode)
	return nil
}

// Remove deletes a hook by ID. Returns false when not found.
func (m *Manager) Remove(hookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.hooks[:0:0]
	for _, h := range m.hooks {
		if h.ID != hookID {
			kept = append(kept, h)
		}
	}
	if len(kept) == len(m.hooks) {
		return false, nil
	}
	m.hooks = kept
	if err := m.save(); err != nil {
		return false, err
	}
	slog.Info("webhook removed", "hook", hookID)
	return true, nil
}

// List returns copies of all hooks.
func (m *Manager) List() []*Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		copied := *h
		out = append(out, &copied)
	}
	return out
}

// Get returns a copy of the hook, or nil.
func (m *Manager) Get(hookID string) *Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.find(hookID); h != nil {
		copied := *h
		return &copied
	}
	return nil
}

// Update applies fn to the stored hook. Returns false when not found.
func (m *Manager) Update(hookID string, fn func(*Hook)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(hookID)
	if h == nil {
		return false, nil
	}
	fn(h)
	return true, m.save()
}

// RecordTrigger increments the trigger counter and stores the last
// error status ("" clears it).
func (m *Manager) RecordTrigger(hookID, errStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(hookID)
	if h == nil {
		return nil
	}
	h.TriggerCount++
	h.LastTriggeredAt = time.Now().UTC().Format(time.RFC3339)
	h.LastError = errStatus
	return m.save()
}

// Reload re-reads hooks from disk.
func (m *Manager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = m.load()
}

func (m *Manager) find(hookID string) *Hook {
	for _, h := range m.hooks {
		if h.ID == hookID {
			return h
		}
	}
	return nil
}

func (m *Manager) load() []*Hook {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}
	var file hooksFile
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Warn("corrupt webhooks file", "path", m.path, "error", err)
		return nil
	}
	for _, h := range file.Hooks {
		h.normalize()
	}
	return file.Hooks
}

func (m *Manager) save() error {
	if err := config.WriteJSONAtomic(m.path, hooksFile{Hooks: m.hooks}); err != nil {
		return errs.Wrap(err, errs.KindWebhook, "failed to save webhooks")
	}
	return nil
}

// Package cron schedules agent tasks from a JSON job file. The observer
// watches the file for changes and runs each job in a fresh CLI session
// inside its task folder.
package cron

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/internal/errs"
)

// Job is one scheduled task definition.
type Job struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Schedule         string `json:"schedule"`
	TaskFolder       string `json:"task_folder"`
	AgentInstruction string `json:"agent_instruction"`
	Enabled          bool   `json:"enabled"`
	Timezone         string `json:"timezone,omitempty"`
	CreatedAt        string `json:"created_at"`
	LastRunAt        string `json:"last_run_at,omitempty"`
	LastRunStatus    string `json:"last_run_status,omitempty"`

	// Per-task execution overrides. Empty means "use global config".
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	CLIParameters   []string `json:"cli_parameters,omitempty"`

	// Quiet hours. nil means "use global heartbeat quiet window".
	QuietStart *int `json:"quiet_start,omitempty"`
	QuietEnd   *int `json:"quiet_end,omitempty"`

	// Jobs sharing a dependency run sequentially.
	Dependency string `json:"dependency,omitempty"`
}

type jobsFile struct {
	Jobs []*Job `json:"jobs"`
}

// Store manages cron jobs with atomic JSON persistence. Scheduling is
// the Observer's responsibility; the store holds data only.
type Store struct {
	mu   sync.Mutex
	path string
	jobs []*Job
}

// NewStore loads the job file at path, tolerating a missing or corrupt
// file by starting empty.
func NewStore(path string) *Store {
	s := &Store{path: path}
	s.jobs = s.load()
	return s
}

// Add appends a new job. The id must be unique.
func (s *Store) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.ID == job.ID {
			return errs.New(errs.KindScheduler, "job %q already exists", job.ID)
		}
	}
	if job.CreatedAt == "" {
		job.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.jobs = append(s.jobs, job)
	if err := s.save(); err != nil {
		return err
	}
	slog.Info("cron job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Remove deletes a job by id. Returns false when not found.
func (s *Store) Remove(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0:0]
	for _, job := range s.jobs {
		if job.ID != jobID {
			kept = append(kept, job)
		}
	}
	if len(kept) == len(s.jobs) {
		return false, nil
	}
	s.jobs = kept
	if err := s.save(); err != nil {
		return false, err
	}
	slog.Info("cron job removed", "id", jobID)
	return true, nil
}

// List returns a snapshot of all jobs.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, len(s.jobs))
	for i, job := range s.jobs {
		copied := *job
		out[i] = &copied
	}
	return out
}

// Get returns a job by id, nil when absent.
func (s *Store) Get(jobID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == jobID {
			copied := *job
			return &copied
		}
	}
	return nil
}

// SetEnabled flips one job's enabled flag. Returns false when the job
// is missing or already in the requested state.
func (s *Store) SetEnabled(jobID string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID != jobID {
			continue
		}
		if job.Enabled == enabled {
			return false, nil
		}
		job.Enabled = enabled
		return true, s.save()
	}
	return false, nil
}

// SetAllEnabled sets every job's enabled flag. Returns true when at
// least one job changed.
func (s *Store) SetAllEnabled(enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, job := range s.jobs {
		if job.Enabled != enabled {
			job.Enabled = enabled
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	return true, s.save()
}

// UpdateRunStatus records the outcome of a job execution.
func (s *Store) UpdateRunStatus(jobID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID != jobID {
			continue
		}
		job.LastRunAt = time.Now().UTC().Format(time.RFC3339)
		job.LastRunStatus = status
		return s.save()
	}
	return nil
}

// Reload re-reads jobs from disk. Called by the observer on file change.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = s.load()
}

func (s *Store) load() []*Job {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var file jobsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Warn("corrupt cron jobs file", "path", s.path, "error", err)
		return nil
	}
	for _, job := range file.Jobs {
		slog.Debug("cron job loaded", "id", job.ID, "title", job.Title, "enabled", job.Enabled)
	}
	return file.Jobs
}

func (s *Store) save() error {
	if err := config.WriteJSONAtomic(s.path, jobsFile{Jobs: s.jobs}); err != nil {
		return errs.Wrap(err, errs.KindScheduler, "failed to persist cron jobs")
	}
	return nil
}

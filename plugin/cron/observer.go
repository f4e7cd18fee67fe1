package cron

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/metrics"
	"github.com/hrygo/ductor/store"
	"github.com/hrygo/ductor/workspace"
)

const pollInterval = 5 * time.Second

// ResultHandler receives the outcome of each job run for delivery to
// the user.
type ResultHandler func(title, result, status string)

// Observer watches the cron jobs file and fires enabled jobs on their
// schedules. File edits take effect within the poll interval without a
// restart.
type Observer struct {
	store    *Store
	cfg      *config.Config
	paths    *workspace.Paths
	deps     *DependencyQueue
	runlog   *store.RunLog
	exporter *metrics.Exporter

	mu        sync.Mutex
	timers    []*time.Timer
	gen       int
	lastMtime time.Time
	onResult  ResultHandler
}

// NewObserver wires a store, config and dependency queue. The runlog
// may be nil.
func NewObserver(jobs *Store, cfg *config.Config, paths *workspace.Paths, deps *DependencyQueue, runlog *store.RunLog) *Observer {
	return &Observer{store: jobs, cfg: cfg, paths: paths, deps: deps, runlog: runlog}
}

// SetResultHandler registers the delivery callback. Must be called
// before Run.
func (o *Observer) SetResultHandler(h ResultHandler) {
	o.onResult = h
}

// SetMetrics attaches the metrics exporter. May stay nil.
func (o *Observer) SetMetrics(e *metrics.Exporter) {
	o.exporter = e
}

// Run blocks until ctx is cancelled, polling the jobs file for changes
// and keeping per-job timers scheduled.
func (o *Observer) Run(ctx context.Context) error {
	o.refreshMtime()
	o.reschedule(ctx)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.cancelTimers()
			return ctx.Err()
		case <-ticker.C:
			if o.fileChanged() {
				slog.Info("cron jobs file changed, rescheduling")
				o.store.Reload()
				o.reschedule(ctx)
			}
		}
	}
}

// RescheduleNow reloads jobs and rebuilds all timers immediately.
// Called after programmatic job edits such as the selector toggles.
func (o *Observer) RescheduleNow(ctx context.Context) {
	o.refreshMtime()
	o.store.Reload()
	o.reschedule(ctx)
}

func (o *Observer) fileChanged() bool {
	info, err := os.Stat(o.paths.CronJobsPath())
	if err != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if info.ModTime().Equal(o.lastMtime) {
		return false
	}
	o.lastMtime = info.ModTime()
	return true
}

func (o *Observer) refreshMtime() {
	info, err := os.Stat(o.paths.CronJobsPath())
	if err != nil {
		return
	}
	o.mu.Lock()
	o.lastMtime = info.ModTime()
	o.mu.Unlock()
}

func (o *Observer) reschedule(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = nil
	gen := o.gen
	for _, job := range o.store.List() {
		if !job.Enabled {
			continue
		}
		o.scheduleJobLocked(ctx, job, gen)
	}
}

func (o *Observer) cancelTimers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = nil
}

func (o *Observer) scheduleJobLocked(ctx context.Context, job *Job, gen int) {
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		slog.Warn("skipping cron job with bad schedule", "id", job.ID, "schedule", job.Schedule, "error", err)
		return
	}
	loc := o.jobLocation(job)
	next := sched.Next(time.Now().In(loc))
	if next.IsZero() {
		slog.Warn("cron schedule never fires", "id", job.ID, "schedule", job.Schedule)
		return
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	slog.Debug("cron job scheduled", "id", job.ID, "next", next.Format(time.RFC3339), "in", delay.Round(time.Second))
	jobID := job.ID
	timer := time.AfterFunc(delay, func() {
		o.mu.Lock()
		stale := gen != o.gen
		o.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}
		o.fire(ctx, jobID, gen)
	})
	o.timers = append(o.timers, timer)
}

func (o *Observer) fire(ctx context.Context, jobID string, gen int) {
	job := o.store.Get(jobID)
	if job != nil && job.Enabled {
		o.ExecuteJob(ctx, job)
	}
	o.mu.Lock()
	if gen == o.gen && job != nil && job.Enabled {
		o.scheduleJobLocked(ctx, job, gen)
	}
	o.mu.Unlock()
}

func (o *Observer) jobLocation(job *Job) *time.Location {
	if job.Timezone != "" {
		if loc, err := time.LoadLocation(job.Timezone); err == nil {
			return loc
		}
		slog.Warn("invalid job timezone, using global", "id", job.ID, "tz", job.Timezone)
	}
	return config.ResolveTimezone(o.cfg.UserTimezone)
}

// ExecuteJob runs one job now, honoring its dependency queue and quiet
// window, and records the outcome.
func (o *Observer) ExecuteJob(ctx context.Context, job *Job) {
	release, err := o.deps.Acquire(ctx, job.Dependency, job.ID)
	if err != nil {
		return
	}
	defer release()

	if o.inQuietWindow(job) {
		slog.Info("cron job skipped, quiet hours", "id", job.ID)
		return
	}

	dir := TaskFolderPath(o.paths.CronTasksDir(), job.TaskFolder)
	if dir == "" {
		slog.Warn("cron task folder missing", "id", job.ID, "folder", job.TaskFolder)
		o.recordStatus(job, "error:folder_missing")
		return
	}

	ex, err := agent.ResolveExecution(o.cfg, dir, &agent.Overrides{
		Provider:        job.Provider,
		Model:           job.Model,
		ReasoningEffort: job.ReasoningEffort,
		CLIParameters:   job.CLIParameters,
	})
	if err != nil {
		slog.Error("cron job config invalid", "id", job.ID, "error", err)
		o.recordStatus(job, "error:config")
		return
	}

	prompt := EnrichInstruction(job.AgentInstruction, job.TaskFolder)
	slog.Info("cron job starting", "id", job.ID, "title", job.Title, "provider", ex.Provider, "model", ex.Model)

	started := time.Now()
	res := RunTask(ctx, ex, prompt, dir, o.cfg.CLITimeout())
	elapsed := time.Since(started)
	slog.Info("cron job finished", "id", job.ID, "status", res.Status, "elapsed", elapsed.Round(time.Millisecond))

	o.recordStatus(job, res.Status)
	if o.runlog != nil {
		rec := &store.RunRecord{
			Origin:     store.RunOriginCron,
			Provider:   ex.Provider,
			Model:      ex.Model,
			Status:     res.Status,
			CostUSD:    res.CostUSD,
			Tokens:     res.Usage.Total(),
			DurationMs: elapsed.Milliseconds(),
			StartedAt:  started.UTC(),
		}
		if err := o.runlog.Record(ctx, rec); err != nil {
			slog.Warn("run log write failed", "error", err)
		}
	}
	if o.onResult != nil && res.Text != "" {
		o.onResult(job.Title, res.Text, res.Status)
	}
}

func (o *Observer) recordStatus(job *Job, status string) {
	o.exporter.RecordCronFire(status)
	if err := o.store.UpdateRunStatus(job.ID, status); err != nil {
		slog.Warn("failed to update cron run status", "id", job.ID, "error", err)
	}
	// The status write touches the jobs file. Refresh the baseline so
	// the poller does not treat it as an external edit.
	o.refreshMtime()
}

func (o *Observer) inQuietWindow(job *Job) bool {
	start := o.cfg.Heartbeat.QuietStart
	end := o.cfg.Heartbeat.QuietEnd
	if job.QuietStart != nil {
		start = *job.QuietStart
	}
	if job.QuietEnd != nil {
		end = *job.QuietEnd
	}
	hour := time.Now().In(o.jobLocation(job)).Hour()
	return config.InQuietWindow(hour, start, end)
}

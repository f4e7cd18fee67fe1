// Package cleanup removes aged files from the workspace exchange
// directories on a daily schedule.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/workspace"
)

const checkInterval = time.Hour

// Observer runs the daily file cleanup for telegram_files and
// output_to_user.
type Observer struct {
	cfg   *config.Config
	paths *workspace.Paths

	lastRunDate string
}

func NewObserver(cfg *config.Config, paths *workspace.Paths) *Observer {
	return &Observer{cfg: cfg, paths: paths}
}

// Run blocks until ctx is cancelled. Returns immediately when cleanup
// is disabled.
func (o *Observer) Run(ctx context.Context) error {
	cc := o.cfg.Cleanup
	if !cc.Enabled {
		slog.Info("file cleanup disabled in config")
		return nil
	}
	slog.Info("file cleanup started",
		"telegram_files_days", cc.TelegramFilesDays,
		"output_to_user_days", cc.OutputToUserDays,
		"check_hour", cc.CheckHour)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("file cleanup stopped")
			return ctx.Err()
		case <-ticker.C:
			o.maybeRun()
		}
	}
}

// maybeRun executes the sweep when the configured hour arrives, at
// most once per calendar day in the user's timezone.
func (o *Observer) maybeRun() {
	loc := config.ResolveTimezone(o.cfg.UserTimezone)
	now := time.Now().In(loc)
	today := now.Format("2006-01-02")

	if now.Hour() != o.cfg.Cleanup.CheckHour {
		return
	}
	if o.lastRunDate == today {
		return
	}
	o.lastRunDate = today
	o.execute()
}

func (o *Observer) execute() {
	tDeleted := deleteOldFiles(o.paths.TelegramFilesDir(), o.cfg.Cleanup.TelegramFilesDays)
	oDeleted := deleteOldFiles(o.paths.OutputToUserDir(), o.cfg.Cleanup.OutputToUserDays)

	if tDeleted > 0 || oDeleted > 0 {
		slog.Info("cleanup complete",
			"telegram_files", tDeleted,
			"output_to_user", oDeleted)
	} else {
		slog.Debug("cleanup: nothing to delete")
	}
}

// deleteOldFiles removes top-level files older than maxAgeDays.
// Non-recursive on purpose: subdirectories are left untouched.
func deleteOldFiles(dir string, maxAgeDays int) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to delete file", "path", path, "error", err)
				continue
			}
			deleted++
		}
	}
	return deleted
}

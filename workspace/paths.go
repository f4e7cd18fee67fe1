// Package workspace materializes and keeps synchronized the on-disk runtime
// layout under the ductor home directory.
package workspace

import (
	"os"
	"path/filepath"
)

// Paths is the single source of truth for every path the framework touches.
// All filesystem access derives from this record; nothing else hardcodes a
// location.
type Paths struct {
	// Home is the user data directory (default ~/.ductor).
	Home string
	// HomeDefaults is the bundled template tree that mirrors Home.
	HomeDefaults string
}

// ResolvePaths builds Paths from an explicit home, the DUCTOR_HOME
// environment variable, or ~/.ductor. The template directory falls back to
// DUCTOR_HOME_DEFAULTS, then to home_defaults/ next to the executable.
func ResolvePaths(home string) (*Paths, error) {
	if home == "" {
		home = os.Getenv("DUCTOR_HOME")
	}
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".ductor")
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return nil, err
	}

	defaults := os.Getenv("DUCTOR_HOME_DEFAULTS")
	if defaults == "" {
		if exe, err := os.Executable(); err == nil {
			defaults = filepath.Join(filepath.Dir(exe), "home_defaults")
		}
	}

	return &Paths{Home: absHome, HomeDefaults: defaults}, nil
}

func (p *Paths) Workspace() string     { return filepath.Join(p.Home, "workspace") }
func (p *Paths) ConfigDir() string     { return filepath.Join(p.Home, "config") }
func (p *Paths) ConfigPath() string    { return filepath.Join(p.ConfigDir(), "config.json") }
func (p *Paths) SessionsPath() string  { return filepath.Join(p.Home, "sessions.json") }
func (p *Paths) CronJobsPath() string  { return filepath.Join(p.Home, "cron_jobs.json") }
func (p *Paths) WebhooksPath() string  { return filepath.Join(p.Home, "webhooks.json") }
func (p *Paths) LogsDir() string       { return filepath.Join(p.Home, "logs") }
func (p *Paths) RunLogPath() string    { return filepath.Join(p.Home, "runlog.db") }
func (p *Paths) PIDPath() string       { return filepath.Join(p.Home, "bot.pid") }
func (p *Paths) RestartSentinel() string {
	return filepath.Join(p.Home, "restart-sentinel.json")
}

func (p *Paths) CronTasksDir() string { return filepath.Join(p.Workspace(), "cron_tasks") }
func (p *Paths) ToolsDir() string     { return filepath.Join(p.Workspace(), "tools") }
func (p *Paths) UserToolsDir() string { return filepath.Join(p.ToolsDir(), "user_tools") }
func (p *Paths) OutputToUserDir() string {
	return filepath.Join(p.Workspace(), "output_to_user")
}
func (p *Paths) TelegramFilesDir() string {
	return filepath.Join(p.Workspace(), "telegram_files")
}
func (p *Paths) MemorySystemDir() string {
	return filepath.Join(p.Workspace(), "memory_system")
}
func (p *Paths) SkillsDir() string { return filepath.Join(p.Workspace(), "skills") }
func (p *Paths) MainMemoryPath() string {
	return filepath.Join(p.MemorySystemDir(), "MAINMEMORY.md")
}

// ClaudeHome returns the Claude CLI home directory.
func ClaudeHome() string {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userHome, ".claude")
}

// CodexHome returns the Codex CLI home directory, honouring CODEX_HOME.
func CodexHome() string {
	if env := os.Getenv("CODEX_HOME"); env != "" {
		return env
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userHome, ".codex")
}

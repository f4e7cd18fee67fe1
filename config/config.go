// Package config holds the user-facing runtime configuration loaded from
// config/config.json under the ductor home.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// StreamingConfig holds settings for streamed response output.
type StreamingConfig struct {
	Enabled             bool    `json:"enabled"`
	MinChars            int     `json:"min_chars"`
	MaxChars            int     `json:"max_chars"`
	IdleMs              int     `json:"idle_ms"`
	EditIntervalSeconds float64 `json:"edit_interval_seconds"`
	MaxEditFailures     int     `json:"max_edit_failures"`
	AppendMode          bool    `json:"append_mode"`
	SentenceBreak       bool    `json:"sentence_break"`
}

// DockerConfig holds settings for Docker-based CLI sandboxing.
type DockerConfig struct {
	Enabled       bool   `json:"enabled"`
	ImageName     string `json:"image_name"`
	ContainerName string `json:"container_name"`
	AutoBuild     bool   `json:"auto_build"`
}

const defaultHeartbeatPrompt = "You are running as a background heartbeat check. Review the current workspace context:\n" +
	"- Read memory_system/MAINMEMORY.md for user interests and personality\n" +
	"- Check cron_tasks/ for active projects\n" +
	"- Think about what might be useful, interesting, or fun for the user\n" +
	"\n" +
	"If you have a creative idea, suggestion, interesting fact, or something the user might enjoy:\n" +
	"Reply with your message directly.\n" +
	"\n" +
	"If nothing needs attention right now:\n" +
	"Reply exactly: HEARTBEAT_OK"

// HeartbeatConfig holds settings for the periodic heartbeat system.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes"`
	CooldownMinutes int    `json:"cooldown_minutes"`
	QuietStart      int    `json:"quiet_start"`
	QuietEnd        int    `json:"quiet_end"`
	Prompt          string `json:"prompt"`
	AckToken        string `json:"ack_token"`
}

// CleanupConfig holds settings for automatic workspace file cleanup.
type CleanupConfig struct {
	Enabled           bool `json:"enabled"`
	TelegramFilesDays int  `json:"telegram_files_days"`
	OutputToUserDays  int  `json:"output_to_user_days"`
	CheckHour         int  `json:"check_hour"`
}

// CLIParametersConfig holds extra CLI arguments per provider.
type CLIParametersConfig struct {
	Claude []string `json:"claude"`
	Codex  []string `json:"codex"`
}

// WebhookConfig holds settings for the webhook HTTP server.
type WebhookConfig struct {
	Enabled            bool   `json:"enabled"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Token              string `json:"token"`
	MaxBodyBytes       int    `json:"max_body_bytes"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// Config is the top-level configuration loaded from config.json.
type Config struct {
	LogLevel               string              `json:"log_level"`
	Provider               string              `json:"provider"`
	Model                  string              `json:"model"`
	DuctorHome             string              `json:"ductor_home"`
	IdleTimeoutMinutes     int                 `json:"idle_timeout_minutes"`
	SessionAgeWarningHours int                 `json:"session_age_warning_hours"`
	DailyResetHour         int                 `json:"daily_reset_hour"`
	DailyResetEnabled      bool                `json:"daily_reset_enabled"`
	MaxBudgetUSD           float64             `json:"max_budget_usd"`
	MaxTurns               int                 `json:"max_turns"`
	MaxSessionMessages     int                 `json:"max_session_messages"`
	PermissionMode         string              `json:"permission_mode"`
	CLITimeoutSeconds      float64             `json:"cli_timeout"`
	ReasoningEffort        string              `json:"reasoning_effort"`
	FileAccess             string              `json:"file_access"`
	Streaming              StreamingConfig     `json:"streaming"`
	Docker                 DockerConfig        `json:"docker"`
	Heartbeat              HeartbeatConfig     `json:"heartbeat"`
	Cleanup                CleanupConfig       `json:"cleanup"`
	Webhooks               WebhookConfig       `json:"webhooks"`
	CLIParameters          CLIParametersConfig `json:"cli_parameters"`
	UserTimezone           string              `json:"user_timezone"`
	TelegramToken          string              `json:"telegram_token"`
	AllowedUserIDs         []int64             `json:"allowed_user_ids"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		LogLevel:               "INFO",
		Provider:               "claude",
		Model:                  "opus",
		DuctorHome:             "~/.ductor",
		IdleTimeoutMinutes:     1440,
		SessionAgeWarningHours: 12,
		DailyResetHour:         4,
		DailyResetEnabled:      false,
		PermissionMode:         "bypassPermissions",
		CLITimeoutSeconds:      600,
		ReasoningEffort:        "medium",
		FileAccess:             "all",
		Streaming: StreamingConfig{
			Enabled:             true,
			MinChars:            200,
			MaxChars:            4000,
			IdleMs:              800,
			EditIntervalSeconds: 2.0,
			MaxEditFailures:     3,
			SentenceBreak:       true,
		},
		Docker: DockerConfig{
			ImageName:     "ductor-sandbox",
			ContainerName: "ductor-sandbox",
			AutoBuild:     true,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: 30,
			CooldownMinutes: 5,
			QuietStart:      21,
			QuietEnd:        8,
			Prompt:          defaultHeartbeatPrompt,
			AckToken:        "HEARTBEAT_OK",
		},
		Cleanup: CleanupConfig{
			Enabled:           true,
			TelegramFilesDays: 30,
			OutputToUserDays:  30,
			CheckHour:         3,
		},
		Webhooks: WebhookConfig{
			Host:               "127.0.0.1",
			Port:               8742,
			MaxBodyBytes:       262144,
			RateLimitPerMinute: 30,
		},
		AllowedUserIDs: []int64{},
	}
}

// CLITimeout returns the per-call CLI timeout as a duration.
func (c *Config) CLITimeout() time.Duration {
	return time.Duration(c.CLITimeoutSeconds * float64(time.Second))
}

// IsAllowedUser reports whether a user id is on the allowlist.
func (c *Config) IsAllowedUser(id int64) bool {
	for _, allowed := range c.AllowedUserIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// InQuietWindow reports whether hour falls inside [start, end) with
// wrap-around support. start == end means the window is empty.
func InQuietWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ResolveTimezone resolves the user timezone: configured value, then the TZ
// environment variable, then /etc/localtime, then UTC.
func ResolveTimezone(configured string) *time.Location {
	trimmed := strings.TrimSpace(configured)
	if trimmed != "" {
		if loc, err := time.LoadLocation(trimmed); err == nil {
			return loc
		}
		slog.Warn("Invalid user_timezone, falling back to host/UTC", "tz", trimmed)
	}

	if tzEnv := strings.TrimSpace(os.Getenv("TZ")); tzEnv != "" {
		if loc, err := time.LoadLocation(tzEnv); err == nil {
			return loc
		}
	}

	// /usr/share/zoneinfo/Europe/Berlin -> Europe/Berlin
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if idx := strings.Index(target, "/zoneinfo/"); idx != -1 {
			candidate := target[idx+len("/zoneinfo/"):]
			if loc, err := time.LoadLocation(candidate); err == nil {
				return loc
			}
		}
	}
	return time.UTC
}

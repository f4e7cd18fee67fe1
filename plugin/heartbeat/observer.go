// Package heartbeat sends periodic background agent turns through the
// main session and surfaces any alert text back to the user.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/ductor/config"
)

// ResultHandler delivers an alert message to the user's chat.
type ResultHandler func(ctx context.Context, chatID int64, alert string)

// Handler executes one heartbeat turn and returns the alert text, or
// "" when the agent acknowledged with nothing to report.
type Handler func(ctx context.Context, chatID int64) string

// Observer runs the heartbeat loop. Collaborators are injected via the
// setters before Run.
type Observer struct {
	cfg *config.Config

	handler      Handler
	onResult     ResultHandler
	busyCheck    func(chatID int64) bool
	staleCleanup func() int
}

func NewObserver(cfg *config.Config) *Observer {
	return &Observer{cfg: cfg}
}

// SetHandler sets the function that executes a heartbeat turn.
func (o *Observer) SetHandler(fn Handler) { o.handler = fn }

// SetResultHandler sets the callback delivering alerts to the chat.
func (o *Observer) SetResultHandler(fn ResultHandler) { o.onResult = fn }

// SetBusyCheck sets the function reporting active CLI work for a chat.
func (o *Observer) SetBusyCheck(fn func(chatID int64) bool) { o.busyCheck = fn }

// SetStaleCleanup sets the function that kills stale CLI processes
// before each tick.
func (o *Observer) SetStaleCleanup(fn func() int) { o.staleCleanup = fn }

// Run blocks until ctx is cancelled. Returns immediately when the
// heartbeat is disabled or no handler is set.
func (o *Observer) Run(ctx context.Context) error {
	hb := o.cfg.Heartbeat
	if !hb.Enabled {
		slog.Info("heartbeat disabled in config")
		return nil
	}
	if o.handler == nil {
		slog.Error("heartbeat handler not set, cannot start")
		return nil
	}

	interval := time.Duration(hb.IntervalMinutes) * time.Minute
	slog.Info("heartbeat started",
		"interval_minutes", hb.IntervalMinutes,
		"quiet_start", hb.QuietStart,
		"quiet_end", hb.QuietEnd)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastWall := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		// A wall-clock gap much larger than the interval means the
		// machine was suspended; stale-process cleanup below catches
		// the hangover.
		now := time.Now()
		if elapsed := now.Sub(lastWall); elapsed > interval*2 {
			slog.Warn("wall-clock gap detected, system likely suspended",
				"elapsed", elapsed.Round(time.Second),
				"interval", interval)
		}
		lastWall = now

		o.tick(ctx)
	}
}

func (o *Observer) tick(ctx context.Context) {
	if o.staleCleanup != nil {
		if killed := o.staleCleanup(); killed > 0 {
			slog.Info("cleaned up stale processes", "count", killed)
		}
	}

	loc := config.ResolveTimezone(o.cfg.UserTimezone)
	nowHour := time.Now().In(loc).Hour()
	if config.InQuietWindow(nowHour, o.cfg.Heartbeat.QuietStart, o.cfg.Heartbeat.QuietEnd) {
		slog.Debug("heartbeat skipped: quiet hours", "hour", nowHour, "timezone", loc.String())
		return
	}

	slog.Debug("heartbeat tick", "chats", len(o.cfg.AllowedUserIDs))
	for _, chatID := range o.cfg.AllowedUserIDs {
		o.runForChat(ctx, chatID)
	}
}

func (o *Observer) runForChat(ctx context.Context, chatID int64) {
	if o.busyCheck != nil && o.busyCheck(chatID) {
		slog.Debug("heartbeat skipped: chat is busy", "chat_id", chatID)
		return
	}

	alert := o.handler(ctx, chatID)
	if alert == "" {
		return
	}
	if o.onResult != nil {
		o.onResult(ctx, chatID, alert)
	}
}

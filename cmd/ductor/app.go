package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/infra"
	"github.com/hrygo/ductor/internal/errs"
	"github.com/hrygo/ductor/internal/profile"
	"github.com/hrygo/ductor/metrics"
	"github.com/hrygo/ductor/orchestrator"
	"github.com/hrygo/ductor/plugin/chat"
	"github.com/hrygo/ductor/plugin/chat/telegram"
	"github.com/hrygo/ductor/plugin/cleanup"
	"github.com/hrygo/ductor/plugin/cron"
	"github.com/hrygo/ductor/plugin/heartbeat"
	"github.com/hrygo/ductor/server/webhook"
	"github.com/hrygo/ductor/store"
	"github.com/hrygo/ductor/workspace"
)

// runApp wires the full bot in the supervised child process and blocks
// until a termination signal arrives.
func runApp(p *profile.Profile) error {
	paths, err := workspace.ResolvePaths(p.Home)
	if err != nil {
		return err
	}
	if err := workspace.Init(paths); err != nil {
		return err
	}
	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		return err
	}
	setupLogging(cfg, paths, p)

	if err := infra.AcquireLock(paths.PIDPath(), p.KillExisting); err != nil {
		return err
	}
	defer infra.ReleaseLock(paths.PIDPath())

	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return errs.New(errs.KindInfra, "telegram_token missing in %s", paths.ConfigPath())
	}
	if len(cfg.AllowedUserIDs) == 0 {
		return errs.New(errs.KindInfra, "allowed_user_ids is empty in %s", paths.ConfigPath())
	}

	channel, err := telegram.NewChannel(cfg.TelegramToken, cfg.AllowedUserIDs)
	if err != nil {
		return err
	}
	channel.SetAllowedRoots([]string{
		paths.OutputToUserDir(),
		paths.TelegramFilesDir(),
		paths.CronTasksDir(),
	})

	dockerContainer := ""
	if cfg.Docker.Enabled {
		dockerContainer = cfg.Docker.ContainerName
	}
	workspace.InjectRuntimeEnvironment(paths, dockerContainer)
	workspace.SyncSkills(paths)

	exporter := metrics.NewExporter()
	sessions := store.NewSessionStore(paths.SessionsPath(), cfg)
	runlog, err := store.OpenRunLog(paths.RunLogPath())
	if err != nil {
		return err
	}
	defer runlog.Close()

	available := agent.AvailableProviders()
	service := agent.NewService(agent.ServiceConfig{
		WorkingDir:       paths.Workspace(),
		DefaultModel:     cfg.Model,
		Provider:         cfg.Provider,
		MaxTurns:         cfg.MaxTurns,
		MaxBudgetUSD:     cfg.MaxBudgetUSD,
		PermissionMode:   cfg.PermissionMode,
		SandboxMode:      cfg.FileAccess,
		ReasoningEffort:  cfg.ReasoningEffort,
		DockerContainer:  dockerContainer,
		ClaudeParameters: cfg.CLIParameters.Claude,
		CodexParameters:  cfg.CLIParameters.Codex,
	}, available, agent.NewRegistry())

	cronStore := cron.NewStore(paths.CronJobsPath())
	cronObserver := cron.NewObserver(cronStore, cfg, paths, cron.NewDependencyQueue(), runlog)
	cronObserver.SetMetrics(exporter)

	orch := orchestrator.New(orchestrator.Deps{
		Config:       cfg,
		Paths:        paths,
		Sessions:     sessions,
		Service:      service,
		CronStore:    cronStore,
		CronObserver: cronObserver,
		RunLog:       runlog,
		Exporter:     exporter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &app{
		cfg:     cfg,
		channel: channel,
		orch:    orch,
	}

	pipeline := chat.NewPipeline(channel)
	pipeline.SetAbortHandler(app.handleAbort)
	pipeline.SetQuickCommandHandler(app.handleQuick)
	pipeline.SetDepthObserver(exporter.SetQueueDepth)
	channel.SetPipeline(pipeline, app.handleMessage)
	channel.SetCallbackHandler(app.handleCallback)
	app.pipeline = pipeline

	cronObserver.SetResultHandler(app.deliverCronResult)

	hb := heartbeat.NewObserver(cfg)
	hb.SetHandler(orch.HandleHeartbeat)
	hb.SetBusyCheck(func(chatID int64) bool {
		return pipeline.IsBusy(chatID) || orch.IsChatBusy(chatID)
	})
	hb.SetStaleCleanup(func() int {
		return orch.Registry().KillStale(2 * cfg.CLITimeout())
	})
	hb.SetResultHandler(func(ctx context.Context, chatID int64, alert string) {
		if err := channel.SendRich(ctx, chatID, alert, 0); err != nil {
			slog.Error("heartbeat alert delivery failed", "chat", chatID, "error", err)
		}
	})

	cleaner := cleanup.NewObserver(cfg, paths)

	hooks := webhook.NewManager(paths.WebhooksPath())
	hookObserver := webhook.NewObserver(cfg, paths, hooks)
	hookObserver.SetRunLog(runlog)
	hookObserver.SetMetrics(exporter)
	hookObserver.SetWakeHandler(app.handleWake)
	hookObserver.SetResultHandler(app.deliverHookResult)

	// Exit code 42 tells the supervisor to start a fresh process.
	orch.SetRestartHandler(func() {
		if p.Supervised {
			os.Exit(infra.ExitRestart)
		}
		cancel()
	})

	if sentinel := infra.ConsumeRestartSentinel(paths.RestartSentinel()); sentinel != nil {
		if _, err := channel.Send(ctx, sentinel.ChatID, sentinel.Message); err != nil {
			slog.Warn("restart notice delivery failed", "chat", sentinel.ChatID, "error", err)
		}
	}

	signals := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(signals, terminationSignals...)
	go func() {
		select {
		case sig := <-signals:
			slog.Info("shutdown signal received", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	printGreetings(p)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return channel.Run(gctx) })
	g.Go(func() error { return cronObserver.Run(gctx) })
	g.Go(func() error { return hb.Run(gctx) })
	g.Go(func() error { return cleaner.Run(gctx) })
	g.Go(func() error { return hookObserver.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// app holds the delivery-side wiring between the chat transport and
// the orchestrator.
type app struct {
	cfg      *config.Config
	channel  *telegram.Channel
	pipeline *chat.Pipeline
	orch     *orchestrator.Orchestrator
}

// handleMessage runs once the pipeline grants the chat lock. Streaming
// output flows through a stream editor; the final result falls back to
// a regular send when streaming produced nothing.
func (a *app) handleMessage(ctx context.Context, msg chat.Message) error {
	var result *orchestrator.Result
	var editor telegram.StreamEditor
	if a.cfg.Streaming.Enabled {
		editor = telegram.NewStreamEditor(a.channel, msg.ChatID, msg.MessageID, a.cfg.Streaming)
		cb := agent.Callbacks{
			OnText:   func(text string) { editor.AppendText(ctx, text) },
			OnTool:   func(toolName string) { editor.AppendTool(ctx, toolName) },
			OnStatus: func(status string) { editor.AppendSystem(ctx, status) },
		}
		result = a.orch.HandleMessageStreaming(ctx, msg.ChatID, msg.Text, cb)
	} else {
		result = a.orch.HandleMessage(ctx, msg.ChatID, msg.Text)
	}
	if result == nil {
		return nil
	}
	return a.deliver(ctx, msg, editor, result)
}

func (a *app) deliver(ctx context.Context, msg chat.Message, editor telegram.StreamEditor, result *orchestrator.Result) error {
	if result.ReplyMarkup != nil {
		_, err := a.channel.SendKeyboard(ctx, msg.ChatID, telegram.MarkdownToHTML(result.Text), *result.ReplyMarkup)
		return err
	}
	if editor != nil && editor.HasContent() && !result.StreamFallback {
		editor.Finalize(ctx, result.Text)
		a.channel.SendFilesFromText(ctx, msg.ChatID, result.Text)
		return nil
	}
	if result.Text == "" {
		return nil
	}
	return a.channel.SendRich(ctx, msg.ChatID, result.Text, msg.MessageID)
}

// handleAbort runs before the chat lock so a stop message can kill the
// active CLI even while a run is in flight.
func (a *app) handleAbort(ctx context.Context, msg chat.Message) bool {
	result := a.orch.HandleMessage(ctx, msg.ChatID, "/stop")
	if result != nil && result.Text != "" {
		if err := a.channel.SendRich(ctx, msg.ChatID, result.Text, msg.MessageID); err != nil {
			slog.Error("abort reply failed", "chat", msg.ChatID, "error", err)
		}
	}
	return true
}

// handleQuick serves read-only commands without queueing behind the
// chat lock.
func (a *app) handleQuick(ctx context.Context, msg chat.Message) bool {
	result := a.orch.HandleMessage(ctx, msg.ChatID, msg.Text)
	if result == nil {
		return true
	}
	if err := a.deliver(ctx, msg, nil, result); err != nil {
		slog.Error("quick command reply failed", "chat", msg.ChatID, "error", err)
	}
	return true
}

// handleCallback routes selector button presses and edits the menu
// message in place.
func (a *app) handleCallback(ctx context.Context, chatID int64, messageID int, data string) {
	switch {
	case orchestrator.IsModelSelectorCallback(data):
		text, markup, err := a.orch.HandleModelCallback(chatID, data)
		if err != nil {
			slog.Error("model selector callback failed", "chat", chatID, "error", err)
			return
		}
		a.editMenu(ctx, chatID, messageID, text, markup)
	case orchestrator.IsCronSelectorCallback(data):
		text, markup := a.orch.HandleCronCallback(ctx, data)
		a.editMenu(ctx, chatID, messageID, text, markup)
	case orchestrator.IsFileBrowserCallback(data):
		text, markup, prompt := a.orch.HandleFileBrowserCallback(data)
		if prompt != "" {
			a.handleWake(ctx, chatID, prompt)
			return
		}
		a.editMenu(ctx, chatID, messageID, text, markup)
	default:
		slog.Debug("unhandled callback", "data", data)
	}
}

func (a *app) editMenu(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := a.channel.EditKeyboard(ctx, chatID, messageID, telegram.MarkdownToHTML(text), markup); err != nil {
		slog.Warn("menu edit failed", "chat", chatID, "error", err)
	}
}

// handleWake runs a webhook wake prompt through the normal message
// path, queueing behind any active conversation in that chat.
func (a *app) handleWake(ctx context.Context, chatID int64, prompt string) string {
	var text string
	a.pipeline.WithChatLock(chatID, func() {
		result := a.orch.HandleMessage(ctx, chatID, prompt)
		if result == nil {
			return
		}
		text = result.Text
		if text != "" {
			if err := a.channel.SendRich(ctx, chatID, text, 0); err != nil {
				slog.Error("wake reply failed", "chat", chatID, "error", err)
			}
		}
	})
	return text
}

// deliverCronResult pushes a finished cron task to every allowed user.
func (a *app) deliverCronResult(title, result, status string) {
	text := fmt.Sprintf("**TASK: %s**\n\n%s", title, result)
	if result == "" {
		text = fmt.Sprintf("**TASK: %s**\n\n_%s_", title, status)
	}
	a.broadcast(text)
}

// deliverHookResult pushes a finished webhook task to every allowed
// user. Wake results were already delivered through their chat.
func (a *app) deliverHookResult(ctx context.Context, result *webhook.Result) {
	if result.Mode == webhook.ModeWake {
		return
	}
	text := fmt.Sprintf("**WEBHOOK (CRON TASK): %s**\n\n%s", result.HookTitle, result.ResultText)
	if result.ResultText == "" {
		text = fmt.Sprintf("**WEBHOOK (CRON TASK): %s**\n\n_%s_", result.HookTitle, result.Status)
	}
	a.broadcast(text)
}

func (a *app) broadcast(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, chatID := range a.cfg.AllowedUserIDs {
		if err := a.channel.SendRich(ctx, chatID, text, 0); err != nil {
			slog.Error("broadcast failed", "chat", chatID, "error", err)
		}
	}
}

// setupLogging points slog at stderr plus an append-only file under
// logs/. Dev mode lowers the level to debug.
func setupLogging(cfg *config.Config, paths *workspace.Paths, p *profile.Profile) {
	level := parseLogLevel(cfg.LogLevel)
	if p.IsDev() {
		level = slog.LevelDebug
	}

	out := io.Writer(os.Stderr)
	if err := os.MkdirAll(paths.LogsDir(), 0o755); err == nil {
		logPath := filepath.Join(paths.LogsDir(), "ductor.log")
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

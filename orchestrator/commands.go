package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/ductor/infra"
	"github.com/hrygo/ductor/workspace"
)

func (o *Orchestrator) cmdReset(_ context.Context, chatID int64, _ string) (*Result, error) {
	slog.Info("reset requested")
	o.Registry().KillAll(chatID)
	if err := o.ResetSession(chatID); err != nil {
		return nil, err
	}
	return &Result{Text: NewSessionText}, nil
}

func (o *Orchestrator) cmdStop(_ context.Context, chatID int64, _ string) (*Result, error) {
	slog.Info("stop requested")
	killed := o.Registry().KillAll(chatID)
	return &Result{Text: StopText(killed > 0, o.activeProviderName())}, nil
}

func (o *Orchestrator) cmdStatus(_ context.Context, chatID int64, _ string) (*Result, error) {
	slog.Info("status requested")
	text, err := o.buildStatus(chatID)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text}, nil
}

func (o *Orchestrator) cmdModel(_ context.Context, chatID int64, text string) (*Result, error) {
	slog.Info("model requested")
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		msg, keyboard, err := o.modelSelectorStart(chatID)
		if err != nil {
			return nil, err
		}
		return &Result{Text: msg, ReplyMarkup: keyboard}, nil
	}
	result, err := o.SwitchModel(chatID, strings.TrimSpace(parts[1]), "")
	if err != nil {
		return nil, err
	}
	return &Result{Text: result}, nil
}

func (o *Orchestrator) cmdMemory(_ context.Context, _ int64, _ string) (*Result, error) {
	slog.Info("memory requested")
	content := workspace.ReadMainMemory(o.paths)
	if strings.TrimSpace(content) == "" {
		return &Result{Text: Blocks(
			"**Main Memory**",
			Sep,
			"Empty. The agent will build memory as you interact.",
			Sep,
			`*Tip: Ask your agent to "remember" something to get started.*`,
		)}, nil
	}
	return &Result{Text: Blocks(
		"**Main Memory**",
		Sep,
		content,
		Sep,
		"*Tip: The agent reads and updates this automatically.*",
	)}, nil
}

func (o *Orchestrator) cmdCron(_ context.Context, _ int64, _ string) (*Result, error) {
	slog.Info("cron requested")
	text, keyboard := o.cronSelectorStart()
	return &Result{Text: text, ReplyMarkup: keyboard}, nil
}

func (o *Orchestrator) cmdDiagnose(ctx context.Context, _ int64, _ string) (*Result, error) {
	slog.Info("diagnose requested")
	effectiveModel, effectiveProvider := o.ResolveRuntimeTarget(o.cfg.Model)
	infoBlock := fmt.Sprintf(
		"Version: `%s`\nConfigured: %s / %s\nEffective runtime: %s / %s",
		o.versionString(),
		o.cfg.Provider, o.cfg.Model,
		effectiveProvider, effectiveModel,
	)

	runBlock := o.recentRunsBlock(ctx)

	logBlock := "No log file found."
	if tail := readLogTail(filepath.Join(o.paths.LogsDir(), "agent.log"), 50); tail != "" {
		logBlock = "Recent logs (last 50 lines):\n```\n" + tail + "\n```"
	}

	return &Result{
		Text: Blocks("**System Diagnostics**", Sep, infoBlock, runBlock, Sep, logBlock),
	}, nil
}

func (o *Orchestrator) cmdRestart(_ context.Context, chatID int64, _ string) (*Result, error) {
	slog.Info("restart requested", "chat", chatID)
	if err := infra.WriteRestartSentinel(o.paths.RestartSentinel(), chatID, "Restart completed."); err != nil {
		return nil, err
	}
	if o.onRestart != nil {
		// Give the reply a moment to reach the chat before exiting.
		go func() {
			time.Sleep(500 * time.Millisecond)
			o.onRestart()
		}()
	}
	return &Result{Text: "Bot is restarting..."}, nil
}

func (o *Orchestrator) recentRunsBlock(ctx context.Context) string {
	if o.runlog == nil {
		return ""
	}
	records, err := o.runlog.Recent(ctx, 5)
	if err != nil || len(records) == 0 {
		return ""
	}
	lines := []string{"Recent runs:"}
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("  [%s] %s/%s %s $%.4f %dms",
			rec.Origin, rec.Provider, rec.Model, rec.Status, rec.CostUSD, rec.DurationMs))
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) buildStatus(chatID int64) (string, error) {
	runtimeModel, _ := o.ResolveRuntimeTarget(o.cfg.Model)
	configured := o.cfg.Model

	modelLine := func(model string) string {
		if model == configured {
			return "Model: " + model
		}
		return fmt.Sprintf("Model: %s (configured: %s)", model, configured)
	}

	session, err := o.sessions.GetActive(chatID)
	if err != nil {
		return "", err
	}
	var sessionBlock string
	if session != nil {
		sessionBlock = fmt.Sprintf(
			"Session: `%s...`\nMessages: %d\nTokens: %s\nCost: $%.4f\n%s",
			head(session.SessionID(), 8),
			session.MessageCount(),
			formatThousands(session.TotalTokens()),
			session.TotalCostUSD(),
			modelLine(session.Model),
		)
	} else {
		sessionBlock = "No active session.\n" + modelLine(runtimeModel)
	}

	auth := o.checkAuth()
	providers := make([]string, 0, len(auth))
	for name := range auth {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	authLines := make([]string, 0, len(providers))
	for _, name := range providers {
		res := auth[name]
		age := ""
		if res.AgeHuman() != "" {
			age = " (" + res.AgeHuman() + ")"
		}
		authLines = append(authLines, fmt.Sprintf("  [%s] %s%s", name, res.Status, age))
	}
	authBlock := "Auth:\n" + strings.Join(authLines, "\n")

	return Blocks("**Status**", Sep, sessionBlock, Sep, authBlock), nil
}

// formatThousands renders n with comma grouping.
func formatThousands(n int) string {
	raw := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(raw, "-")
	digits := strings.TrimPrefix(raw, "-")
	if len(digits) <= 3 {
		return raw
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func readLogTail(path string, lines int) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	all := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}

package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/internal/errs"
	"github.com/hrygo/ductor/metrics"
	"github.com/hrygo/ductor/plugin/cron"
	"github.com/hrygo/ductor/security"
	"github.com/hrygo/ductor/store"
	"github.com/hrygo/ductor/workspace"
)

const internalErrorText = "An internal error occurred. Please try again."

// Orchestrator routes messages through command dispatch and the
// conversation flows.
type Orchestrator struct {
	cfg      *config.Config
	paths    *workspace.Paths
	sessions *store.SessionStore
	service  *agent.Service
	runlog   *store.RunLog
	exporter *metrics.Exporter

	cronStore    *cron.Store
	cronObserver *cron.Observer

	hooks    *HookRegistry
	commands *CommandRegistry

	mu        sync.Mutex
	available map[string]bool

	checkAuth          func() map[string]agent.AuthResult
	fetchLatestRelease func(context.Context) (string, error)
	onRestart          func()
}

// Deps bundles the orchestrator's collaborators. RunLog and Exporter
// may be nil.
type Deps struct {
	Config       *config.Config
	Paths        *workspace.Paths
	Sessions     *store.SessionStore
	Service      *agent.Service
	CronStore    *cron.Store
	CronObserver *cron.Observer
	RunLog       *store.RunLog
	Exporter     *metrics.Exporter
}

// New builds an orchestrator and registers the built-in hooks and
// slash commands.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:          deps.Config,
		paths:        deps.Paths,
		sessions:     deps.Sessions,
		service:      deps.Service,
		runlog:       deps.RunLog,
		exporter:     deps.Exporter,
		cronStore:    deps.CronStore,
		cronObserver: deps.CronObserver,
		hooks:        &HookRegistry{},
		commands:     &CommandRegistry{},
		checkAuth:    agent.CheckAllAuth,
	}
	o.hooks.Register(MainMemoryReminder)
	o.registerCommands()
	return o
}

func (o *Orchestrator) registerCommands() {
	reg := o.commands
	reg.Register("/new", o.cmdReset)
	reg.Register("/stop", o.cmdStop)
	reg.Register("/status", o.cmdStatus)
	reg.Register("/model", o.cmdModel)
	reg.Register("/model ", o.cmdModel)
	reg.Register("/memory", o.cmdMemory)
	reg.Register("/showfiles", o.cmdShowFiles)
	reg.Register("/cron", o.cmdCron)
	reg.Register("/diagnose", o.cmdDiagnose)
	reg.Register("/restart", o.cmdRestart)
	reg.Register("/upgrade", o.cmdUpgrade)
}

// Paths exposes the resolved workspace paths.
func (o *Orchestrator) Paths() *workspace.Paths { return o.paths }

// Registry exposes the shared CLI process registry.
func (o *Orchestrator) Registry() *agent.Registry { return o.service.Registry() }

// UpdateAvailableProviders replaces the authenticated-provider set on
// the orchestrator and the CLI service.
func (o *Orchestrator) UpdateAvailableProviders(available map[string]bool) {
	o.mu.Lock()
	o.available = available
	o.mu.Unlock()
	o.service.UpdateAvailableProviders(available)
}

func (o *Orchestrator) availableProviders() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]bool, len(o.available))
	for name, ok := range o.available {
		out[name] = ok
	}
	return out
}

// ResolveRuntimeTarget maps a requested model onto the authenticated
// providers. With no providers known it falls back to the model's
// native provider.
func (o *Orchestrator) ResolveRuntimeTarget(model string) (string, string) {
	available := o.availableProviders()
	if len(available) == 0 {
		return model, agent.ProviderFor(model)
	}
	resolved, provider, err := agent.ResolveForProvider(model, available)
	if err != nil {
		return model, agent.ProviderFor(model)
	}
	return resolved, provider
}

func (o *Orchestrator) activeProviderName() string {
	_, provider := o.ResolveRuntimeTarget(o.cfg.Model)
	return provider
}

// SetRestartHandler registers the callback fired by /restart after the
// sentinel is written.
func (o *Orchestrator) SetRestartHandler(fn func()) { o.onRestart = fn }

// SetCronResultHandler forwards cron job results to the chat layer.
func (o *Orchestrator) SetCronResultHandler(h cron.ResultHandler) {
	o.cronObserver.SetResultHandler(h)
}

// HandleMessage routes one message and returns the reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, chatID int64, text string) *Result {
	return o.handleMessage(ctx, chatID, text, nil)
}

// HandleMessageStreaming routes one message with streaming callbacks.
func (o *Orchestrator) HandleMessageStreaming(ctx context.Context, chatID int64, text string, cb agent.Callbacks) *Result {
	return o.handleMessage(ctx, chatID, text, &cb)
}

func (o *Orchestrator) handleMessage(ctx context.Context, chatID int64, text string, cb *agent.Callbacks) *Result {
	o.Registry().ClearAbort(chatID)
	cmd := strings.ToLower(strings.TrimSpace(text))
	slog.Info("message received", "text", head(cmd, 80))

	if patterns := security.DetectSuspiciousPatterns(text); len(patterns) > 0 {
		slog.Warn("suspicious input patterns", "patterns", strings.Join(patterns, ", "))
	}

	result, err := o.routeMessage(ctx, chatID, text, cmd, cb)
	if err != nil {
		if errs.KindOf(err) != "" {
			slog.Error("domain error in handle message", "error", err)
		} else {
			slog.Error("unexpected error in handle message", "error", err)
		}
		return &Result{Text: internalErrorText}
	}
	return result
}

func (o *Orchestrator) routeMessage(ctx context.Context, chatID int64, text, cmd string, cb *agent.Callbacks) (*Result, error) {
	result, err := o.commands.Dispatch(ctx, cmd, chatID, text)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	o.exporter.RecordMessage()

	directives := ParseDirectives(text)
	if directives.IsDirectiveOnly() && directives.HasModel() {
		return &Result{
			Text: "Next message will use: " + directives.Model + "\n" +
				"(Send a message with @" + directives.Model + " <text> to use it.)",
		}, nil
	}

	prompt := directives.Cleaned
	if prompt == "" {
		prompt = text
	}
	return o.normalFlow(ctx, chatID, prompt, directives.Model, cb)
}

// ResetSession resets the session for a chat.
func (o *Orchestrator) ResetSession(chatID int64) error {
	_, err := o.sessions.Reset(chatID, "", "")
	if err != nil {
		return err
	}
	slog.Info("session reset")
	return nil
}

// Abort kills all active CLI processes for a chat.
func (o *Orchestrator) Abort(chatID int64) int {
	return o.Registry().KillAll(chatID)
}

// IsChatBusy reports whether a chat has active CLI processes.
func (o *Orchestrator) IsChatBusy(chatID int64) bool {
	return o.Registry().HasActive(chatID)
}

// HandleHeartbeat runs a heartbeat turn in the main session. Returns
// the alert text, or "" when the response was an acknowledgment.
func (o *Orchestrator) HandleHeartbeat(ctx context.Context, chatID int64) string {
	slog.Debug("heartbeat flow starting")
	return o.heartbeatFlow(ctx, chatID)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

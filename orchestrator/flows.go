package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/store"
	"github.com/hrygo/ductor/workspace"
)

// sigkillReturnCode is the return code the CLI layer reports when the
// subprocess died from SIGKILL (OOM killer, manual kill).
const sigkillReturnCode = -9

const sigkillUserText = "Execution was interrupted. Please send the same request again."

// prepareNormal resolves the runtime target, the session and the final
// prompt for one conversation turn.
func (o *Orchestrator) prepareNormal(chatID int64, text, modelOverride string) (*agent.Request, *store.Session, error) {
	requested := modelOverride
	if requested == "" {
		requested = o.cfg.Model
	}
	reqModel, reqProvider := o.ResolveRuntimeTarget(requested)

	session, isNew, err := o.sessions.Resolve(chatID, reqProvider, reqModel)
	if err != nil {
		return nil, nil, err
	}
	if err := o.sessions.SyncTarget(chatID, reqProvider, reqModel); err != nil {
		return nil, nil, err
	}
	slog.Info("session resolved",
		"sid", sidLabel(session.SessionID()),
		"new", isNew,
		"msgs", session.MessageCount())

	appendPrompt := ""
	if isNew {
		if memory := workspace.ReadMainMemory(o.paths); strings.TrimSpace(memory) != "" {
			appendPrompt = memory
		}
	}

	prompt := o.hooks.Apply(text, HookContext{
		ChatID:       chatID,
		MessageCount: session.MessageCount(),
		IsNewSession: isNew,
		Provider:     reqProvider,
		Model:        reqModel,
	})

	resume := ""
	if !isNew {
		resume = session.SessionID()
	}
	request := &agent.Request{
		ChatID:             chatID,
		Prompt:             prompt,
		AppendSystemPrompt: appendPrompt,
		ModelOverride:      reqModel,
		ProviderOverride:   reqProvider,
		ResumeSession:      resume,
		Timeout:            o.cfg.CLITimeout(),
		Label:              "message",
	}
	return request, session, nil
}

// updateSession stores the CLI session id and accumulates metrics.
func (o *Orchestrator) updateSession(session *store.Session, resp *agent.Response) error {
	if resp.SessionID != "" && resp.SessionID != session.SessionID() {
		slog.Info("session id updated",
			"from", sidLabel(session.SessionID()),
			"to", sidLabel(resp.SessionID))
		session.SetSessionID(resp.SessionID)
	}
	return o.sessions.Update(session, resp.TotalCostUSD, resp.TotalTokens())
}

// resetOnError kills processes, resets the provider session and
// returns a user-facing error.
func (o *Orchestrator) resetOnError(chatID int64, model, provider string) (*Result, error) {
	o.Registry().KillAll(chatID)
	if _, err := o.sessions.ResetProvider(chatID, provider, model); err != nil {
		return nil, err
	}
	slog.Warn("session error reset", "model", model)
	return &Result{Text: fmt.Sprintf("[%s] Session error. New session started.", model)}, nil
}

func isSigkill(resp *agent.Response) bool {
	return resp.IsError && resp.ReturnCode == sigkillReturnCode
}

func (o *Orchestrator) requestTarget(req *agent.Request) (string, string) {
	model := req.ModelOverride
	if model == "" {
		model = o.cfg.Model
	}
	provider := req.ProviderOverride
	if provider == "" {
		provider = agent.ProviderFor(model)
	}
	return model, provider
}

func (o *Orchestrator) execute(ctx context.Context, req *agent.Request, cb *agent.Callbacks) (*agent.Response, error) {
	started := time.Now()
	var (
		resp *agent.Response
		err  error
	)
	if cb != nil {
		resp, err = o.service.ExecuteStreaming(ctx, req, *cb)
	} else {
		resp, err = o.service.Execute(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	o.recordRun(ctx, store.RunOriginMessage, req, resp, time.Since(started))
	return resp, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, origin store.RunOrigin, req *agent.Request, resp *agent.Response, elapsed time.Duration) {
	model, provider := o.requestTarget(req)
	status := "success"
	if resp.IsError {
		status = "error"
	}
	o.exporter.RecordCLIRun(provider, status, elapsed.Seconds())
	if o.runlog == nil {
		return
	}
	rec := &store.RunRecord{
		Origin:     origin,
		ChatID:     req.ChatID,
		Provider:   provider,
		Model:      model,
		Status:     status,
		CostUSD:    resp.TotalCostUSD,
		Tokens:     resp.TotalTokens(),
		DurationMs: elapsed.Milliseconds(),
	}
	if err := o.runlog.Record(ctx, rec); err != nil {
		slog.Warn("run log write failed", "error", err)
	}
}

// recoverAfterSigkill resets the session and retries once.
func (o *Orchestrator) recoverAfterSigkill(ctx context.Context, chatID int64, text, modelOverride string, cb *agent.Callbacks) (*agent.Request, *store.Session, *agent.Response, error) {
	slog.Warn("sigkill recovery, retrying", "chat", chatID)
	model := modelOverride
	if model == "" {
		model = o.cfg.Model
	}
	provider := agent.ProviderFor(model)
	o.Registry().KillAll(chatID)
	if _, err := o.sessions.ResetProvider(chatID, provider, model); err != nil {
		return nil, nil, nil, err
	}

	if cb != nil && cb.OnStatus != nil {
		cb.OnStatus("recovering")
	}

	request, session, err := o.prepareNormal(chatID, text, modelOverride)
	if err != nil {
		return nil, nil, nil, err
	}
	resp, err := o.execute(ctx, request, cb)
	if err != nil {
		return nil, nil, nil, err
	}
	return request, session, resp, nil
}

// normalFlow handles one conversation turn with session resume,
// resume-failure retry and SIGKILL recovery.
func (o *Orchestrator) normalFlow(ctx context.Context, chatID int64, text, modelOverride string, cb *agent.Callbacks) (*Result, error) {
	slog.Info("normal flow starting", "streaming", cb != nil)
	request, session, err := o.prepareNormal(chatID, text, modelOverride)
	if err != nil {
		return nil, err
	}
	resp, err := o.execute(ctx, request, cb)
	if err != nil {
		return nil, err
	}
	if o.Registry().WasAborted(chatID) {
		slog.Info("flow aborted by user")
		return &Result{}, nil
	}

	if resp.IsError && request.ResumeSession != "" {
		// Resume failed. Reset the provider session and retry fresh.
		slog.Warn("resume failed, retrying fresh", "sid", sidLabel(request.ResumeSession))
		model, provider := o.requestTarget(request)
		if _, err := o.sessions.ResetProvider(chatID, provider, model); err != nil {
			return nil, err
		}
		request, session, err = o.prepareNormal(chatID, text, modelOverride)
		if err != nil {
			return nil, err
		}
		resp, err = o.execute(ctx, request, cb)
		if err != nil {
			return nil, err
		}
	}

	if isSigkill(resp) {
		request, session, resp, err = o.recoverAfterSigkill(ctx, chatID, text, modelOverride, cb)
		if err != nil {
			return nil, err
		}
	}

	if resp.IsError {
		if isSigkill(resp) {
			slog.Warn("sigkill persists, asking user to retry", "chat", chatID)
			return &Result{Text: sigkillUserText}, nil
		}
		if o.Registry().WasAborted(chatID) {
			slog.Info("flow aborted by user after retry")
			return &Result{}, nil
		}
		model, provider := o.requestTarget(request)
		return o.resetOnError(chatID, model, provider)
	}

	if err := o.updateSession(session, resp); err != nil {
		return nil, err
	}
	slog.Info("normal flow completed")
	return finishNormal(resp, session, o.cfg.SessionAgeWarningHours), nil
}

// sessionAgeNote returns a short warning once the session exceeds the
// configured age, surfaced every 10th message to avoid spam.
func sessionAgeNote(session *store.Session, warningHours int) string {
	if warningHours <= 0 || session.CreatedAt.IsZero() {
		return ""
	}
	ageHours := time.Since(session.CreatedAt).Hours()
	if ageHours < float64(warningHours) {
		return ""
	}
	if session.MessageCount()%10 != 0 {
		return ""
	}
	label := fmt.Sprintf("%dh", int(ageHours))
	if ageHours >= 48 {
		label = fmt.Sprintf("%dd", int(ageHours/24))
	}
	return fmt.Sprintf("\n\n---\n[Session is %s old. Use /new for a fresh start.]", label)
}

func finishNormal(resp *agent.Response, session *store.Session, warningHours int) *Result {
	if resp.IsError {
		if resp.TimedOut {
			return &Result{Text: "Agent timed out. Please try again."}
		}
		if isSigkill(resp) {
			return &Result{Text: sigkillUserText}
		}
		if strings.TrimSpace(resp.Result) != "" {
			return &Result{Text: "Error: " + head(resp.Result, 500)}
		}
		return &Result{Text: "Error: check logs for details."}
	}

	text := resp.Result
	if session != nil {
		text += sessionAgeNote(session, warningHours)
	}
	return &Result{Text: text, StreamFallback: resp.StreamFallback}
}

// stripAckToken removes a leading or trailing ack token.
func stripAckToken(text, token string) string {
	stripped := strings.TrimSpace(text)
	if stripped == token {
		return ""
	}
	stripped = strings.TrimSpace(strings.TrimPrefix(stripped, token))
	stripped = strings.TrimSpace(strings.TrimSuffix(stripped, token))
	return stripped
}

// heartbeatFlow runs a heartbeat turn in the existing session. It never
// creates a session and skips entirely during recent activity. Returns
// "" when the model acknowledged with the ack token.
func (o *Orchestrator) heartbeatFlow(ctx context.Context, chatID int64) string {
	hb := o.cfg.Heartbeat
	reqModel, reqProvider := o.ResolveRuntimeTarget(o.cfg.Model)

	session, err := o.sessions.GetActive(chatID)
	if err != nil || session == nil || session.SessionID() == "" {
		slog.Debug("heartbeat skipped, no active session")
		return ""
	}
	if session.Provider != reqProvider {
		slog.Debug("heartbeat skipped, provider mismatch",
			"session_provider", session.Provider, "current", reqProvider)
		return ""
	}
	if err := o.sessions.SyncTarget(chatID, "", reqModel); err != nil {
		slog.Warn("heartbeat target sync failed", "error", err)
		return ""
	}

	idle := time.Since(session.LastActive)
	cooldown := time.Duration(hb.CooldownMinutes) * time.Minute
	if idle < cooldown {
		slog.Debug("heartbeat skipped, cooldown",
			"idle_s", int(idle.Seconds()), "cooldown_s", int(cooldown.Seconds()))
		return ""
	}

	request := &agent.Request{
		ChatID:           chatID,
		Prompt:           hb.Prompt,
		ModelOverride:    reqModel,
		ProviderOverride: reqProvider,
		ResumeSession:    session.SessionID(),
		Timeout:          o.cfg.CLITimeout(),
		Label:            "heartbeat",
	}

	started := time.Now()
	resp, err := o.service.Execute(ctx, request)
	if err != nil {
		slog.Warn("heartbeat execute failed", "error", err)
		return ""
	}
	o.recordRun(ctx, store.RunOriginHeartbeat, request, resp, time.Since(started))
	if resp.IsError {
		slog.Warn("heartbeat cli error", "result", head(resp.Result, 200))
		return ""
	}

	alert := stripAckToken(resp.Result, hb.AckToken)
	if alert == "" {
		slog.Info("heartbeat ok (suppressed)")
		return ""
	}
	if err := o.updateSession(session, resp); err != nil {
		slog.Warn("heartbeat session update failed", "error", err)
	}
	slog.Info("heartbeat alert", "chars", len(alert))
	return alert
}

func sidLabel(sid string) string {
	if sid == "" {
		return "<new>"
	}
	return head(sid, 8)
}

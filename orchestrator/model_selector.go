package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/store"
)

// MSPrefix marks callback data belonging to the model selector wizard.
const MSPrefix = "ms:"

var effortLabels = map[string]string{
	"low":    "Low",
	"medium": "Medium",
	"high":   "High",
	"xhigh":  "XHigh",
}

var codexEfforts = []string{"low", "medium", "high", "xhigh"}

// IsModelSelectorCallback reports whether data belongs to the wizard.
func IsModelSelectorCallback(data string) bool {
	return strings.HasPrefix(data, MSPrefix)
}

// modelSelectorStart builds the initial /model response. The keyboard
// is nil when no providers are authenticated.
func (o *Orchestrator) modelSelectorStart(chatID int64) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	auth := o.checkAuth()
	var authed []string
	for _, name := range []string{agent.ProviderClaude, agent.ProviderCodex} {
		if res, ok := auth[name]; ok && res.IsAuthenticated() {
			authed = append(authed, name)
		}
	}

	header, err := o.selectorStatusLine(chatID)
	if err != nil {
		return "", nil, err
	}

	if len(authed) == 0 {
		return header + "\n\n" +
			"No authenticated providers found.\n" +
			"Run `claude auth` or `codex auth` to get started.", nil, nil
	}

	if len(authed) == 1 {
		text, keyboard := buildModelStep(authed[0], header)
		return text, keyboard, nil
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("CLAUDE", "ms:p:claude"),
			tgbotapi.NewInlineKeyboardButtonData("CODEX", "ms:p:codex"),
		),
	)
	return header + "\n\nPick a provider:", &keyboard, nil
}

// HandleModelCallback routes an ms:* callback to the correct wizard
// step. Returns the text and keyboard for editing the message in place.
func (o *Orchestrator) HandleModelCallback(chatID int64, data string) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	slog.Debug("model selector step", "data", head(data, 40))
	parts := strings.SplitN(strings.TrimPrefix(data, MSPrefix), ":", 3)
	action := parts[0]
	payload := ""
	if len(parts) > 1 {
		payload = parts[1]
	}
	extra := ""
	if len(parts) > 2 {
		extra = parts[2]
	}

	switch action {
	case "p":
		header, err := o.selectorStatusLine(chatID)
		if err != nil {
			return "", nil, err
		}
		text, keyboard := buildModelStep(payload, header)
		return text, keyboard, nil
	case "m":
		return o.handleModelSelected(chatID, payload)
	case "r":
		result, err := o.SwitchModel(chatID, extra, payload)
		return result, nil, err
	case "b":
		if payload == "root" {
			return o.modelSelectorStart(chatID)
		}
		header, err := o.selectorStatusLine(chatID)
		if err != nil {
			return "", nil, err
		}
		text, keyboard := buildModelStep(payload, header)
		return text, keyboard, nil
	}

	slog.Warn("unknown model selector callback", "data", data)
	return "Unknown action.", nil, nil
}

// SwitchModel executes a model switch: kill processes, preserve
// per-provider sessions, persist config. Shared by "/model <name>" and
// the wizard callbacks.
func (o *Orchestrator) SwitchModel(chatID int64, modelID, reasoningEffort string) (string, error) {
	old := o.cfg.Model
	sameModel := old == modelID
	effortOnly := sameModel && reasoningEffort != ""

	if sameModel && reasoningEffort == "" {
		return fmt.Sprintf("Already running %s. No changes made.", modelID), nil
	}

	oldProvider := agent.ProviderFor(old)
	newProvider := agent.ProviderFor(modelID)
	providerChanged := oldProvider != newProvider

	activeSession, err := o.sessions.GetActive(chatID)
	if err != nil {
		return "", err
	}
	resumeSID, resumeCount := resumeStateForProvider(activeSession, newProvider)

	if !sameModel {
		o.Registry().KillAll(chatID)
		if activeSession != nil {
			if err := o.sessions.SyncTarget(chatID, newProvider, modelID); err != nil {
				return "", err
			}
		}
	}

	o.cfg.Model = modelID
	o.service.UpdateDefaultModel(modelID)
	if providerChanged {
		o.cfg.Provider = newProvider
	}

	updates := map[string]any{"model": modelID, "provider": o.cfg.Provider}
	if reasoningEffort != "" {
		o.cfg.ReasoningEffort = reasoningEffort
		o.service.UpdateReasoningEffort(reasoningEffort)
		updates["reasoning_effort"] = reasoningEffort
	}
	if err := config.Update(o.paths.ConfigPath(), updates); err != nil {
		return "", err
	}

	slog.Info("model switch", "model", modelID, "provider", o.cfg.Provider)

	return buildSwitchSummary(switchSummary{
		oldModel:        old,
		newModel:        modelID,
		oldProvider:     oldProvider,
		newProvider:     newProvider,
		providerChanged: providerChanged,
		reasoningEffort: reasoningEffort,
		effortOnly:      effortOnly,
		resumeSessionID: resumeSID,
		resumeCount:     resumeCount,
	}), nil
}

type switchSummary struct {
	oldModel        string
	newModel        string
	oldProvider     string
	newProvider     string
	providerChanged bool
	reasoningEffort string
	effortOnly      bool
	resumeSessionID string
	resumeCount     int
}

func buildSwitchSummary(ctx switchSummary) string {
	parts := []string{"**Model switched.**"}
	if ctx.oldModel == ctx.newModel {
		parts = append(parts, "Model: "+ctx.newModel)
	} else {
		parts = append(parts, fmt.Sprintf("Model: %s -> %s", ctx.oldModel, ctx.newModel))
	}
	if ctx.providerChanged {
		parts = append(parts, fmt.Sprintf("Provider: %s -> %s", ctx.oldProvider, ctx.newProvider))
	}
	if ctx.reasoningEffort != "" {
		parts = append(parts, "Reasoning: "+ctx.reasoningEffort)
	}
	if ctx.oldModel != ctx.newModel && ctx.resumeCount > 0 {
		parts = append(parts, formatResumeHint(ctx.resumeSessionID, ctx.resumeCount, ctx.newModel))
	}
	if ctx.effortOnly {
		parts = append(parts, "\nReasoning effort updated.")
	}
	return strings.Join(parts, "\n")
}

// resumeStateForProvider returns the session id and message count for
// a provider when resumable history exists.
func resumeStateForProvider(session *store.Session, provider string) (string, int) {
	if session == nil {
		return "", 0
	}
	data, ok := session.ProviderSessions[provider]
	if !ok || data.MessageCount <= 0 {
		return "", 0
	}
	return data.SessionID, data.MessageCount
}

func formatResumeHint(sessionID string, messageCount int, modelID string) string {
	label := "messages"
	if messageCount == 1 {
		label = "message"
	}
	sid := sessionID
	if sid == "" {
		sid = "pending"
	}
	return fmt.Sprintf(
		"\nResuming session `%s`.\n"+
			"You have already sent %d %s in this provider session.\n"+
			"Current model: `%s`.\n"+
			"Use /new to start a fresh session.",
		sid, messageCount, label, modelID)
}

// selectorStatusLine builds the current model header.
func (o *Orchestrator) selectorStatusLine(chatID int64) (string, error) {
	session, err := o.sessions.GetActive(chatID)
	if err != nil {
		return "", err
	}
	var model, provider string
	if session != nil {
		model, provider = session.Model, session.Provider
	} else {
		model, provider = o.ResolveRuntimeTarget(o.cfg.Model)
	}

	current := "**Model Selector**\nCurrent: " + model
	if provider == agent.ProviderCodex {
		current = fmt.Sprintf("**Model Selector**\nCurrent: %s (%s)", model, o.cfg.ReasoningEffort)
	}
	if model != o.cfg.Model {
		current += "\nConfigured default: " + o.cfg.Model
	}
	return current, nil
}

// buildModelStep builds the model keyboard for a provider.
func buildModelStep(provider, header string) (string, *tgbotapi.InlineKeyboardMarkup) {
	back := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("<< Back", "ms:b:root"))

	if provider == agent.ProviderClaude {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, m := range agent.ClaudeModels() {
			buttons = append(buttons,
				tgbotapi.NewInlineKeyboardButtonData(strings.ToUpper(m), "ms:m:"+m))
		}
		keyboard := tgbotapi.NewInlineKeyboardMarkup(buttons, back)
		return header + "\n\nSelect Claude model:", &keyboard
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range agent.CodexModels() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(m, "ms:m:"+m)))
	}
	rows = append(rows, back)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return header + "\n\nSelect Codex model:", &keyboard
}

// handleModelSelected handles a model button press. Claude switches
// immediately; codex shows the reasoning-effort step first.
func (o *Orchestrator) handleModelSelected(chatID int64, modelID string) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	if agent.ProviderFor(modelID) == agent.ProviderClaude {
		result, err := o.SwitchModel(chatID, modelID, "")
		return result, nil, err
	}

	var buttons []tgbotapi.InlineKeyboardButton
	for _, effort := range codexEfforts {
		label := effortLabels[effort]
		if label == "" {
			label = effort
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			label, fmt.Sprintf("ms:r:%s:%s", effort, modelID)))
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		buttons,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("<< Back", "ms:b:codex")),
	)

	header, err := o.selectorStatusLine(chatID)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s\n\nThinking level for %s:", header, modelID), &keyboard, nil
}

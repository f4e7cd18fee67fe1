package orchestrator

import (
	"log/slog"
	"strings"
)

// HookContext is an immutable snapshot of session state passed to hook
// conditions.
type HookContext struct {
	ChatID       int64
	MessageCount int
	IsNewSession bool
	Provider     string
	Model        string
}

// MessageHook appends text to the prompt when its condition is met.
type MessageHook struct {
	Name      string
	Condition func(HookContext) bool
	Suffix    string
}

// HookRegistry holds message hooks applied before each CLI call.
type HookRegistry struct {
	hooks []MessageHook
}

// Register adds a hook.
func (r *HookRegistry) Register(hook MessageHook) {
	r.hooks = append(r.hooks, hook)
	slog.Debug("hook registered", "name", hook.Name)
}

// Apply evaluates all hooks and appends matching suffixes to the prompt.
func (r *HookRegistry) Apply(prompt string, ctx HookContext) string {
	var suffixes []string
	for _, hook := range r.hooks {
		if hook.Condition(ctx) {
			slog.Info("hook fired", "name", hook.Name, "msgs", ctx.MessageCount)
			suffixes = append(suffixes, hook.Suffix)
		}
	}
	if len(suffixes) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(suffixes, "\n\n")
}

// everyNMessages fires on every n-th message (6th, 12th, ...), never on
// the first. The message count is pre-increment at call time.
func everyNMessages(n int) func(HookContext) bool {
	return func(ctx HookContext) bool {
		effective := ctx.MessageCount + 1
		return effective >= n && effective%n == 0
	}
}

// MainMemoryReminder periodically nudges the agent to reconcile the
// conversation with its persistent memory files.
var MainMemoryReminder = MessageHook{
	Name:      "mainmemory_reminder",
	Condition: everyNMessages(6),
	Suffix: "## MEMORY CHECK\n" +
		"Silently review: memory_system/MAINMEMORY.md, user_tools/, cron_tasks/.\n" +
		"Compare what you already know with this conversation so far.\n" +
		"If something important is missing from memory (personality, preferences, " +
		"decisions, facts) -- update MAINMEMORY.md silently.\n" +
		"If you notice a gap that only the user can fill, ask ONE natural follow-up " +
		"question that fits the current conversation. Do not interrogate.",
}

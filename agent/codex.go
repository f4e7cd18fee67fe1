package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hrygo/ductor/internal/errs"
)

// CodexCLI runs the OpenAI codex CLI in exec mode with JSONL output.
type CodexCLI struct {
	opts            Options
	registry        *Registry
	cli             string
	dockerContainer string
}

var _ Runner = (*CodexCLI)(nil)

// NewCodexCLI resolves the codex binary and returns a runner.
func NewCodexCLI(opts Options, registry *Registry, dockerContainer string) (*CodexCLI, error) {
	cli := "codex"
	if dockerContainer == "" {
		path, err := exec.LookPath("codex")
		if err != nil {
			return nil, errs.Wrap(err, errs.KindCLI,
				"codex CLI not found on PATH, install via: npm install -g @openai/codex")
		}
		cli = path
	}
	return &CodexCLI{
		opts:            opts,
		registry:        registry,
		cli:             cli,
		dockerContainer: dockerContainer,
	}, nil
}

// composePrompt folds system context into the user prompt because
// codex has no --system-prompt flag.
func (c *CodexCLI) composePrompt(prompt string) string {
	var parts []string
	if c.opts.SystemPrompt != "" {
		parts = append(parts, c.opts.SystemPrompt)
	}
	parts = append(parts, prompt)
	if c.opts.AppendSystemPrompt != "" {
		parts = append(parts, c.opts.AppendSystemPrompt)
	}
	return strings.Join(parts, "\n\n")
}

func (c *CodexCLI) sandboxFlags() []string {
	if c.opts.PermissionMode == "bypassPermissions" {
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	}
	switch c.opts.SandboxMode {
	case "full-access":
		return []string{"--sandbox", "danger-full-access"}
	case "workspace-write":
		return []string{"--full-auto"}
	}
	return []string{"--sandbox", c.opts.SandboxMode}
}

// buildCommand assembles the codex exec command line. resumeSession
// switches to the exec resume form; codex has no --continue equivalent,
// continue requests run without an explicit session.
func (c *CodexCLI) buildCommand(prompt, resumeSession string, jsonOutput bool) []string {
	finalPrompt := c.composePrompt(prompt)

	if resumeSession != "" {
		argv := []string{c.cli, "exec", "resume"}
		if jsonOutput {
			argv = append(argv, "--json")
		}
		argv = append(argv, c.sandboxFlags()...)
		return append(argv, "--", resumeSession, finalPrompt)
	}

	argv := []string{c.cli, "exec"}
	if jsonOutput {
		argv = append(argv, "--json")
	}
	argv = append(argv, "--color", "never")
	argv = append(argv, c.sandboxFlags()...)
	argv = append(argv, "--skip-git-repo-check")

	argv = addOpt(argv, "--model", c.opts.Model)
	if c.opts.ReasoningEffort != "" && c.opts.ReasoningEffort != "default" {
		argv = append(argv, "-c", fmt.Sprintf("model_reasoning_effort=%s", c.opts.ReasoningEffort))
	}
	argv = append(argv, c.opts.ExtraArgs...)

	return append(argv, "--", finalPrompt)
}

// Run executes one non-streaming codex call.
func (c *CodexCLI) Run(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration) (*Response, error) {
	argv := c.buildCommand(prompt, resumeSession, true)
	argv, dir := dockerWrap(argv, c.dockerContainer, c.opts.ChatID, c.opts.WorkingDir)

	res, err := runCapture(ctx, c.registry, c.opts.ChatID, c.opts.Label, argv, dir, timeout)
	if err != nil {
		return nil, err
	}
	if res.timedOut {
		slog.Warn("codex cli timed out", "label", c.opts.Label, "timeout", timeout)
		return &Response{Result: "", IsError: true, TimedOut: true}, nil
	}
	return parseCodexOutput(res), nil
}

// Stream executes one streaming codex call. Text deltas are filtered
// through a thinking filter and a final result event is synthesised
// from the accumulated text after exit, since codex does not emit a
// terminal result line of its own.
func (c *CodexCLI) Stream(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration, emit func(Event)) error {
	argv := c.buildCommand(prompt, resumeSession, true)
	argv, dir := dockerWrap(argv, c.dockerContainer, c.opts.ChatID, c.opts.WorkingDir)

	var (
		filter      ThinkingFilter
		accumulated []string
		threadID    string
	)
	track := func(ev Event) {
		switch ev.Kind {
		case EventSystemInit:
			if ev.SessionID != "" {
				threadID = ev.SessionID
			}
		case EventAssistantText:
			if ev.Text != "" {
				accumulated = append(accumulated, ev.Text)
			}
		}
	}
	parse := func(line string) []Event {
		var out []Event
		for _, raw := range ParseCodexStreamLine(line) {
			for _, ev := range filter.Process(raw) {
				track(ev)
				out = append(out, ev)
			}
		}
		return out
	}
	finish := func(returnCode int, stderrText string, timedOut bool) []Event {
		if timedOut {
			return []Event{{Kind: EventResult, Result: &ResultPayload{IsError: true}}}
		}
		var out []Event
		for _, ev := range filter.Flush() {
			track(ev)
			out = append(out, ev)
		}
		if returnCode != 0 {
			detail := stderrText
			if detail == "" {
				detail = strings.Join(accumulated, "\n")
			}
			if detail == "" {
				detail = "(no output)"
			}
			slog.Error("codex stream exited nonzero",
				"label", c.opts.Label, "code", returnCode, "detail", head(detail, 300))
			return append(out, Event{Kind: EventResult, Result: &ResultPayload{
				Result:     head(detail, 500),
				IsError:    true,
				ReturnCode: returnCode,
			}})
		}
		return append(out, Event{Kind: EventResult, Result: &ResultPayload{
			SessionID: threadID,
			Result:    strings.Join(accumulated, "\n"),
		}})
	}
	return streamCapture(ctx, c.registry, c.opts.ChatID, c.opts.Label, argv, dir, timeout, parse, emit, finish)
}

// parseCodexOutput extracts the final answer from a JSONL transcript.
func parseCodexOutput(res *execResult) *Response {
	stderr := truncateStderr(res.stderr)
	if stderr != "" {
		slog.Warn("codex stderr", "code", res.returnCode, "stderr", head(stderr, 500))
	}

	raw := strings.TrimSpace(res.stdout)
	if raw == "" {
		slog.Error("codex produced no output", "code", res.returnCode)
		return &Response{
			IsError:    true,
			ReturnCode: res.returnCode,
			Stderr:     stderr,
			DurationMS: res.durationMS,
		}
	}

	resultText, threadID, usage := ParseCodexJSONL(raw)
	resp := &Response{
		SessionID:  threadID,
		Result:     resultText,
		IsError:    res.returnCode != 0 || resultText == "",
		ReturnCode: res.returnCode,
		Stderr:     stderr,
		DurationMS: res.durationMS,
		Usage:      usage,
	}
	if resp.Result == "" {
		resp.Result = raw
	}

	if resp.IsError {
		slog.Error("codex error", "code", res.returnCode, "result", head(resp.Result, 300))
	} else {
		slog.Info("codex done", "session", head(resp.SessionID, 8), "tokens", resp.TotalTokens())
	}
	return resp
}

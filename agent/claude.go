package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/ductor/internal/errs"
)

// ClaudeCLI runs the claude code CLI in print mode with JSON output.
type ClaudeCLI struct {
	opts            Options
	registry        *Registry
	cli             string
	dockerContainer string
}

var _ Runner = (*ClaudeCLI)(nil)

// NewClaudeCLI resolves the claude binary and returns a runner. With a
// docker container configured the binary is resolved inside the
// container instead.
func NewClaudeCLI(opts Options, registry *Registry, dockerContainer string) (*ClaudeCLI, error) {
	cli := "claude"
	if dockerContainer == "" {
		path, err := exec.LookPath("claude")
		if err != nil {
			return nil, errs.Wrap(err, errs.KindCLI,
				"claude CLI not found on PATH, install via: npm install -g @anthropic-ai/claude-code")
		}
		cli = path
	}
	return &ClaudeCLI{
		opts:            opts,
		registry:        registry,
		cli:             cli,
		dockerContainer: dockerContainer,
	}, nil
}

func (c *ClaudeCLI) buildCommand(prompt, resumeSession string, continueSession bool) []string {
	o := c.opts
	argv := []string{c.cli, "-p", "--output-format", "json"}

	argv = addOpt(argv, "--permission-mode", o.PermissionMode)
	argv = addOpt(argv, "--model", o.Model)
	argv = addOpt(argv, "--system-prompt", o.SystemPrompt)
	argv = addOpt(argv, "--append-system-prompt", o.AppendSystemPrompt)
	if o.MaxTurns > 0 {
		argv = append(argv, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	if o.MaxBudgetUSD > 0 {
		argv = append(argv, "--max-budget-usd", strconv.FormatFloat(o.MaxBudgetUSD, 'f', -1, 64))
	}

	if len(o.AllowedTools) > 0 {
		argv = append(argv, "--allowedTools")
		argv = append(argv, o.AllowedTools...)
	}
	if len(o.DisallowedTools) > 0 {
		argv = append(argv, "--disallowedTools")
		argv = append(argv, o.DisallowedTools...)
	}

	if resumeSession != "" {
		argv = append(argv, "--resume", resumeSession)
	} else if continueSession {
		argv = append(argv, "--continue")
	}

	argv = append(argv, "--", prompt)
	return argv
}

// streamCommand converts a print-mode command to its streaming form.
func streamCommand(argv []string) []string {
	out := make([]string, 0, len(argv)+1)
	out = append(out, argv[0], "--verbose")
	for _, a := range argv[1:] {
		if a == "json" {
			a = "stream-json"
		}
		out = append(out, a)
	}
	return out
}

// Run executes one non-streaming claude call.
func (c *ClaudeCLI) Run(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration) (*Response, error) {
	argv := c.buildCommand(prompt, resumeSession, continueSession)
	argv, dir := dockerWrap(argv, c.dockerContainer, c.opts.ChatID, c.opts.WorkingDir)

	res, err := runCapture(ctx, c.registry, c.opts.ChatID, c.opts.Label, argv, dir, timeout)
	if err != nil {
		return nil, err
	}
	if res.timedOut {
		slog.Warn("cli timed out", "label", c.opts.Label, "timeout", timeout)
		return &Response{Result: "", IsError: true, TimedOut: true}, nil
	}
	return parseClaudeOutput(res), nil
}

// Stream executes one streaming claude call, emitting normalised events.
func (c *ClaudeCLI) Stream(ctx context.Context, prompt, resumeSession string, continueSession bool, timeout time.Duration, emit func(Event)) error {
	argv := streamCommand(c.buildCommand(prompt, resumeSession, continueSession))
	argv, dir := dockerWrap(argv, c.dockerContainer, c.opts.ChatID, c.opts.WorkingDir)

	finish := func(returnCode int, stderrText string, timedOut bool) []Event {
		if timedOut {
			return []Event{{Kind: EventResult, Result: &ResultPayload{IsError: true}}}
		}
		if returnCode != 0 {
			slog.Warn("cli stream exited nonzero",
				"label", c.opts.Label, "code", returnCode, "stderr", head(stderrText, 200))
			return []Event{{Kind: EventResult, Result: &ResultPayload{
				Result:     head(stderrText, 500),
				IsError:    true,
				ReturnCode: returnCode,
			}}}
		}
		return nil
	}
	return streamCapture(ctx, c.registry, c.opts.ChatID, c.opts.Label, argv, dir, timeout, ParseStreamLine, emit, finish)
}

type claudeResult struct {
	SessionID    string  `json:"session_id"`
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        Usage   `json:"usage"`
}

// parseClaudeOutput decodes the single JSON result object. Empty or
// unparseable stdout becomes an error response carrying the raw text.
func parseClaudeOutput(res *execResult) *Response {
	stderr := truncateStderr(res.stderr)
	raw := strings.TrimSpace(res.stdout)
	if raw == "" {
		slog.Warn("cli produced no output", "code", res.returnCode, "stderr", head(stderr, 200))
		return &Response{
			IsError:    true,
			ReturnCode: res.returnCode,
			Stderr:     stderr,
			DurationMS: res.durationMS,
		}
	}

	var parsed claudeResult
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("cli output not valid JSON", "prefix", head(raw, 200))
		return &Response{
			Result:     raw,
			IsError:    true,
			ReturnCode: res.returnCode,
			Stderr:     stderr,
			DurationMS: res.durationMS,
		}
	}

	duration := parsed.DurationMS
	if duration == 0 {
		duration = res.durationMS
	}
	return &Response{
		SessionID:    parsed.SessionID,
		Result:       parsed.Result,
		IsError:      parsed.IsError || res.returnCode != 0,
		ReturnCode:   res.returnCode,
		Stderr:       stderr,
		DurationMS:   duration,
		NumTurns:     parsed.NumTurns,
		TotalCostUSD: parsed.TotalCostUSD,
		Usage:        parsed.Usage,
	}
}

// Package agent drives AI coding-agent CLIs (claude, codex) as
// subprocesses and normalises their output into a common response shape.
package agent

import "time"

// Provider names understood by the agent layer.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
)

const stderrTruncateLen = 2000

// Usage holds token accounting reported by a CLI run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Request describes a single CLI invocation as seen by callers
// (orchestrator, cron, heartbeat, webhook).
type Request struct {
	ChatID             int64
	Prompt             string
	SystemPrompt       string
	AppendSystemPrompt string
	ResumeSession      string
	ContinueSession    bool
	ModelOverride      string
	ProviderOverride   string
	Timeout            time.Duration
	Label              string
}

// Response is the normalised result of one CLI subprocess run.
type Response struct {
	SessionID      string
	Result         string
	IsError        bool
	ReturnCode     int
	Stderr         string
	TimedOut       bool
	DurationMS     int64
	NumTurns       int
	TotalCostUSD   float64
	Usage          Usage
	StreamFallback bool
}

// TotalTokens returns the token count attributed to this run.
func (r *Response) TotalTokens() int {
	return r.Usage.Total()
}

func truncateStderr(s string) string {
	if len(s) > stderrTruncateLen {
		return s[:stderrTruncateLen]
	}
	return s
}

// Options is the fully resolved configuration handed to a runner.
// The service builds one per request from global config plus overrides.
type Options struct {
	Provider           string
	WorkingDir         string
	Model              string
	SystemPrompt       string
	AppendSystemPrompt string
	MaxTurns           int
	MaxBudgetUSD       float64
	PermissionMode     string
	SandboxMode        string
	ReasoningEffort    string
	AllowedTools       []string
	DisallowedTools    []string
	ExtraArgs          []string
	ChatID             int64
	Label              string
}

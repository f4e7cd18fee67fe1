package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeBuildCommand(t *testing.T) {
	c := &ClaudeCLI{
		cli: "claude",
		opts: Options{
			PermissionMode: "bypassPermissions",
			Model:          "opus",
			MaxTurns:       25,
			MaxBudgetUSD:   1.5,
		},
	}

	argv := c.buildCommand("do the thing", "", false)
	assert.Equal(t, []string{
		"claude", "-p", "--output-format", "json",
		"--permission-mode", "bypassPermissions",
		"--model", "opus",
		"--max-turns", "25",
		"--max-budget-usd", "1.5",
		"--", "do the thing",
	}, argv)
}

func TestClaudeBuildCommandResumeBeatsContinue(t *testing.T) {
	c := &ClaudeCLI{cli: "claude", opts: Options{Model: "sonnet"}}

	resumed := c.buildCommand("hi", "sid-1", true)
	assert.Contains(t, resumed, "--resume")
	assert.Contains(t, resumed, "sid-1")
	assert.NotContains(t, resumed, "--continue")

	continued := c.buildCommand("hi", "", true)
	assert.Contains(t, continued, "--continue")
	assert.NotContains(t, continued, "--resume")
}

func TestClaudeStreamCommand(t *testing.T) {
	c := &ClaudeCLI{cli: "claude", opts: Options{Model: "opus"}}
	argv := streamCommand(c.buildCommand("hi", "", false))

	assert.Equal(t, "--verbose", argv[1])
	assert.Contains(t, argv, "stream-json")
	assert.NotContains(t, argv, "json")
}

func TestCodexBuildCommand(t *testing.T) {
	c := &CodexCLI{
		cli: "codex",
		opts: Options{
			Model:              "gpt-5.2-codex",
			PermissionMode:     "bypassPermissions",
			ReasoningEffort:    "high",
			SystemPrompt:       "be brief",
			AppendSystemPrompt: "check memory",
			ExtraArgs:          []string{"-c", "foo=bar"},
		},
	}

	argv := c.buildCommand("hello", "", true)
	assert.Equal(t, []string{
		"codex", "exec", "--json", "--color", "never",
		"--dangerously-bypass-approvals-and-sandbox",
		"--skip-git-repo-check",
		"--model", "gpt-5.2-codex",
		"-c", "model_reasoning_effort=high",
		"-c", "foo=bar",
		"--", "be brief\n\nhello\n\ncheck memory",
	}, argv)
}

func TestCodexBuildCommandResume(t *testing.T) {
	c := &CodexCLI{
		cli:  "codex",
		opts: Options{PermissionMode: "bypassPermissions"},
	}

	argv := c.buildCommand("again", "tid-9", true)
	assert.Equal(t, []string{
		"codex", "exec", "resume", "--json",
		"--dangerously-bypass-approvals-and-sandbox",
		"--", "tid-9", "again",
	}, argv)
}

func TestCodexSandboxFlags(t *testing.T) {
	cases := []struct {
		permission string
		sandbox    string
		want       []string
	}{
		{"bypassPermissions", "read-only", []string{"--dangerously-bypass-approvals-and-sandbox"}},
		{"default", "full-access", []string{"--sandbox", "danger-full-access"}},
		{"default", "workspace-write", []string{"--full-auto"}},
		{"default", "read-only", []string{"--sandbox", "read-only"}},
	}
	for _, tc := range cases {
		c := &CodexCLI{opts: Options{PermissionMode: tc.permission, SandboxMode: tc.sandbox}}
		assert.Equal(t, tc.want, c.sandboxFlags(), "permission=%s sandbox=%s", tc.permission, tc.sandbox)
	}
}

func TestCodexReasoningEffortDefaultOmitted(t *testing.T) {
	c := &CodexCLI{
		cli:  "codex",
		opts: Options{ReasoningEffort: "default", SandboxMode: "read-only"},
	}
	argv := c.buildCommand("hi", "", true)
	for _, a := range argv {
		assert.NotContains(t, a, "model_reasoning_effort")
	}
}

func TestDockerWrap(t *testing.T) {
	argv, dir := dockerWrap([]string{"claude", "-p"}, "", 7, "/work")
	assert.Equal(t, []string{"claude", "-p"}, argv)
	assert.Equal(t, "/work", dir)

	argv, dir = dockerWrap([]string{"claude", "-p"}, "sandbox-1", 7, "/work")
	require.Equal(t, []string{
		"docker", "exec", "-e", "DUCTOR_CHAT_ID=7", "sandbox-1", "claude", "-p",
	}, argv)
	assert.Empty(t, dir)
}

func TestParseClaudeOutput(t *testing.T) {
	res := &execResult{
		stdout: `{"session_id":"s1","result":"hi","is_error":false,` +
			`"duration_ms":900,"num_turns":2,"total_cost_usd":0.01,` +
			`"usage":{"input_tokens":5,"output_tokens":7}}`,
	}
	resp := parseClaudeOutput(res)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "hi", resp.Result)
	assert.False(t, resp.IsError)
	assert.Equal(t, 12, resp.TotalTokens())
}

func TestParseClaudeOutputEmptyStdout(t *testing.T) {
	resp := parseClaudeOutput(&execResult{stderr: "boom", returnCode: 1})
	assert.True(t, resp.IsError)
	assert.Equal(t, "boom", resp.Stderr)
}

func TestParseClaudeOutputInvalidJSON(t *testing.T) {
	resp := parseClaudeOutput(&execResult{stdout: "plain text output"})
	assert.True(t, resp.IsError)
	assert.Equal(t, "plain text output", resp.Result)
}

func TestParseCodexOutput(t *testing.T) {
	res := &execResult{
		stdout: `{"type":"thread.started","thread_id":"t1"}` + "\n" +
			`{"type":"item.completed","item":{"type":"agent_message","text":"done"}}` + "\n" +
			`{"type":"turn.completed","usage":{"input_tokens":1,"output_tokens":2}}`,
	}
	resp := parseCodexOutput(res)
	assert.Equal(t, "t1", resp.SessionID)
	assert.Equal(t, "done", resp.Result)
	assert.False(t, resp.IsError)
	assert.Equal(t, 3, resp.TotalTokens())
}

func TestParseCodexOutputNoText(t *testing.T) {
	res := &execResult{stdout: `{"type":"thread.started","thread_id":"t1"}`}
	resp := parseCodexOutput(res)
	assert.True(t, resp.IsError)
	// Raw transcript is surfaced when no agent message was found.
	assert.Contains(t, resp.Result, "thread.started")
}

package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hrygo/ductor/agent"
)

const resultTruncateLen = 2000

// EnrichInstruction appends the task-memory protocol to a job's
// instruction. Each task folder carries a <folder>_MEMORY.md file the
// agent reads before and updates after every run.
func EnrichInstruction(instruction, folderName string) string {
	return instruction + fmt.Sprintf("\n\nIMPORTANT:\n"+
		"- Read the %s_MEMORY.md file (it contains important information!)\n"+
		"- When finished, update %s_MEMORY.md with DATE + TIME and what you have done.",
		folderName, folderName)
}

// BuildOneShotCommand composes the CLI invocation for a single
// non-interactive run with no session persistence.
func BuildOneShotCommand(ex *agent.Execution, prompt string) []string {
	if ex.Provider == agent.ProviderCodex {
		argv := []string{"codex", "exec", "--json", "--color", "never", "--skip-git-repo-check"}
		if ex.PermissionMode == "bypassPermissions" {
			argv = append(argv, "--dangerously-bypass-approvals-and-sandbox")
		} else {
			argv = append(argv, "--full-auto")
		}
		argv = append(argv, "--model", ex.Model)
		if ex.ReasoningEffort != "" && ex.ReasoningEffort != "medium" {
			argv = append(argv, "-c", "model_reasoning_effort="+ex.ReasoningEffort)
		}
		argv = append(argv, ex.CLIParameters...)
		return append(argv, "--", prompt)
	}
	argv := []string{"claude", "-p", "--output-format", "json",
		"--model", ex.Model,
		"--permission-mode", ex.PermissionMode,
		"--no-session-persistence"}
	argv = append(argv, ex.CLIParameters...)
	return append(argv, "--", prompt)
}

// RunResult is the outcome of one task execution.
type RunResult struct {
	Status  string
	Text    string
	Usage   agent.Usage
	CostUSD float64
}

// RunTask executes a one-shot CLI invocation inside dir. The status is
// "success" or an "error:*" code suitable for the job's run status.
func RunTask(ctx context.Context, ex *agent.Execution, prompt, dir string, timeout time.Duration) *RunResult {
	argv := BuildOneShotCommand(ex, prompt)
	if _, err := exec.LookPath(argv[0]); err != nil {
		return &RunResult{
			Status: "error:cli_not_found_" + ex.Provider,
			Text:   fmt.Sprintf("[%s CLI not found in PATH]", ex.Provider),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return &RunResult{
			Status: "error:timeout",
			Text:   fmt.Sprintf("[Cron job timed out after %ds]", int(timeout.Seconds())),
		}
	}
	if err != nil {
		code := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return &RunResult{
			Status: fmt.Sprintf("error:exit_%d", code),
			Text:   parseTaskOutput(ex.Provider, stdout.String()).Text,
		}
	}

	parsed := parseTaskOutput(ex.Provider, stdout.String())
	parsed.Status = "success"
	return parsed
}

type claudeOneShot struct {
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

func parseTaskOutput(provider, output string) *RunResult {
	if provider == agent.ProviderCodex {
		text, _, usage := agent.ParseCodexJSONL(output)
		if text == "" {
			text = truncateResult(output)
		}
		return &RunResult{Text: text, Usage: usage}
	}
	var res claudeOneShot
	if err := json.Unmarshal([]byte(output), &res); err != nil || res.Result == "" {
		return &RunResult{Text: truncateResult(output)}
	}
	return &RunResult{Text: res.Result, CostUSD: res.TotalCostUSD}
}

func truncateResult(s string) string {
	if len(s) > resultTruncateLen {
		return s[:resultTruncateLen]
	}
	return s
}

// TaskFolderPath returns the absolute folder for a job, or "" when the
// folder does not exist.
func TaskFolderPath(tasksDir, folder string) string {
	dir := filepath.Join(tasksDir, folder)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

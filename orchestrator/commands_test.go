package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/internal/version"
)

func TestFormatThousands(t *testing.T) {
	assert.Equal(t, "0", formatThousands(0))
	assert.Equal(t, "999", formatThousands(999))
	assert.Equal(t, "1,000", formatThousands(1000))
	assert.Equal(t, "12,345,678", formatThousands(12345678))
	assert.Equal(t, "-1,234", formatThousands(-1234))
}

func TestCmdResetText(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.cmdReset(context.Background(), 1, "/new")
	require.NoError(t, err)
	assert.Equal(t, NewSessionText, res.Text)
}

func TestCmdStopNothingRunning(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.cmdStop(context.Background(), 1, "/stop")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Nothing running right now.")
}

func TestCmdMemoryEmpty(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.cmdMemory(context.Background(), 1, "/memory")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "**Main Memory**")
	assert.Contains(t, res.Text, "Empty. The agent will build memory as you interact.")
}

func TestCmdModelDirectSwitch(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.cmdModel(context.Background(), 1, "/model opus")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Model: sonnet -> opus")
}

func TestCmdModelOpensSelector(t *testing.T) {
	o := newTestOrchestrator(t)
	o.checkAuth = authedProviders(agent.ProviderClaude, agent.ProviderCodex)

	res, err := o.cmdModel(context.Background(), 1, "/model")
	require.NoError(t, err)
	require.NotNil(t, res.ReplyMarkup)
	assert.Contains(t, res.Text, "Pick a provider:")
}

func TestCmdStatusNoSession(t *testing.T) {
	o := newTestOrchestrator(t)
	o.checkAuth = authedProviders(agent.ProviderClaude)

	res, err := o.cmdStatus(context.Background(), 1, "/status")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "**Status**")
	assert.Contains(t, res.Text, "No active session.")
	assert.Contains(t, res.Text, "[claude] authenticated")
}

func TestCmdStatusWithSession(t *testing.T) {
	o := newTestOrchestrator(t)

	session, _, err := o.sessions.Resolve(1, agent.ProviderClaude, "sonnet")
	require.NoError(t, err)
	session.SetSessionID("abcdef1234567890")
	require.NoError(t, o.sessions.Update(session, 0.1234, 5000))

	res, err := o.cmdStatus(context.Background(), 1, "/status")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Session: `abcdef12...`")
	assert.Contains(t, res.Text, "Messages: 1")
	assert.Contains(t, res.Text, "Tokens: 5,000")
	assert.Contains(t, res.Text, "Cost: $0.1234")
	assert.Contains(t, res.Text, "Model: sonnet")
}

func TestCmdUpgradeDevBuild(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.cmdUpgrade(context.Background(), 1, "/upgrade")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "**Running From Source**")
}

func withVersion(t *testing.T, v string) {
	t.Helper()
	prev := version.Version
	version.Version = v
	t.Cleanup(func() { version.Version = prev })
}

func TestCmdUpgradeUpToDate(t *testing.T) {
	o := newTestOrchestrator(t)
	withVersion(t, "1.2.0")
	o.fetchLatestRelease = func(context.Context) (string, error) { return "1.2.0", nil }

	res, err := o.cmdUpgrade(context.Background(), 1, "/upgrade")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "**Already Up to Date**")
	assert.Contains(t, res.Text, "You're running the latest version.")
}

func TestCmdUpgradeNewRelease(t *testing.T) {
	o := newTestOrchestrator(t)
	withVersion(t, "1.2.0")
	o.fetchLatestRelease = func(context.Context) (string, error) { return "1.3.0", nil }

	res, err := o.cmdUpgrade(context.Background(), 1, "/upgrade")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "**Update Available**")
	assert.Contains(t, res.Text, "go install github.com/hrygo/ductor/cmd/ductor@1.3.0")
}

func TestCmdUpgradeFetchError(t *testing.T) {
	o := newTestOrchestrator(t)
	withVersion(t, "1.2.0")
	o.fetchLatestRelease = func(context.Context) (string, error) {
		return "", errors.New("network down")
	}

	res, err := o.cmdUpgrade(context.Background(), 1, "/upgrade")
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Could not reach the release server")
}

func TestHandleMessageDirectiveOnly(t *testing.T) {
	o := newTestOrchestrator(t)

	res := o.HandleMessage(context.Background(), 1, "@opus")
	assert.Contains(t, res.Text, "Next message will use: opus")
}

func TestHandleMessageCommandDispatch(t *testing.T) {
	o := newTestOrchestrator(t)

	res := o.HandleMessage(context.Background(), 1, "/new")
	assert.Equal(t, NewSessionText, res.Text)
}

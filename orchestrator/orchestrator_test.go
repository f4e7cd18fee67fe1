package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/plugin/cron"
	"github.com/hrygo/ductor/store"
	"github.com/hrygo/ductor/workspace"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	home := t.TempDir()
	paths, err := workspace.ResolvePaths(home)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Model = "sonnet"
	cfg.Provider = agent.ProviderClaude
	require.NoError(t, config.WriteJSONAtomic(paths.ConfigPath(), map[string]any{
		"model":    cfg.Model,
		"provider": cfg.Provider,
	}))

	service := agent.NewService(agent.ServiceConfig{
		WorkingDir:   home,
		DefaultModel: cfg.Model,
		Provider:     cfg.Provider,
	}, map[string]bool{agent.ProviderClaude: true, agent.ProviderCodex: true}, agent.NewRegistry())

	o := New(Deps{
		Config:    cfg,
		Paths:     paths,
		Sessions:  store.NewSessionStore(paths.SessionsPath(), cfg),
		Service:   service,
		CronStore: cron.NewStore(filepath.Join(home, "cron_jobs.json")),
	})
	o.checkAuth = func() map[string]agent.AuthResult { return nil }
	o.UpdateAvailableProviders(map[string]bool{
		agent.ProviderClaude: true,
		agent.ProviderCodex:  true,
	})
	return o
}

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ductor/config"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	cfg := config.Default()
	cfg.Provider = "claude"
	cfg.Model = "sonnet"
	return NewSessionStore(filepath.Join(t.TempDir(), "sessions.json"), cfg)
}

func TestResolveCreatesSession(t *testing.T) {
	st := newTestStore(t)

	session, isNew, err := st.Resolve(1, "", "")
	require.NoError(t, err)

	assert.True(t, isNew)
	assert.Equal(t, "claude", session.Provider)
	assert.Equal(t, "sonnet", session.Model)
	assert.Empty(t, session.SessionID())
}

func TestResolveReusesFreshSession(t *testing.T) {
	st := newTestStore(t)

	first, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	first.SetSessionID("sid-1")
	require.NoError(t, st.Update(first, 0.01, 100))

	second, isNew, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)

	assert.False(t, isNew)
	assert.Equal(t, "sid-1", second.SessionID())
	assert.Equal(t, 1, second.MessageCount())
}

func TestResolveSwitchesProviderKeepingRecords(t *testing.T) {
	st := newTestStore(t)

	first, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	first.SetSessionID("claude-sid")
	require.NoError(t, st.Update(first, 0, 10))

	second, isNew, err := st.Resolve(1, "codex", "gpt-5.2-codex")
	require.NoError(t, err)

	assert.True(t, isNew, "no codex session id yet")
	assert.Equal(t, "codex", second.Provider)
	assert.Empty(t, second.SessionID())
	assert.Equal(t, "claude-sid", second.ProviderSessions["claude"].SessionID)
}

func TestResolveExpiresIdleSession(t *testing.T) {
	st := newTestStore(t)
	st.cfg.IdleTimeoutMinutes = 60

	first, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	first.SetSessionID("old-sid")
	require.NoError(t, st.Update(first, 0, 0))

	// Age the stored record past the idle timeout.
	sessions := st.load()
	sessions[key(1)].LastActive = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.save(sessions))

	fresh, isNew, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Empty(t, fresh.SessionID())
}

func TestResolveExpiresOnMessageCap(t *testing.T) {
	st := newTestStore(t)
	st.cfg.MaxSessionMessages = 2

	session, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	session.SetSessionID("sid")
	require.NoError(t, st.Update(session, 0, 0))
	require.NoError(t, st.Update(session, 0, 0))

	_, isNew, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestUpdateAccumulatesCounters(t *testing.T) {
	st := newTestStore(t)

	session, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	session.SetSessionID("sid")

	require.NoError(t, st.Update(session, 0.05, 1000))
	require.NoError(t, st.Update(session, 0.03, 500))

	assert.Equal(t, 2, session.MessageCount())
	assert.InDelta(t, 0.08, session.TotalCostUSD(), 1e-9)
	assert.Equal(t, 1500, session.TotalTokens())
}

func TestUpdateNeverRegressesCounters(t *testing.T) {
	st := newTestStore(t)

	session, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	session.SetSessionID("sid")
	require.NoError(t, st.Update(session, 0.10, 1000))

	// A stale snapshot with lower counters must not shrink the aggregate.
	stale := session.clone()
	stale.ProviderSessions["claude"].MessageCount = 0
	stale.ProviderSessions["claude"].TotalTokens = 1
	stale.ProviderSessions["claude"].SessionID = ""
	require.NoError(t, st.Update(stale, 0, 0))

	stored, err := st.GetActive(1)
	require.NoError(t, err)
	assert.Equal(t, "sid", stored.SessionID())
	assert.Equal(t, 2, stored.MessageCount())
	assert.GreaterOrEqual(t, stored.TotalTokens(), 1000)
}

func TestResetProviderKeepsOtherProviders(t *testing.T) {
	st := newTestStore(t)

	session, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	session.SetSessionID("claude-sid")
	require.NoError(t, st.Update(session, 0, 0))

	reset, err := st.ResetProvider(1, "codex", "gpt-5.2-codex")
	require.NoError(t, err)

	assert.Equal(t, "codex", reset.Provider)
	assert.Empty(t, reset.SessionID())
	assert.Equal(t, "claude-sid", reset.ProviderSessions["claude"].SessionID)
}

func TestGetActiveWithoutSession(t *testing.T) {
	st := newTestStore(t)
	session, err := st.GetActive(99)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestSyncTarget(t *testing.T) {
	st := newTestStore(t)

	_, _, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)

	require.NoError(t, st.SyncTarget(1, "codex", "gpt-5.2-codex"))
	stored, err := st.GetActive(1)
	require.NoError(t, err)
	assert.Equal(t, "codex", stored.Provider)
	assert.Equal(t, "gpt-5.2-codex", stored.Model)

	// Empty fields leave the target unchanged.
	require.NoError(t, st.SyncTarget(1, "", ""))
	stored, err = st.GetActive(1)
	require.NoError(t, err)
	assert.Equal(t, "codex", stored.Provider)

	// Unknown chats are a no-op.
	require.NoError(t, st.SyncTarget(42, "claude", "opus"))
}

func TestCorruptSessionsFileStartsFresh(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, os.WriteFile(st.path, []byte("{not json"), 0o644))

	session, isNew, err := st.Resolve(1, "claude", "sonnet")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotNil(t, session)
}

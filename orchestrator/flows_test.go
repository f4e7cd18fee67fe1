package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/ductor/agent"
	"github.com/hrygo/ductor/store"
)

func TestStripAckToken(t *testing.T) {
	assert.Equal(t, "", stripAckToken("HEARTBEAT_OK", "HEARTBEAT_OK"))
	assert.Equal(t, "", stripAckToken("  HEARTBEAT_OK  ", "HEARTBEAT_OK"))
	assert.Equal(t, "disk almost full", stripAckToken("HEARTBEAT_OK disk almost full", "HEARTBEAT_OK"))
	assert.Equal(t, "disk almost full", stripAckToken("disk almost full HEARTBEAT_OK", "HEARTBEAT_OK"))
	assert.Equal(t, "all good", stripAckToken("all good", "HEARTBEAT_OK"))
}

func testSession(createdAt time.Time, messageCount int) *store.Session {
	return &store.Session{
		ChatID:    1,
		Provider:  agent.ProviderClaude,
		Model:     "sonnet",
		CreatedAt: createdAt,
		ProviderSessions: map[string]*store.ProviderSession{
			agent.ProviderClaude: {MessageCount: messageCount},
		},
	}
}

func TestSessionAgeNote(t *testing.T) {
	young := testSession(time.Now().Add(-1*time.Hour), 10)
	assert.Empty(t, sessionAgeNote(young, 24))

	old := testSession(time.Now().Add(-30*time.Hour), 10)
	note := sessionAgeNote(old, 24)
	assert.Contains(t, note, "Session is 30h old")
	assert.Contains(t, note, "Use /new for a fresh start.")

	// Only surfaced every 10th message.
	assert.Empty(t, sessionAgeNote(testSession(time.Now().Add(-30*time.Hour), 7), 24))

	ancient := testSession(time.Now().Add(-75*time.Hour), 20)
	assert.Contains(t, sessionAgeNote(ancient, 24), "Session is 3d old")

	assert.Empty(t, sessionAgeNote(old, 0))
}

func TestFinishNormalErrorPaths(t *testing.T) {
	res := finishNormal(&agent.Response{IsError: true, TimedOut: true}, nil, 0)
	assert.Equal(t, "Agent timed out. Please try again.", res.Text)

	res = finishNormal(&agent.Response{IsError: true, ReturnCode: sigkillReturnCode}, nil, 0)
	assert.Equal(t, sigkillUserText, res.Text)

	res = finishNormal(&agent.Response{IsError: true, Result: "boom"}, nil, 0)
	assert.Equal(t, "Error: boom", res.Text)

	res = finishNormal(&agent.Response{IsError: true}, nil, 0)
	assert.Equal(t, "Error: check logs for details.", res.Text)
}

func TestFinishNormalSuccess(t *testing.T) {
	session := testSession(time.Now(), 1)
	res := finishNormal(&agent.Response{Result: "done", StreamFallback: true}, session, 24)
	assert.Equal(t, "done", res.Text)
	assert.True(t, res.StreamFallback)
}

func TestSidLabel(t *testing.T) {
	assert.Equal(t, "<new>", sidLabel(""))
	assert.Equal(t, "abcd1234", sidLabel("abcd1234-5678-90"))
	assert.Equal(t, "ab", sidLabel("ab"))
}

func TestIsSigkill(t *testing.T) {
	assert.True(t, isSigkill(&agent.Response{ReturnCode: sigkillReturnCode}))
	assert.False(t, isSigkill(&agent.Response{ReturnCode: 1}))
}

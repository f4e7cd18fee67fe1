package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRunLog(t *testing.T) *RunLog {
	t.Helper()
	l, err := OpenRunLog(filepath.Join(t.TempDir(), "runlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRunLogRecordAndRecent(t *testing.T) {
	l := openTestRunLog(t)
	ctx := context.Background()

	first := &RunRecord{
		Origin:     RunOriginMessage,
		ChatID:     42,
		Provider:   "claude",
		Model:      "sonnet",
		Status:     "success",
		CostUSD:    0.12,
		Tokens:     3400,
		DurationMs: 5200,
		StartedAt:  time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, l.Record(ctx, first))
	assert.NotEmpty(t, first.ID, "id is generated on insert")

	second := &RunRecord{
		Origin:   RunOriginCron,
		Provider: "codex",
		Model:    "gpt-5.2-codex",
		Status:   "error",
	}
	require.NoError(t, l.Record(ctx, second))
	assert.False(t, second.StartedAt.IsZero(), "started_at defaults to now")

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first.
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, RunOriginCron, recent[0].Origin)
	assert.Equal(t, first.ID, recent[1].ID)
	assert.Equal(t, int64(42), recent[1].ChatID)
	assert.InDelta(t, 0.12, recent[1].CostUSD, 1e-9)
	assert.Equal(t, 3400, recent[1].Tokens)
}

func TestRunLogRecentLimit(t *testing.T) {
	l := openTestRunLog(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, &RunRecord{
			Origin:    RunOriginWebhook,
			Provider:  "claude",
			Model:     "haiku",
			Status:    "success",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestRunLogEmptyRecent(t *testing.T) {
	l := openTestRunLog(t)

	recent, err := l.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

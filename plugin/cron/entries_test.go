package cron

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "cron_jobs.json"))
}

func TestStoreAddAndGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "daily", Title: "Daily check", Schedule: "0 9 * * *", TaskFolder: "daily", Enabled: true}))

	job := s.Get("daily")
	require.NotNil(t, job)
	assert.Equal(t, "Daily check", job.Title)
	assert.NotEmpty(t, job.CreatedAt)
	assert.Nil(t, s.Get("missing"))
}

func TestStoreAddDuplicateID(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "x", Schedule: "* * * * *"}))
	assert.Error(t, s.Add(&Job{ID: "x", Schedule: "* * * * *"}))
}

func TestStoreRemove(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "a", Schedule: "* * * * *"}))

	removed, err := s.Remove("a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.List())

	removed, err = s.Remove("a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron_jobs.json")
	s := NewStore(path)
	require.NoError(t, s.Add(&Job{ID: "backup", Title: "Backup", Schedule: "0 3 * * *", Enabled: true}))

	reopened := NewStore(path)
	jobs := reopened.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "backup", jobs[0].ID)
	assert.True(t, jobs[0].Enabled)
}

func TestStoreSetEnabled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "a", Schedule: "* * * * *", Enabled: false}))

	changed, err := s.SetEnabled("a", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.Get("a").Enabled)

	changed, err = s.SetEnabled("a", true)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetEnabled("missing", true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStoreSetAllEnabled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "a", Schedule: "* * * * *", Enabled: true}))
	require.NoError(t, s.Add(&Job{ID: "b", Schedule: "* * * * *", Enabled: false}))

	changed, err := s.SetAllEnabled(true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetAllEnabled(true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStoreUpdateRunStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "a", Schedule: "* * * * *"}))
	require.NoError(t, s.UpdateRunStatus("a", "success"))

	job := s.Get("a")
	assert.Equal(t, "success", job.LastRunStatus)
	assert.NotEmpty(t, job.LastRunAt)
}

func TestStoreListReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&Job{ID: "a", Title: "orig", Schedule: "* * * * *"}))

	s.List()[0].Title = "mutated"
	assert.Equal(t, "orig", s.Get("a").Title)
}

func TestStoreQuietOverrideRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron_jobs.json")
	s := NewStore(path)
	start, end := 22, 7
	require.NoError(t, s.Add(&Job{ID: "night", Schedule: "0 * * * *", QuietStart: &start, QuietEnd: &end,
		CLIParameters: []string{"--add-dir", "/tmp"}}))

	job := NewStore(path).Get("night")
	require.NotNil(t, job.QuietStart)
	assert.Equal(t, 22, *job.QuietStart)
	assert.Equal(t, 7, *job.QuietEnd)
	assert.Equal(t, []string{"--add-dir", "/tmp"}, job.CLIParameters)
}

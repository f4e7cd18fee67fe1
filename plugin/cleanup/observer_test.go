package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFileAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestDeleteOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := writeFileAged(t, dir, "old.png", 10*24*time.Hour)
	fresh := writeFileAged(t, dir, "fresh.png", 2*24*time.Hour)

	deleted := deleteOldFiles(dir, 7)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestDeleteOldFilesSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "keep")
	require.NoError(t, os.Mkdir(sub, 0o755))
	inner := writeFileAged(t, sub, "nested.txt", 30*24*time.Hour)
	stamp := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(sub, stamp, stamp))

	deleted := deleteOldFiles(dir, 7)
	assert.Equal(t, 0, deleted)
	assert.DirExists(t, sub)
	assert.FileExists(t, inner)
}

func TestDeleteOldFilesMissingDirectory(t *testing.T) {
	assert.Equal(t, 0, deleteOldFiles(filepath.Join(t.TempDir(), "absent"), 7))
}

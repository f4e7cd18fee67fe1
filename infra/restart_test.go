package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartSentinelRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.json")

	require.NoError(t, WriteRestartSentinel(path, 42, "Upgrade finished."))
	sentinel := ConsumeRestartSentinel(path)
	require.NotNil(t, sentinel)
	assert.Equal(t, int64(42), sentinel.ChatID)
	assert.Equal(t, "Upgrade finished.", sentinel.Message)
	assert.NotEmpty(t, sentinel.Timestamp)

	// Consuming deletes the file.
	assert.NoFileExists(t, path)
	assert.Nil(t, ConsumeRestartSentinel(path))
}

func TestWriteRestartSentinelDefaultMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.json")
	require.NoError(t, WriteRestartSentinel(path, 1, ""))

	sentinel := ConsumeRestartSentinel(path)
	require.NotNil(t, sentinel)
	assert.Equal(t, "Restart completed.", sentinel.Message)
}

func TestConsumeRestartSentinelCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	assert.Nil(t, ConsumeRestartSentinel(path))
	assert.NoFileExists(t, path)
}

package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("home from environment", func(t *testing.T) {
		t.Setenv("DUCTOR_HOME", "/tmp/ductor-test-home")
		t.Setenv("DUCTOR_SUPERVISOR", "")

		p := &Profile{}
		p.FromEnv()

		assert.Equal(t, "/tmp/ductor-test-home", p.Home)
		assert.False(t, p.Supervised)
	})

	t.Run("explicit home wins over environment", func(t *testing.T) {
		t.Setenv("DUCTOR_HOME", "/tmp/from-env")

		p := &Profile{Home: "/tmp/from-flag"}
		p.FromEnv()

		assert.Equal(t, "/tmp/from-flag", p.Home)
	})

	t.Run("supervisor flag", func(t *testing.T) {
		t.Setenv("DUCTOR_SUPERVISOR", "1")

		p := &Profile{}
		p.FromEnv()

		assert.True(t, p.Supervised)
	})
}

func TestValidate(t *testing.T) {
	t.Run("creates home directory", func(t *testing.T) {
		home := filepath.Join(t.TempDir(), "nested", "home")
		p := &Profile{Home: home, Mode: "prod"}

		require.NoError(t, p.Validate())

		assert.Equal(t, home, p.Home)
		assert.DirExists(t, home)
	})

	t.Run("unknown mode defaults to prod", func(t *testing.T) {
		p := &Profile{Home: t.TempDir(), Mode: "demo"}

		require.NoError(t, p.Validate())

		assert.Equal(t, "prod", p.Mode)
	})

	t.Run("relative home becomes absolute", func(t *testing.T) {
		p := &Profile{Home: filepath.Join(t.TempDir(), "sub", "..", "home"), Mode: "dev"}

		require.NoError(t, p.Validate())

		assert.True(t, filepath.IsAbs(p.Home))
		assert.DirExists(t, p.Home)
	})

	t.Run("trailing separator stripped", func(t *testing.T) {
		home := t.TempDir()
		p := &Profile{Home: home + string(filepath.Separator), Mode: "prod"}

		require.NoError(t, p.Validate())

		assert.Equal(t, home, p.Home)
	})
}

func TestIsDev(t *testing.T) {
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{}).IsDev())
}

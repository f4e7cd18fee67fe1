package profile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the process-level configuration resolved before anything else
// starts. User-facing settings live in config/config.json; the profile only
// decides where that home directory is and how the process was launched.
type Profile struct {
	// Home is the ductor root directory (defaults to ~/.ductor).
	Home string
	// Mode is "prod" or "dev".
	Mode string
	// Version is the build version string.
	Version string
	// Supervised is true when the process runs under the ductor supervisor
	// and may request a restart via exit code 42.
	Supervised bool
	// KillExisting terminates a running instance instead of refusing to start.
	KillExisting bool
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.Home == "" {
		p.Home = getEnvOrDefault("DUCTOR_HOME", "")
	}
	p.Supervised = os.Getenv("DUCTOR_SUPERVISOR") == "1"
}

// Validate resolves the home directory to an absolute path and creates it
// if missing.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "prod"
	}

	if p.Home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "unable to determine user home directory")
		}
		p.Home = filepath.Join(userHome, ".ductor")
	}

	if !filepath.IsAbs(p.Home) {
		absHome, err := filepath.Abs(p.Home)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve home directory %s", p.Home)
		}
		p.Home = absHome
	}
	p.Home = strings.TrimRight(p.Home, "\\/")

	if err := os.MkdirAll(p.Home, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create home directory %s", p.Home)
	}
	return nil
}

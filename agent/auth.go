package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hrygo/ductor/workspace"
)

// AuthStatus is the detected authentication state of a provider CLI.
type AuthStatus string

const (
	AuthAuthenticated AuthStatus = "authenticated"
	AuthInstalled     AuthStatus = "installed"
	AuthNotFound      AuthStatus = "not_found"
)

// AuthResult is the outcome of one provider auth check.
type AuthResult struct {
	Provider string
	Status   AuthStatus
	AuthFile string
	AuthAge  time.Time
}

// IsAuthenticated reports whether the provider can be used.
func (r AuthResult) IsAuthenticated() bool {
	return r.Status == AuthAuthenticated
}

// AgeHuman returns the auth file age as a relative string, or "" when
// no auth file was found.
func (r AuthResult) AgeHuman() string {
	if r.AuthAge.IsZero() {
		return ""
	}
	return FormatAge(r.AuthAge)
}

// FormatAge renders a timestamp as a coarse relative age.
func FormatAge(t time.Time) string {
	seconds := int(time.Since(t).Seconds())
	if seconds < 0 {
		return "just now"
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds ago", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	return fmt.Sprintf("%dd ago", hours/24)
}

// CheckClaudeAuth inspects ~/.claude/.credentials.json.
func CheckClaudeAuth() AuthResult {
	claudeDir := workspace.ClaudeHome()
	credentials := filepath.Join(claudeDir, ".credentials.json")

	if info, err := os.Stat(credentials); err == nil && !info.IsDir() {
		return AuthResult{
			Provider: ProviderClaude,
			Status:   AuthAuthenticated,
			AuthFile: credentials,
			AuthAge:  info.ModTime(),
		}
	}
	if info, err := os.Stat(claudeDir); err == nil && info.IsDir() {
		return AuthResult{Provider: ProviderClaude, Status: AuthInstalled}
	}
	return AuthResult{Provider: ProviderClaude, Status: AuthNotFound}
}

// CheckCodexAuth inspects $CODEX_HOME/auth.json, falling back to
// version.json as an installed-but-logged-out marker.
func CheckCodexAuth() AuthResult {
	codexHome := workspace.CodexHome()
	authFile := filepath.Join(codexHome, "auth.json")
	versionFile := filepath.Join(codexHome, "version.json")

	if info, err := os.Stat(authFile); err == nil && !info.IsDir() {
		return AuthResult{
			Provider: ProviderCodex,
			Status:   AuthAuthenticated,
			AuthFile: authFile,
			AuthAge:  info.ModTime(),
		}
	}
	if info, err := os.Stat(versionFile); err == nil && !info.IsDir() {
		return AuthResult{Provider: ProviderCodex, Status: AuthInstalled}
	}
	return AuthResult{Provider: ProviderCodex, Status: AuthNotFound}
}

// CheckAllAuth checks every known provider.
func CheckAllAuth() map[string]AuthResult {
	return map[string]AuthResult{
		ProviderClaude: CheckClaudeAuth(),
		ProviderCodex:  CheckCodexAuth(),
	}
}

// AvailableProviders returns the set of authenticated providers.
func AvailableProviders() map[string]bool {
	available := make(map[string]bool)
	for name, result := range CheckAllAuth() {
		if result.IsAuthenticated() {
			available[name] = true
		}
	}
	return available
}

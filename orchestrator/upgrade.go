package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hrygo/ductor/internal/errs"
	"github.com/hrygo/ductor/internal/version"
)

const releaseURL = "https://api.github.com/repos/hrygo/ductor/releases/latest"

func (o *Orchestrator) versionString() string {
	return version.String()
}

func isDevBuild() bool {
	return strings.Contains(version.Version, "-dev")
}

// latestRelease queries the release feed for the newest tag.
func latestRelease(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL, nil)
	if err != nil {
		return "", errs.Wrap(err, errs.KindInfra, "failed to build release request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errs.Wrap(err, errs.KindInfra, "release check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindInfra, "release check returned status %d", resp.StatusCode)
	}
	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errs.Wrap(err, errs.KindInfra, "failed to decode release payload")
	}
	return payload.TagName, nil
}

func (o *Orchestrator) cmdUpgrade(ctx context.Context, _ int64, _ string) (*Result, error) {
	slog.Info("upgrade check requested")

	if isDevBuild() {
		return &Result{Text: Blocks(
			"**Running From Source**",
			Sep,
			"Self-upgrade is not available for development builds.\n"+
				"Update with `git pull` in your project directory.",
		)}, nil
	}

	fetch := o.fetchLatestRelease
	if fetch == nil {
		fetch = latestRelease
	}
	latest, err := fetch(ctx)
	if err != nil {
		slog.Warn("release check failed", "error", err)
		return &Result{Text: "Could not reach the release server to check for updates. Try again later."}, nil
	}

	current := version.Version
	if !version.IsVersionGreaterThan(latest, current) {
		return &Result{Text: Blocks(
			"**Already Up to Date**",
			Sep,
			fmt.Sprintf("Installed: `%s`\nLatest:    `%s`\n\nYou're running the latest version.",
				current, latest),
		)}, nil
	}

	return &Result{Text: Blocks(
		"**Update Available**",
		Sep,
		fmt.Sprintf("Installed: `%s`\nNew:       `%s`\n\n"+
			"Run `go install github.com/hrygo/ductor/cmd/ductor@%s`, then /restart.",
			current, latest, latest),
	)}, nil
}

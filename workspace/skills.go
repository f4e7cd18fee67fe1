package workspace

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Three-way skill directory sync: every skill installed in the workspace, the
// Claude home, or the Codex home becomes visible in all three via symlinks.
//
// Safety guarantees:
//   - Real directories are never overwritten or removed.
//   - Existing valid symlinks pointing elsewhere are left alone.
//   - Internal directories (.system, .claude, .git, .venv) are skipped.

var skillSkipDirs = map[string]bool{
	".claude":      true,
	".system":      true,
	".git":         true,
	".venv":        true,
	"__pycache__":  true,
	"node_modules": true,
}

const skillSyncInterval = 30 * time.Second

// discoverSkills scans a skills directory and returns name -> path for valid
// entries. Broken symlinks and hidden/internal names are skipped; plain files
// are ignored.
func discoverSkills(base string) map[string]string {
	entries, err := os.ReadDir(base)
	if err != nil {
		return map[string]string{}
	}
	skills := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || skillSkipDirs[name] {
			continue
		}
		path := filepath.Join(base, name)
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if _, err := os.Stat(path); err == nil {
				skills[name] = path
			}
			continue
		}
		if info.IsDir() {
			skills[name] = path
		}
	}
	return skills
}

// cliSkillDirs returns the skill directories of installed CLIs. A CLI counts
// as installed when its home directory exists.
func cliSkillDirs() map[string]string {
	dirs := make(map[string]string)
	if home := ClaudeHome(); home != "" {
		if info, err := os.Stat(home); err == nil && info.IsDir() {
			dirs["claude"] = filepath.Join(home, "skills")
		}
	}
	if home := CodexHome(); home != "" {
		if info, err := os.Stat(home); err == nil && info.IsDir() {
			dirs["codex"] = filepath.Join(home, "skills")
		}
	}
	return dirs
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// resolveCanonical finds the canonical (real, non-symlink) path for a skill
// with priority ductor > claude > codex, falling back to resolving the first
// valid symlink.
func resolveCanonical(name string, registries []map[string]string) string {
	for _, reg := range registries {
		if entry, ok := reg[name]; ok && !isSymlink(entry) {
			return entry
		}
	}
	for _, reg := range registries {
		entry, ok := reg[name]
		if !ok || !isSymlink(entry) {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(entry); err == nil {
			return resolved
		}
	}
	return ""
}

// createDirLink creates a directory symlink. On Windows it falls back to an
// NTFS junction via mklink /J, which needs no elevated rights.
func createDirLink(linkPath, target string) error {
	if runtime.GOOS != "windows" {
		return os.Symlink(target, linkPath)
	}
	if err := os.Symlink(target, linkPath); err == nil {
		return nil
	}
	cmd := exec.Command("cmd", "/c", "mklink", "/J", linkPath, target)
	if err := cmd.Run(); err != nil {
		return errors.Errorf("failed to create symlink or junction: %s -> %s", linkPath, target)
	}
	return nil
}

// ensureLink idempotently ensures linkPath is a symlink to target. Returns
// true if a new link was created. Real directories are never destroyed.
func ensureLink(linkPath, target string) (bool, error) {
	if _, err := os.Stat(linkPath); err == nil && !isSymlink(linkPath) {
		return false, nil
	}
	if isSymlink(linkPath) {
		resolved, err := filepath.EvalSymlinks(linkPath)
		targetResolved, terr := filepath.EvalSymlinks(target)
		if err == nil && terr == nil && resolved == targetResolved {
			return false, nil
		}
		if err := os.Remove(linkPath); err != nil {
			return false, err
		}
	}
	if err := createDirLink(linkPath, target); err != nil {
		return false, err
	}
	return true, nil
}

func cleanBrokenLinks(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if isSymlink(path) {
			if _, err := os.Stat(path); err != nil {
				if os.Remove(path) == nil {
					removed++
				}
			}
		}
	}
	return removed
}

// SyncSkills runs one three-way sync pass.
func SyncSkills(paths *Paths) {
	allDirs := map[string]string{"ductor": paths.SkillsDir()}
	for name, dir := range cliSkillDirs() {
		allDirs[name] = dir
	}

	registries := make(map[string]map[string]string, len(allDirs))
	for name, dir := range allDirs {
		registries[name] = discoverSkills(dir)
	}

	nameSet := make(map[string]bool)
	for _, reg := range registries {
		for name := range reg {
			nameSet[name] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	priority := []map[string]string{
		registries["ductor"],
		registries["claude"],
		registries["codex"],
	}
	for i, reg := range priority {
		if reg == nil {
			priority[i] = map[string]string{}
		}
	}

	for _, skillName := range names {
		canonical := resolveCanonical(skillName, priority)
		if canonical == "" {
			continue
		}
		linkSkillEverywhere(skillName, canonical, allDirs)
	}

	for _, dir := range allDirs {
		if removed := cleanBrokenLinks(dir); removed > 0 {
			slog.Info("Cleaned broken skill links", "dir", dir, "count", removed)
		}
	}
}

func linkSkillEverywhere(skillName, canonical string, allDirs map[string]string) {
	for locName, baseDir := range allDirs {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			continue
		}
		link := filepath.Join(baseDir, skillName)
		if link == canonical {
			continue
		}
		if _, err := os.Stat(link); err == nil && !isSymlink(link) {
			continue
		}
		created, err := ensureLink(link, canonical)
		if err != nil {
			slog.Warn("Failed to link skill", "skill", skillName, "location", locName, "error", err)
			continue
		}
		if created {
			slog.Info("Skill link created", "link", link, "target", canonical)
		}
	}
}

// WatchSkillSync continuously syncs skill directories until the context is
// cancelled.
func WatchSkillSync(ctx context.Context, paths *Paths) {
	ticker := time.NewTicker(skillSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			SyncSkills(paths)
		}
	}
}

// CleanupSkillLinks removes symlinks in the CLI skill directories whose
// targets resolve inside the workspace skills directory. Real directories and
// user-managed external links are left alone. Called on shutdown.
func CleanupSkillLinks(paths *Paths) {
	workspaceSkills, err := filepath.EvalSymlinks(paths.SkillsDir())
	if err != nil {
		workspaceSkills = paths.SkillsDir()
	}
	for _, dir := range cliSkillDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if !isSymlink(path) {
				continue
			}
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			if strings.HasPrefix(resolved, workspaceSkills+string(os.PathSeparator)) {
				_ = os.Remove(path)
			}
		}
	}
}

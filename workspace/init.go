package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Files that are always overwritten on every start so framework updates
// reach users. Everything else is seeded once and never touched again.
var zoneAlwaysFiles = map[string]bool{
	"CLAUDE.md": true,
	"AGENTS.md": true,
}

var skipDirs = map[string]bool{
	".venv":        true,
	".git":         true,
	".mypy_cache":  true,
	"__pycache__":  true,
	"node_modules": true,
}

const ruleSyncInterval = 10 * time.Second

// Init initializes the workspace: legacy migration, template seeding with
// zone rules, rule-file pairing, orphan symlink cleanup. Idempotent.
func Init(paths *Paths) error {
	slog.Info("Workspace init started", "home", paths.Home)
	migrateTasksDir(paths)
	if err := syncHomeDefaults(paths); err != nil {
		return err
	}
	SyncRuleFiles(paths.Workspace())
	cleanOrphanSymlinks(paths.Workspace())
	slog.Info("Workspace init completed")
	return nil
}

// migrateTasksDir renames a legacy workspace/tasks directory to cron_tasks.
func migrateTasksDir(paths *Paths) {
	oldTasks := filepath.Join(paths.Workspace(), "tasks")
	info, err := os.Lstat(oldTasks)
	if err != nil || !info.IsDir() {
		return
	}
	if _, err := os.Lstat(paths.CronTasksDir()); err == nil {
		return
	}
	if err := os.Rename(oldTasks, paths.CronTasksDir()); err != nil {
		slog.Warn("Failed to migrate tasks directory", "error", err)
		return
	}
	slog.Info("Migrated workspace/tasks/ -> workspace/cron_tasks/")
}

func syncHomeDefaults(paths *Paths) error {
	info, err := os.Stat(paths.HomeDefaults)
	if err != nil || !info.IsDir() {
		slog.Warn("Home defaults directory not found", "path", paths.HomeDefaults)
		return nil
	}
	if err := walkAndCopy(paths.HomeDefaults, paths.Home); err != nil {
		return err
	}
	// Logs dir is not in the template because it holds no files.
	return os.MkdirAll(paths.LogsDir(), 0o755)
}

// walkAndCopy recursively copies the template tree into dst with zone rules.
func walkAndCopy(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] {
			continue
		}
		srcPath := filepath.Join(src, name)
		target := filepath.Join(dst, name)
		switch {
		case entry.IsDir():
			if err := walkAndCopy(srcPath, target); err != nil {
				return err
			}
		case zoneAlwaysFiles[name]:
			if err := overwriteFile(srcPath, target); err != nil {
				return err
			}
			// Every CLAUDE.md produces a matching AGENTS.md mirror.
			if name == "CLAUDE.md" {
				if err := overwriteFile(srcPath, filepath.Join(dst, "AGENTS.md")); err != nil {
					return err
				}
			}
		default:
			if _, err := os.Lstat(target); os.IsNotExist(err) {
				if err := copyFile(srcPath, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// overwriteFile replaces target with src, removing a symlink target first so
// bundled links are never written through.
func overwriteFile(src, target string) error {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	return copyFile(src, target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if info, err := os.Stat(src); err == nil {
		_ = os.Chtimes(dst, time.Now(), info.ModTime())
	}
	return nil
}

// SyncRuleFiles recursively pairs CLAUDE.md <-> AGENTS.md by mtime in every
// directory under root, root itself included.
func SyncRuleFiles(root string) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return
	}
	syncRulePair(root)
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		syncRulePair(path)
		return nil
	})
}

func syncRulePair(dir string) {
	claude := filepath.Join(dir, "CLAUDE.md")
	agents := filepath.Join(dir, "AGENTS.md")
	claudeInfo, claudeErr := os.Stat(claude)
	agentsInfo, agentsErr := os.Stat(agents)

	switch {
	case claudeErr == nil && agentsErr != nil:
		_ = copyFile(claude, agents)
	case agentsErr == nil && claudeErr != nil:
		_ = copyFile(agents, claude)
	case claudeErr == nil && agentsErr == nil:
		if claudeInfo.ModTime().After(agentsInfo.ModTime()) {
			_ = copyFile(claude, agents)
		} else if agentsInfo.ModTime().After(claudeInfo.ModTime()) {
			_ = copyFile(agents, claude)
		}
	}
}

func cleanOrphanSymlinks(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			_ = os.Remove(path)
		}
	}
}

const dockerNotice = `

---

## Runtime Environment

**IMPORTANT: YOU ARE RUNNING INSIDE A DOCKER CONTAINER (` + "`%s`" + `).**

- Your filesystem is isolated. /ductor is the mounted host directory ~/.ductor.
- You cannot see or access the host system outside this mount.
- Feel free to experiment -- the host is protected.
`

const hostNotice = `

---

## Runtime Environment

**WARNING: YOU ARE RUNNING DIRECTLY ON THE HOST SYSTEM. THERE IS NO SANDBOX.**

- Every file operation, command, and script runs on the user's real machine.
- Be careful with destructive commands (rm -rf, chmod, etc.).
- Ask before touching anything outside workspace/.
`

// InjectRuntimeEnvironment appends a runtime environment section to the
// workspace-root rule files. The section header guards against duplicate
// injection on restart.
func InjectRuntimeEnvironment(paths *Paths, dockerContainer string) {
	notice := hostNotice
	if dockerContainer != "" {
		notice = sprintfNotice(dockerContainer)
	}
	for _, name := range []string{"CLAUDE.md", "AGENTS.md"} {
		target := filepath.Join(paths.Workspace(), name)
		raw, err := os.ReadFile(target)
		if err != nil {
			continue
		}
		if strings.Contains(string(raw), "## Runtime Environment") {
			continue
		}
		if err := os.WriteFile(target, append(raw, notice...), 0o644); err != nil {
			slog.Warn("Failed to inject runtime environment", "file", target, "error", err)
		}
	}
	env := "host"
	if dockerContainer != "" {
		env = "docker"
	}
	slog.Info("Runtime environment injected", "env", env)
}

func sprintfNotice(container string) string {
	return strings.Replace(dockerNotice, "%s", container, 1)
}

// WatchRuleFiles continuously pairs rule files across the workspace until the
// context is cancelled.
func WatchRuleFiles(ctx context.Context, workspace string) {
	ticker := time.NewTicker(ruleSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			SyncRuleFiles(workspace)
		}
	}
}

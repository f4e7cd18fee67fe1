package workspace

import (
	"log/slog"
	"os"
)

// ReadFile reads a file, returning "" when it does not exist or cannot be read.
func ReadFile(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read file", "path", path, "error", err)
		}
		return ""
	}
	return string(raw)
}

// ReadMainMemory reads MAINMEMORY.md, returning "" if missing.
func ReadMainMemory(paths *Paths) string {
	return ReadFile(paths.MainMemoryPath())
}

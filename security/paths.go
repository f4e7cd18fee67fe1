package security

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hrygo/ductor/internal/errs"
)

// ValidatePath resolves a path and checks containment in one of the
// allowed roots. Returns the resolved absolute path.
func ValidatePath(path string, allowedRoots []string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", errs.New(errs.KindSecurity, "path contains null byte: %q", path)
	}
	for _, c := range path {
		if c < 32 && c != '\n' {
			return "", errs.New(errs.KindSecurity, "path contains control characters: %q", path)
		}
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", errs.Wrap(err, errs.KindSecurity, "resolve path %q", path)
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	for _, root := range allowedRoots {
		resolvedRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if real, err := filepath.EvalSymlinks(resolvedRoot); err == nil {
			resolvedRoot = real
		}
		if isWithin(resolved, resolvedRoot) {
			return resolved, nil
		}
	}

	slog.Warn("path blocked", "path", resolved)
	return "", errs.New(errs.KindSecurity,
		"path %s is outside allowed roots: %s", resolved, strings.Join(allowedRoots, ", "))
}

// IsPathSafe is the non-erroring form of ValidatePath.
func IsPathSafe(path string, allowedRoots []string) bool {
	_, err := ValidatePath(path, allowedRoots)
	return err == nil
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

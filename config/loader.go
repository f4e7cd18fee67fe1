package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DeepMerge recursively merges defaults into user, preserving user values.
// Returns the merged map and whether any default key was added.
func DeepMerge(user, defaults map[string]any) (map[string]any, bool) {
	result := make(map[string]any, len(user))
	for k, v := range user {
		result[k] = v
	}
	changed := false
	added := 0
	for key, defaultVal := range defaults {
		existing, ok := result[key]
		if !ok {
			result[key] = defaultVal
			changed = true
			added++
			continue
		}
		defaultMap, dOK := defaultVal.(map[string]any)
		existingMap, eOK := existing.(map[string]any)
		if dOK && eOK {
			subMerged, subChanged := DeepMerge(existingMap, defaultMap)
			result[key] = subMerged
			changed = changed || subChanged
		}
	}
	if added > 0 {
		slog.Info("Config deep-merge: new keys added", "count", added)
	}
	return result, changed
}

func defaultsAsMap() (map[string]any, error) {
	raw, err := json.Marshal(Default())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config defaults")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config defaults")
	}
	return m, nil
}

// Load reads config.json from path, merges it with built-in defaults and
// writes the merged file back when new default keys were added. A missing
// file is created from the defaults. Unknown user keys are preserved.
func Load(path string) (*Config, error) {
	defaults, err := defaultsAsMap()
	if err != nil {
		return nil, err
	}

	userMap := map[string]any{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &userMap); err != nil {
			return nil, errors.Wrapf(err, "invalid JSON in %s", path)
		}
	case os.IsNotExist(err):
		slog.Info("Config file missing, creating from defaults", "path", path)
	default:
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	merged, changed := DeepMerge(userMap, defaults)
	if changed || os.IsNotExist(err) {
		if werr := WriteJSONAtomic(path, merged); werr != nil {
			return nil, werr
		}
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-marshal merged config")
	}
	cfg := &Config{}
	if err := json.Unmarshal(mergedRaw, cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid config values in %s", path)
	}
	return cfg, nil
}

// Update rewrites specific top-level keys in config.json, leaving every other
// user setting untouched.
func Update(path string, updates map[string]any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.Wrapf(err, "invalid JSON in %s", path)
	}
	for k, v := range updates {
		data[k] = v
	}
	if err := WriteJSONAtomic(path, data); err != nil {
		return err
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	slog.Info("Persisted config update", "keys", keys)
	return nil
}

// WriteJSONAtomic writes v as indented JSON via temp-file-then-rename so a
// crash can never leave a truncated file behind.
func WriteJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", path)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

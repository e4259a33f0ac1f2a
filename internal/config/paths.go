package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/switchboard/internal/fsutil"
)

// UserConfigDir returns ~/.config/switchboard.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "switchboard"), nil
}

// UserConfigPath returns the user-level configuration file path.
func UserConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefaultConfig writes DefaultConfigYAML to path. An existing file is
// left alone unless force is set. It reports whether the file was written.
func WriteDefaultConfig(path string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, fmt.Errorf("checking config: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	return true, nil
}

// SaveDisabledHooks rewrites hooks.disabled in the YAML file at path,
// keeping every other key. A missing file is created.
func SaveDisabledHooks(path string, disabled []string) error {
	doc := map[string]interface{}{}
	data, err := fsutil.ReadFileScoped(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("reading %s: %w", path, err)
	}

	hooks, _ := doc["hooks"].(map[string]interface{})
	if hooks == nil {
		hooks = map[string]interface{}{}
	}
	if disabled == nil {
		disabled = []string{}
	}
	hooks["disabled"] = disabled
	doc["hooks"] = hooks

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return fsutil.WriteFileAtomic(path, out, 0o600)
}

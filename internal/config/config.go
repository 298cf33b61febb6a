// internal/config/config.go
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration paths and settings
type Config struct {
	HomeDir       string
	CodetrailDir  string
	ObjectsDir    string
	ManifestsDir  string
	TranscriptDir string
	SessionsDir   string
	ArchiveDir    string
	IndexPath     string

	Settings Settings
}

// Settings holds user-tunable behavior, loaded from config.yaml
type Settings struct {
	// AutoCapture controls whether file-edit events trigger restore points
	AutoCapture bool `yaml:"auto_capture"`
	// ArchiveOnDelete exports a session bundle before its storage is removed
	ArchiveOnDelete bool `yaml:"archive_on_delete"`
	// RetentionDays is the manifest retention window used by cleanup; 0 keeps everything
	RetentionDays int `yaml:"retention_days"`
	// WatcherDebounceMs debounces filesystem modification tracking
	WatcherDebounceMs int `yaml:"watcher_debounce_ms"`
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	return Settings{
		AutoCapture:       true,
		ArchiveOnDelete:   false,
		RetentionDays:     0,
		WatcherDebounceMs: 200,
	}
}

// Load creates a Config instance with resolved paths rooted at the user home
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadAt(filepath.Join(home, ".codetrail"))
}

// LoadAt creates a Config rooted at the given directory
func LoadAt(root string) (*Config, error) {
	cfg := &Config{
		HomeDir:       filepath.Dir(root),
		CodetrailDir:  root,
		ObjectsDir:    filepath.Join(root, "objects"),
		ManifestsDir:  filepath.Join(root, "manifests"),
		TranscriptDir: filepath.Join(root, "transcripts"),
		SessionsDir:   filepath.Join(root, "sessions"),
		ArchiveDir:    filepath.Join(root, "archive"),
		IndexPath:     filepath.Join(root, "index.db"),
		Settings:      DefaultSettings(),
	}

	// Ensure directories exist
	for _, dir := range []string{cfg.CodetrailDir, cfg.ObjectsDir, cfg.ManifestsDir, cfg.TranscriptDir, cfg.SessionsDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	// Settings file is optional; defaults apply when absent
	settingsPath := filepath.Join(root, "config.yaml")
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg.Settings); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// SaveSettings writes the current settings back to config.yaml
func (c *Config) SaveSettings() error {
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.CodetrailDir, "config.yaml"), data, 0644)
}

// WatcherDebounce returns the watcher debounce as a duration
func (c *Config) WatcherDebounce() time.Duration {
	return time.Duration(c.Settings.WatcherDebounceMs) * time.Millisecond
}

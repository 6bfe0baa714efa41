package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rmxfs/internal/artifacts"
	"rmxfs/internal/storage"
	"rmxfs/internal/vfs"
)

// getConfigDir returns the config directory path.
// Uses RMXFS_CONFIG_DIR env var if set, otherwise defaults to ~/.rmxfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("RMXFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rmxfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// LogPath returns the default log file path.
// Uses RMXFS_LOG env var if set, otherwise defaults to config_dir/rmxfs.log.
func LogPath() string {
	if envPath := os.Getenv("RMXFS_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "rmxfs.log")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if none exists.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings is the effective configuration.
type Settings struct {
	LogLevel                   string   `yaml:"log_level"` // trace, debug, info, warn, off (default: off)
	LogFile                    string   `yaml:"log_file"`  // default: LogPath()
	DocumentTypes              []string `yaml:"document_types"`
	ReservedCollectionPatterns []string `yaml:"reserved_collection_patterns"`
	AttrCacheTTLMs             int      `yaml:"attr_cache_ttl_ms"` // negative disables the cache
	EntryTimeoutMs             int      `yaml:"entry_timeout_ms"`
	AllowOther                 bool     `yaml:"allow_other"`
	MetricsListen              string   `yaml:"metrics_listen"`
	NFSListen                  string   `yaml:"nfs_listen"`
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// DefaultSettings returns the embedded defaults.
func DefaultSettings() *Settings {
	s := loadDefaultSettings()
	return &s
}

// LoadSettings reads settings from path, or from GlobalSettingsPath() when
// path is empty. Keys missing from the file keep their default. A missing
// default file yields the defaults; a missing explicit file is an error.
func LoadSettings(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = GlobalSettingsPath()
	}
	settings := loadDefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &settings, nil
}

// SaveSettings writes settings to GlobalSettingsPath().
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# rmxfs settings\n# See: rmxfs settings --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}

// Validate rejects settings the bridge cannot run with.
func (s *Settings) Validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "", "off", "none", "trace", "debug", "info", "warn":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	for _, t := range s.DocumentTypes {
		if t == "" || strings.ContainsAny(t, "./") {
			return fmt.Errorf("invalid document type %q", t)
		}
	}
	if s.EntryTimeoutMs < 0 {
		return fmt.Errorf("entry_timeout_ms must not be negative")
	}
	return nil
}

// DocTypes returns the document type whitelist. Extensions are matched
// case-insensitively and stored lowercase.
func (s *Settings) DocTypes() []storage.DocType {
	types := make([]storage.DocType, 0, len(s.DocumentTypes))
	for _, t := range s.DocumentTypes {
		types = append(types, storage.DocType(strings.ToLower(t)))
	}
	return types
}

// AttrTTL returns the bridge attribute cache lifetime; negative disables.
func (s *Settings) AttrTTL() time.Duration {
	return time.Duration(s.AttrCacheTTLMs) * time.Millisecond
}

// EntryTimeout returns the kernel entry and attribute timeout.
func (s *Settings) EntryTimeout() time.Duration {
	return time.Duration(s.EntryTimeoutMs) * time.Millisecond
}

// BridgeOptions returns the vfs options these settings describe.
func (s *Settings) BridgeOptions() vfs.Options {
	return vfs.Options{
		DocTypes:         s.DocTypes(),
		ReservedPatterns: s.ReservedCollectionPatterns,
		AttrTTL:          s.AttrTTL(),
	}
}

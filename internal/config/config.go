// Package config handles configuration loading, validation, and management
// for the provenance tools.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"provenance/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROVENANCE_"

// Config holds the complete tool configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Document configuration for newly created documents.
	Document DocumentConfig `toml:"document" json:"document" yaml:"document"`

	// Storage configuration for the document archive.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DocumentConfig holds defaults stamped into new documents.
type DocumentConfig struct {
	// DefaultTitle is used when a document is created without a title.
	DefaultTitle string `toml:"default_title" json:"default_title" yaml:"default_title"`

	// EditorVersion is recorded in document metadata.
	EditorVersion string `toml:"editor_version" json:"editor_version" yaml:"editor_version"`

	// Dir is where new .provenance files are written when no path is given.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`
}

// StorageConfig holds the SQLite archive settings.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// VerifyConcurrency bounds parallel verification of archived documents.
	VerifyConcurrency int `toml:"verify_concurrency" json:"verify_concurrency" yaml:"verify_concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file, both or discard.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is used when Output is file or both.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Version: Version,
		Document: DocumentConfig{
			DefaultTitle:  "Untitled",
			EditorVersion: "provenance-go/1.0",
			Dir:           filepath.Join(dataDir, "documents"),
		},
		Storage: StorageConfig{
			Path:              filepath.Join(dataDir, "archive.db"),
			BusyTimeoutMs:     5000,
			VerifyConcurrency: 4,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dataDir, "logs", "provenance.log"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// loadConfigFromFile reads and decodes a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies PROVENANCE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv(EnvPrefix + "DOCUMENT_TITLE"); v != "" {
		c.Document.DefaultTitle = v
	}
	if v := os.Getenv(EnvPrefix + "DOCUMENT_DIR"); v != "" {
		c.Document.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Config{
		Version:  c.Version,
		Document: c.Document,
		Storage:  c.Storage,
		Logging:  c.Logging,
		Metrics:  c.Metrics,
	}
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Document.Dir, filepath.Dir(c.Storage.Path)}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = c.Logging.Output
	cfg.FilePath = c.Logging.FilePath
	return cfg, nil
}

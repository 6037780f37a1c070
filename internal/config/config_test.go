package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provenance/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("PROVENANCE_DATA_DIR", "/data/prov")

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, "Untitled", cfg.Document.DefaultTitle)
	assert.Equal(t, filepath.Join("/data/prov", "documents"), cfg.Document.Dir)
	assert.Equal(t, filepath.Join("/data/prov", "archive.db"), cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("PROVENANCE_CONFIG_DIR", "/etc/prov")
	assert.Equal(t, filepath.Join("/etc/prov", "config.toml"), ConfigPath())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Storage.BusyTimeoutMs, cfg.Storage.BusyTimeoutMs)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "toml",
			file: "config.toml",
			body: "version = 1\n[storage]\npath = \"/tmp/a.db\"\n[logging]\nlevel = \"debug\"\n",
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "version: 1\nstorage:\n  path: /tmp/a.db\nlogging:\n  level: debug\n",
		},
		{
			name: "json",
			file: "config.json",
			body: `{"version": 1, "storage": {"path": "/tmp/a.db"}, "logging": {"level": "debug"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "/tmp/a.db", cfg.Storage.Path)
			assert.Equal(t, "debug", cfg.Logging.Level)
			// Unset keys keep their defaults.
			assert.Equal(t, "text", cfg.Logging.Format)
			assert.Equal(t, 4, cfg.Storage.VerifyConcurrency)
		})
	}
}

func TestLoadRejectsBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = [\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode TOML")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "logging.level", verrs[0].Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version too new", func(c *Config) { c.Version = Version + 1 }, "version"},
		{"version zero", func(c *Config) { c.Version = 0 }, "version"},
		{"no editor version", func(c *Config) { c.Document.EditorVersion = "" }, "document.editor_version"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"negative busy timeout", func(c *Config) { c.Storage.BusyTimeoutMs = -1 }, "storage.busy_timeout_ms"},
		{"zero concurrency", func(c *Config) { c.Storage.VerifyConcurrency = 0 }, "storage.verify_concurrency"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"file output without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, "logging.file_path"},
		{"bad metrics address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = "nonsense"
		}, "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROVENANCE_STORAGE_PATH", "/env/archive.db")
	t.Setenv("PROVENANCE_LOG_LEVEL", "warn")
	t.Setenv("PROVENANCE_LOG_FORMAT", "json")
	t.Setenv("PROVENANCE_DOCUMENT_TITLE", "Draft")
	t.Setenv("PROVENANCE_METRICS_ENABLED", "true")
	t.Setenv("PROVENANCE_METRICS_LISTEN", "0.0.0.0:9000")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "/env/archive.db", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "Draft", cfg.Document.DefaultTitle)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.Metrics.Listen)
}

func TestEnvOverridesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600))
	t.Setenv("PROVENANCE_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Storage.Path = "/srv/archive.db"
			cfg.Metrics.Enabled = true

			require.NoError(t, SaveConfig(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "/srv/archive.db", loaded.Storage.Path)
			assert.True(t, loaded.Metrics.Enabled)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, cfg)
	assert.FileExists(t, path)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Storage.Path = "/elsewhere.db"
	assert.NotEqual(t, cfg.Storage.Path, clone.Storage.Path)
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Document.Dir = filepath.Join(root, "docs")
	cfg.Storage.Path = filepath.Join(root, "db", "archive.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(root, "logs", "p.log")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(root, "docs"))
	assert.DirExists(t, filepath.Join(root, "db"))
	assert.DirExists(t, filepath.Join(root, "logs"))
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "discard"

	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "discard", lc.Output)

	cfg.Logging.Level = "loud"
	_, err = cfg.LoggerConfig()
	assert.Error(t, err)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0600))

	loader := NewLoader(path)
	defer loader.Close()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600))

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.Logging.Level)
		assert.Equal(t, "debug", loader.Config().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestLoaderWatchKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0600))

	loader := NewLoader(path)
	defer loader.Close()
	_, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600))

	select {
	case err := <-loader.Errors():
		assert.Contains(t, err.Error(), "reload config")
	case <-time.After(5 * time.Second):
		t.Fatal("reload error was not reported")
	}
	assert.Equal(t, "info", loader.Config().Logging.Level)
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "provenance"

// DataDir returns the base data directory. PROVENANCE_DATA_DIR overrides the
// platform default.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/provenance/
//   - Linux:   $XDG_DATA_HOME/provenance/ or ~/.local/share/provenance/
//   - Windows: %APPDATA%\provenance\
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "linux":
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	case "windows":
		return windowsAppData()
	default:
		return filepath.Join(homeDir(), "."+appName)
	}
}

// ConfigDir returns the directory holding config.toml.
func ConfigDir() string {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_CONFIG_HOME", ".config")
	default:
		return DataDir()
	}
}

func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

func windowsAppData() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, appName)
	}
	return filepath.Join(homeDir(), "AppData", "Roaming", appName)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

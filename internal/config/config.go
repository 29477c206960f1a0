// Package config manages workstate configuration and filesystem paths.
//
// Configuration is read from config.yaml in the workstate config directory,
// with WORKSTATE_* environment variables taking precedence. The default
// locations follow the XDG base directory convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "WORKSTATE"

	// Config keys.
	cfgKeyAPIBaseURL = "api_base_url"
	cfgKeyAPIToken   = "api_token"
	cfgKeyDebounceMS = "debounce_ms"
	cfgKeyLocalDB    = "local_db"
	cfgKeyKind       = "kind"

	// Defaults.
	defaultAPIBaseURL = "http://localhost:8080/api"
	defaultDebounceMS = 500
	defaultKind       = "analysis"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# workstate configuration

# Base URL of the backend API
api_base_url: http://localhost:8080/api

# Bearer token for the backend API (optional)
# api_token:

# Debounce quiet window for coalescing saves, in milliseconds
debounce_ms: 500

# Path to the local fallback database (optional; defaults to the data dir)
# local_db:

# Workspace kind
kind: analysis
`

// Config holds the resolved workstate configuration.
type Config struct {
	// APIBaseURL is the base URL of the backend API.
	APIBaseURL string

	// APIToken is the bearer token sent to the backend, if any.
	APIToken string

	// DebounceWindow is the quiet window for coalescing saves.
	DebounceWindow time.Duration

	// LocalDB is the path of the local fallback database.
	LocalDB string

	// Kind is the workspace kind to operate on.
	Kind string
}

// Load reads config.yaml from the given directory, creating the directory
// and a default config file on first run. A missing config.yaml is not an
// error; defaults and environment variables still apply.
func Load(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("failed to ensure default config: %w", err)
	}

	dataDir, err := DefaultDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault(cfgKeyAPIBaseURL, defaultAPIBaseURL)
	v.SetDefault(cfgKeyAPIToken, "")
	v.SetDefault(cfgKeyDebounceMS, defaultDebounceMS)
	v.SetDefault(cfgKeyLocalDB, filepath.Join(dataDir, "workstate.db"))
	v.SetDefault(cfgKeyKind, defaultKind)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		APIBaseURL:     v.GetString(cfgKeyAPIBaseURL),
		APIToken:       v.GetString(cfgKeyAPIToken),
		DebounceWindow: time.Duration(v.GetInt(cfgKeyDebounceMS)) * time.Millisecond,
		LocalDB:        v.GetString(cfgKeyLocalDB),
		Kind:           v.GetString(cfgKeyKind),
	}, nil
}

// ensureDefaultConfigFile creates a default config.yaml if none exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

// DefaultConfigDir returns the workstate config directory.
// WORKSTATE_CONFIG_DIR overrides; otherwise XDG_CONFIG_HOME or ~/.config.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv("WORKSTATE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "workstate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "workstate"), nil
}

// DefaultDataDir returns the workstate data directory.
// WORKSTATE_DATA_DIR overrides; otherwise XDG_DATA_HOME or ~/.local/share.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("WORKSTATE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "workstate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "workstate"), nil
}

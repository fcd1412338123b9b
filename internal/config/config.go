// Package config handles application configuration from environment variables
// and the per-environment TOML settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// CategoryMap maps a tracked parent category id to its subfolder under the
// environment's download folder. Resources in any other category are ignored.
var CategoryMap = map[int64]string{
	8:  "macros",
	11: "plugins",
	25: "lua",
}

// PluginCategoryID is only synced in the LIVE environment; compiled plugins
// are not built for the other server types.
const PluginCategoryID int64 = 11

// VanillaMap maps a base client resource id to the environment it serves.
// When the base resource has a configured special path, category downloads
// for that environment land beneath it.
var VanillaMap = map[int64]string{
	1974: "LIVE",
	2218: "TEST",
	60:   "EMU",
}

// Config represents the process-level application configuration.
type Config struct {
	Env          string `env:"ADDONSYNC_ENV" envDefault:"LIVE"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	BaseURL      string `env:"ADDONSYNC_BASE_URL" envDefault:"https://www.redguides.com/community"`
	ManifestURL  string `env:"ADDONSYNC_MANIFEST_URL"`
	ConfigDir    string `env:"ADDONSYNC_CONFIG_DIR"`
	SettingsFile string `env:"ADDONSYNC_SETTINGS" envDefault:"settings.toml"`
	APIKey       string `env:"ADDONSYNC_API_KEY"`
	UserID       string `env:"ADDONSYNC_USER_ID"`
}

// DependencySetting configures one declared dependency of a special resource.
// Flatten is a pointer: when present it overrides the dependency resource's
// own flatten setting, when absent the dependency's setting applies.
type DependencySetting struct {
	OptIn     bool   `toml:"opt_in"`
	Subfolder string `toml:"subfolder"`
	Flatten   *bool  `toml:"flatten"`
}

// SpecialResource configures one opt-in special resource and its declared
// dependencies.
type SpecialResource struct {
	OptIn        bool
	DefaultPath  string
	CustomPath   string
	Flatten      bool
	Dependencies map[int64]DependencySetting
}

// Environment holds the active environment's settings loaded from the TOML
// settings file. The sync pipeline only reads it.
type Environment struct {
	Name             string
	DownloadFolder   string
	GamePath         string
	SpecialResources map[int64]SpecialResource
	ProtectedFiles   map[int64][]string
}

// SpecialPath returns the effective install path for an opted-in special
// resource: the custom path when set, otherwise the default path. The second
// return is false when the resource has no path configured at all.
func (e *Environment) SpecialPath(resourceID int64) (string, bool) {
	special, ok := e.SpecialResources[resourceID]
	if !ok {
		return "", false
	}
	if special.CustomPath != "" {
		return special.CustomPath, true
	}
	if special.DefaultPath != "" {
		return special.DefaultPath, true
	}
	return "", false
}

// rawEnvironment mirrors the TOML table layout, where resource ids are
// string keys.
type rawEnvironment struct {
	DownloadFolder   string                `toml:"download_folder"`
	GamePath         string                `toml:"game_path"`
	SpecialResources map[string]rawSpecial `toml:"special_resources"`
	ProtectedFiles   map[string][]string   `toml:"protected_files"`
}

type rawSpecial struct {
	OptIn        bool                         `toml:"opt_in"`
	DefaultPath  string                       `toml:"default_path"`
	CustomPath   string                       `toml:"custom_path"`
	Flatten      bool                         `toml:"flatten"`
	Dependencies map[string]DependencySetting `toml:"dependencies"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if cfg.ConfigDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		cfg.ConfigDir = wd
	}
	if cfg.ManifestURL == "" {
		cfg.ManifestURL = strings.TrimRight(cfg.BaseURL, "/") + "/resources-manifest"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.Env = strings.ToUpper(c.Env)
	switch c.Env {
	case "LIVE", "TEST", "EMU":
	default:
		return fmt.Errorf("invalid environment %q, must be one of: LIVE, TEST, EMU", c.Env)
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevel := strings.ToLower(c.LogLevel)
	isValidLevel := false
	for _, level := range validLogLevels {
		if logLevel == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.LogLevel, validLogLevels)
	}

	c.ConfigDir = filepath.Clean(c.ConfigDir)

	return nil
}

// CacheDir returns the cache directory, creating it if needed.
func (c *Config) CacheDir() (string, error) {
	dir := filepath.Join(c.ConfigDir, ".cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return dir, nil
}

// DBPath returns the path to this environment's resource cache database.
// Each environment keeps its own database file.
func (c *Config) DBPath() (string, error) {
	dir, err := c.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s_resources.db", c.Env)), nil
}

// Headers returns the authentication headers for catalog requests. The user
// id header may be absent; callers can resolve it via the catalog's /me
// endpoint.
func (c *Config) Headers() (map[string]string, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("ADDONSYNC_API_KEY is required")
	}
	headers := map[string]string{"XF-Api-Key": c.APIKey}
	if c.UserID != "" {
		headers["XF-Api-User"] = c.UserID
	}
	return headers, nil
}

// LoadEnvironment loads the active environment's settings from the TOML
// settings file. A missing file yields an empty environment rather than an
// error so a fresh install can still run a watched-only sync.
func (c *Config) LoadEnvironment() (*Environment, error) {
	path := c.SettingsFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.ConfigDir, path)
	}

	environment := &Environment{
		Name:             c.Env,
		SpecialResources: map[int64]SpecialResource{},
		ProtectedFiles:   map[int64][]string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return environment, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var raw map[string]rawEnvironment
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	section, ok := raw[c.Env]
	if !ok {
		return environment, nil
	}

	if section.DownloadFolder != "" {
		environment.DownloadFolder = filepath.Clean(section.DownloadFolder)
	}
	if section.GamePath != "" {
		environment.GamePath = filepath.Clean(section.GamePath)
	}

	for key, special := range section.SpecialResources {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid special resource id %q: %w", key, err)
		}
		converted := SpecialResource{
			OptIn:        special.OptIn,
			DefaultPath:  cleanIfSet(special.DefaultPath),
			CustomPath:   cleanIfSet(special.CustomPath),
			Flatten:      special.Flatten,
			Dependencies: map[int64]DependencySetting{},
		}
		for depKey, dep := range special.Dependencies {
			depID, err := strconv.ParseInt(depKey, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid dependency id %q under special resource %d: %w", depKey, id, err)
			}
			converted.Dependencies[depID] = dep
		}
		environment.SpecialResources[id] = converted
	}

	for key, files := range section.ProtectedFiles {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid protected-files resource id %q: %w", key, err)
		}
		environment.ProtectedFiles[id] = files
	}

	return environment, nil
}

func cleanIfSet(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			envVars: map[string]string{
				"ADDONSYNC_ENV":     "LIVE",
				"ADDONSYNC_API_KEY": "test-key",
				"LOG_LEVEL":         "info",
			},
			wantErr: false,
		},
		{
			name:    "defaults applied",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "lowercase environment normalized",
			envVars: map[string]string{
				"ADDONSYNC_ENV": "emu",
			},
			wantErr: false,
		},
		{
			name: "invalid environment",
			envVars: map[string]string{
				"ADDONSYNC_ENV": "STAGING",
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			envVars: map[string]string{
				"LOG_LEVEL": "verbose",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			// Verify defaults
			if _, exists := tt.envVars["ADDONSYNC_ENV"]; !exists {
				require.Equal(t, "LIVE", cfg.Env)
			}
			if _, exists := tt.envVars["LOG_LEVEL"]; !exists {
				require.Equal(t, "info", cfg.LogLevel)
			}
			require.Equal(t, "https://www.redguides.com/community", cfg.BaseURL)
			require.Equal(t, "https://www.redguides.com/community/resources-manifest", cfg.ManifestURL)
			require.NotEmpty(t, cfg.ConfigDir)
		})
	}
}

func TestLoad_EnvironmentNormalized(t *testing.T) {
	os.Clearenv()
	os.Setenv("ADDONSYNC_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "TEST", cfg.Env)
}

func TestDBPath(t *testing.T) {
	cfg := &Config{Env: "EMU", ConfigDir: t.TempDir()}

	path, err := cfg.DBPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.ConfigDir, ".cache", "EMU_resources.db"), path)

	// CacheDir is created as a side effect
	info, err := os.Stat(filepath.Join(cfg.ConfigDir, ".cache"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestHeaders(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    map[string]string
		wantErr bool
	}{
		{
			name:   "key and user id",
			config: Config{APIKey: "abc", UserID: "42"},
			want:   map[string]string{"XF-Api-Key": "abc", "XF-Api-User": "42"},
		},
		{
			name:   "key only",
			config: Config{APIKey: "abc"},
			want:   map[string]string{"XF-Api-Key": "abc"},
		},
		{
			name:    "missing key",
			config:  Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := tt.config.Headers()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, headers)
		})
	}
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	settings := `
[LIVE]
download_folder = "/games/live/addons"
game_path = "/games/live"

[LIVE.special_resources.151]
opt_in = true
default_path = "/games/live/core"
flatten = false

[LIVE.special_resources.151.dependencies.153]
opt_in = true
subfolder = "resources"

[LIVE.special_resources.151.dependencies.1865]
opt_in = true
flatten = true

[LIVE.special_resources.2]
opt_in = false
default_path = "/games/live/extra"

[LIVE.protected_files]
151 = ["CharSelect.cfg", "MyButtons.ini"]

[TEST]
download_folder = "/games/test/addons"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(settings), 0o644))

	cfg := &Config{Env: "LIVE", ConfigDir: dir, SettingsFile: "settings.toml"}
	environment, err := cfg.LoadEnvironment()
	require.NoError(t, err)

	require.Equal(t, "LIVE", environment.Name)
	require.Equal(t, filepath.Clean("/games/live/addons"), environment.DownloadFolder)
	require.Equal(t, filepath.Clean("/games/live"), environment.GamePath)

	core, ok := environment.SpecialResources[151]
	require.True(t, ok)
	require.True(t, core.OptIn)
	require.Equal(t, filepath.Clean("/games/live/core"), core.DefaultPath)
	require.Empty(t, core.CustomPath)
	require.False(t, core.Flatten)

	dep, ok := core.Dependencies[153]
	require.True(t, ok)
	require.True(t, dep.OptIn)
	require.Equal(t, "resources", dep.Subfolder)
	require.Nil(t, dep.Flatten, "absent flatten stays unset")

	dep, ok = core.Dependencies[1865]
	require.True(t, ok)
	require.NotNil(t, dep.Flatten)
	require.True(t, *dep.Flatten)

	require.False(t, environment.SpecialResources[2].OptIn)
	require.Equal(t, []string{"CharSelect.cfg", "MyButtons.ini"}, environment.ProtectedFiles[151])
}

func TestLoadEnvironment_MissingFile(t *testing.T) {
	cfg := &Config{Env: "LIVE", ConfigDir: t.TempDir(), SettingsFile: "settings.toml"}

	environment, err := cfg.LoadEnvironment()
	require.NoError(t, err)
	require.Equal(t, "LIVE", environment.Name)
	require.Empty(t, environment.DownloadFolder)
	require.Empty(t, environment.SpecialResources)
	require.Empty(t, environment.ProtectedFiles)
}

func TestLoadEnvironment_MissingSection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[LIVE]\ndownload_folder = \"/x\"\n"), 0o644))

	cfg := &Config{Env: "EMU", ConfigDir: dir, SettingsFile: "settings.toml"}
	environment, err := cfg.LoadEnvironment()
	require.NoError(t, err)
	require.Empty(t, environment.DownloadFolder)
}

func TestLoadEnvironment_BadResourceID(t *testing.T) {
	dir := t.TempDir()
	settings := "[LIVE.special_resources.notanumber]\nopt_in = true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(settings), 0o644))

	cfg := &Config{Env: "LIVE", ConfigDir: dir, SettingsFile: "settings.toml"}
	_, err := cfg.LoadEnvironment()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid special resource id")
}

func TestSpecialPath(t *testing.T) {
	environment := &Environment{
		SpecialResources: map[int64]SpecialResource{
			151:  {OptIn: true, DefaultPath: "/a/default", CustomPath: "/a/custom"},
			1974: {OptIn: true, DefaultPath: "/b/default"},
			60:   {OptIn: true},
		},
	}

	path, ok := environment.SpecialPath(151)
	require.True(t, ok)
	require.Equal(t, "/a/custom", path)

	path, ok = environment.SpecialPath(1974)
	require.True(t, ok)
	require.Equal(t, "/b/default", path)

	_, ok = environment.SpecialPath(60)
	require.False(t, ok)

	_, ok = environment.SpecialPath(999)
	require.False(t, ok)
}

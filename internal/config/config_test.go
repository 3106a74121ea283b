package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Uses defaults when no config file exists
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.NotEmpty(t, cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Paths.DataDir)
	assert.NotEmpty(t, cfg.Paths.PackagesDir)
	assert.Equal(t, 10, cfg.Backup.Retention)
	assert.Equal(t, "3.4.0", cfg.Platform.Version)
	assert.True(t, cfg.Update.CreateBackup)
	assert.Equal(t, "rollback", cfg.Update.MigrationFailure)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("THEMEPKG_PLATFORM_VERSION", "4.0.0")
	t.Setenv("THEMEPKG_BACKUP_RETENTION", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "4.0.0", cfg.Platform.Version)
	assert.Equal(t, 3, cfg.Backup.Retention)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[platform]
version = "5.1.0"

[update.source]
type = "url"
url = "https://themes.example.com/latest.json"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5.1.0", cfg.Platform.Version)
	assert.Equal(t, "url", cfg.Update.Source.Type)
	assert.Equal(t, "https://themes.example.com/latest.json", cfg.Update.Source.URL)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.Dependencies.Blocked, "child_process")
	assert.Contains(t, cfg.Dependencies.Allowed, "@storefront/*")
	assert.Equal(t, "18.2.0", cfg.Platform.Provided["react"])
	assert.Equal(t, "local", cfg.Update.Source.Type)
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	t.Setenv("THEMEPKG_TEST_DIR", "/srv/themes")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty path", input: "", want: ""},
		{name: "absolute path", input: "/usr/local/share", want: "/usr/local/share"},
		{name: "home expansion", input: "~/test", want: filepath.Join(homeDir, "test")},
		{name: "env expansion", input: "$THEMEPKG_TEST_DIR/a", want: "/srv/themes/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPath(tt.input))
		})
	}
}

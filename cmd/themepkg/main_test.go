package main

import (
	"path/filepath"
	"testing"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const colorNever = "never"

func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("THEMEPKG_PATHS_LOG_FILE", filepath.Join(home, "themepkg.log"))
	t.Setenv("THEMEPKG_LOGGING_COLOR", colorNever)
}

func TestConfigLoad(t *testing.T) {
	isolate(t)
	cfg, err := config.Load()
	require.NoError(t, err, "Configuration should load without error")
	assert.NotNil(t, cfg, "Configuration should not be nil")
}

func TestLoggerInitialization(t *testing.T) {
	isolate(t)
	cfg, err := config.Load()
	require.NoError(t, err, "Configuration should load without error")

	log := logging.NewLogger(logging.Config{
		Level:   cfg.Logging.Level,
		LogFile: cfg.Paths.LogFile,
		NoColor: cfg.Logging.Color == colorNever,
	})
	assert.NotNil(t, log, "Logger should not be nil")
}

func TestRun(t *testing.T) {
	isolate(t)

	t.Run("help succeeds", func(t *testing.T) {
		assert.Equal(t, core.ExitSuccess, run([]string{"--help"}))
	})

	t.Run("version succeeds", func(t *testing.T) {
		assert.Equal(t, core.ExitSuccess, run([]string{"version"}))
	})

	t.Run("unknown theme is an argument error", func(t *testing.T) {
		assert.Equal(t, core.ExitInvalidArgs, run([]string{"validate", "no-such-theme"}))
	})

	t.Run("unknown command fails", func(t *testing.T) {
		assert.Equal(t, core.ExitGeneral, run([]string{"frobnicate"}))
	})
}

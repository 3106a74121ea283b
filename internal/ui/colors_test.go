package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestInitColors(t *testing.T) {
	t.Run("with NO_COLOR", func(t *testing.T) {
		t.Setenv("NO_COLOR", "1")

		color.NoColor = false
		InitColors()

		assert.True(t, color.NoColor)
	})

	t.Run("with TERM=dumb", func(t *testing.T) {
		t.Setenv("TERM", "dumb")

		color.NoColor = false
		InitColors()

		assert.True(t, color.NoColor)
	})
}

// captureStdout runs fn with os.Stdout redirected to a pipe
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestPrintFunctions(t *testing.T) {
	noColor(t)

	t.Run("PrintSuccess", func(t *testing.T) {
		output := captureStdout(t, func() { PrintSuccess("updated %s", "dawn") })
		assert.Contains(t, output, "✓")
		assert.Contains(t, output, "updated dawn")
	})

	t.Run("PrintInfo", func(t *testing.T) {
		output := captureStdout(t, func() { PrintInfo("checking %s", "dawn") })
		assert.Contains(t, output, "→")
		assert.Contains(t, output, "checking dawn")
	})

	t.Run("PrintKeyValue", func(t *testing.T) {
		output := captureStdout(t, func() { PrintKeyValue("Version", "1.2.0") })
		assert.Equal(t, "Version: 1.2.0\n", output)
	})

	t.Run("PrintHeader", func(t *testing.T) {
		output := captureStdout(t, func() { PrintHeader("Security Scan") })
		assert.Contains(t, output, "Security Scan")
		assert.Contains(t, output, "────")
	})

	t.Run("PrintList", func(t *testing.T) {
		output := captureStdout(t, func() { PrintList([]string{"one", "two"}) })
		assert.Contains(t, output, "one")
		assert.Contains(t, output, "two")
	})
}

func TestSprintFunctions(t *testing.T) {
	noColor(t)

	result := SprintSuccess("test %s", "message")
	assert.Contains(t, result, "✓")
	assert.Contains(t, result, "test message")

	result = SprintError("test %s", "error")
	assert.Contains(t, result, "✗")
	assert.Contains(t, result, "Error: test error")

	result = SprintWarning("test %s", "warning")
	assert.Equal(t, "Warning: test warning", result)
}

func TestColorizeSeverity(t *testing.T) {
	noColor(t)

	for _, s := range []string{"critical", "high", "medium", "low", "unknown"} {
		assert.Equal(t, s, ColorizeSeverity(s))
	}
}

func TestColorizeState(t *testing.T) {
	noColor(t)

	for _, s := range []string{"succeeded", "dry_run_completed", "rolled_back", "failed_no_rollback", "idle"} {
		assert.Equal(t, s, ColorizeState(s))
	}
	assert.Equal(t, "yes", ColorizeBool(true, "yes", "no"))
	assert.Equal(t, "no", ColorizeBool(false, "yes", "no"))
}

func TestDisableColors(t *testing.T) {
	prev := color.NoColor
	t.Cleanup(func() { color.NoColor = prev })

	color.NoColor = false
	DisableColors()
	assert.True(t, color.NoColor)
}

// noColor disables colors for the duration of the test
func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

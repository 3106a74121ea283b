package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Color scheme for themepkg
var (
	// Primary actions
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow)
	Info    = color.New(color.FgCyan)

	// Secondary actions
	Highlight = color.New(color.FgHiCyan, color.Bold)
	Muted     = color.New(color.Faint)
	Bold      = color.New(color.Bold)

	// Status indicators
	CheckMark = color.GreenString("✓")
	CrossMark = color.RedString("✗")
	Arrow     = color.CyanString("→")
	Bullet    = color.HiBlackString("•")

	// Severity colors
	SeverityCritical = color.New(color.FgHiRed, color.Bold)
	SeverityHigh     = color.New(color.FgRed)
	SeverityMedium   = color.New(color.FgYellow)
	SeverityLow      = color.New(color.FgBlue)
)

// InitColors initializes color settings based on environment
func InitColors() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	// Respect TERM environment variable
	if os.Getenv("TERM") == "dumb" {
		color.NoColor = true
	}
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	Success.Fprintf(os.Stdout, "%s %s\n", CheckMark, fmt.Sprintf(format, args...))
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	Error.Fprintf(os.Stderr, "%s Error: %s\n", CrossMark, fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	Warning.Fprintf(os.Stderr, "Warning: %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	Info.Fprintf(os.Stdout, "%s %s\n", Arrow, fmt.Sprintf(format, args...))
}

// PrintKeyValue prints a key-value pair with color
func PrintKeyValue(key, value string) {
	Bold.Fprintf(os.Stdout, "%s: ", key)
	fmt.Fprintln(os.Stdout, value)
}

// PrintHeader prints a section header
func PrintHeader(text string) {
	fmt.Fprintln(os.Stdout)
	Bold.Fprintln(os.Stdout, text)
	Muted.Fprintln(os.Stdout, "────────────────────────────────────────")
}

// PrintSubheader prints a subsection header
func PrintSubheader(text string) {
	Highlight.Fprintln(os.Stdout, text)
}

// PrintList prints a bulleted list
func PrintList(items []string) {
	for _, item := range items {
		fmt.Fprintf(os.Stdout, "  %s %s\n", Bullet, item)
	}
}

// ColorizeSeverity returns a severity or risk level in its color
func ColorizeSeverity(severity string) string {
	switch severity {
	case "critical":
		return SeverityCritical.Sprint(severity)
	case "high":
		return SeverityHigh.Sprint(severity)
	case "medium":
		return SeverityMedium.Sprint(severity)
	case "low":
		return SeverityLow.Sprint(severity)
	default:
		return severity
	}
}

// ColorizeState returns an update session state colored by outcome
func ColorizeState(state string) string {
	switch state {
	case "succeeded", "dry_run_completed":
		return Success.Sprint(state)
	case "rolled_back":
		return Warning.Sprint(state)
	case "failed_no_rollback":
		return Error.Sprint(state)
	default:
		return Muted.Sprint(state)
	}
}

// ColorizeBool renders a pass/fail flag
func ColorizeBool(ok bool, yes, no string) string {
	if ok {
		return Success.Sprint(yes)
	}
	return Error.Sprint(no)
}

// SprintSuccess returns a success string without printing
func SprintSuccess(format string, args ...interface{}) string {
	return fmt.Sprintf("%s %s", CheckMark, fmt.Sprintf(format, args...))
}

// SprintError returns an error string without printing
func SprintError(format string, args ...interface{}) string {
	return fmt.Sprintf("%s Error: %s", CrossMark, fmt.Sprintf(format, args...))
}

// SprintWarning returns a warning string without printing
func SprintWarning(format string, args ...interface{}) string {
	return fmt.Sprintf("Warning: %s", fmt.Sprintf(format, args...))
}

// DisableColors disables all color output
func DisableColors() {
	color.NoColor = true
}

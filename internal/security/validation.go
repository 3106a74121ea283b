package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// ValidPackageIDRegex matches theme package ids: lowercase alphanumeric and dashes
	ValidPackageIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

	// ValidBackupIDRegex matches backup ids produced by the backup manager
	ValidBackupIDRegex = regexp.MustCompile(`^[a-z0-9-]+-\d+-[a-f0-9]{8}$`)

	// DangerousPathPatterns contains patterns that should not appear in identifiers
	DangerousPathPatterns = []string{
		"..",
		"~",
		"$",
		"`",
		"|",
		"&",
		";",
		"/",
		"\\",
		"\n",
		"\r",
		"\x00",
	}
)

const maxIDLength = 100

// ValidatePackageID validates a theme package id before it is used to build a path
func ValidatePackageID(id string) error {
	if id == "" {
		return fmt.Errorf("package id cannot be empty")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("package id too long (max %d characters)", maxIDLength)
	}
	if err := rejectDangerous("package id", id); err != nil {
		return err
	}
	if !ValidPackageIDRegex.MatchString(id) {
		return fmt.Errorf("invalid package id %q: must contain only lowercase letters, digits and dashes", id)
	}
	return nil
}

// ValidateBackupID validates a backup id before it is used to build a path.
// Imported backups may carry ids from other tools, so only the shape of a safe
// file name is enforced here.
func ValidateBackupID(id string) error {
	if id == "" {
		return fmt.Errorf("backup id cannot be empty")
	}
	if len(id) > 2*maxIDLength {
		return fmt.Errorf("backup id too long (max %d characters)", 2*maxIDLength)
	}
	if err := rejectDangerous("backup id", id); err != nil {
		return err
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("backup id cannot start with a dot")
	}
	return nil
}

func rejectDangerous(what, value string) error {
	for _, pattern := range DangerousPathPatterns {
		if strings.Contains(value, pattern) {
			return fmt.Errorf("%s contains dangerous pattern: %q", what, pattern)
		}
	}
	return nil
}

// SanitizeName turns a human backup name into something safe to log and display
// on one line: control characters are dropped and whitespace is collapsed.
func SanitizeName(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, input)
	return strings.Join(strings.Fields(cleaned), " ")
}

package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateExtractPath prevents directory traversal (Zip Slip) when extracting
// a release archive: the entry must stay inside targetDir.
func ValidateExtractPath(targetDir, extractedPath string) error {
	if strings.Contains(extractedPath, "\x00") {
		return fmt.Errorf("path contains null byte: %q", extractedPath)
	}

	cleanPath := filepath.Clean(extractedPath)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains ..: %s", extractedPath)
	}
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute path not allowed: %s", extractedPath)
	}

	cleanDest, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve target directory: %w", err)
	}
	cleanTarget, err := filepath.Abs(filepath.Join(targetDir, cleanPath))
	if err != nil {
		return fmt.Errorf("failed to resolve destination path: %w", err)
	}

	if !strings.HasPrefix(cleanTarget, cleanDest+string(filepath.Separator)) &&
		cleanTarget != cleanDest {
		return fmt.Errorf("path escapes destination directory: %s", extractedPath)
	}
	return nil
}

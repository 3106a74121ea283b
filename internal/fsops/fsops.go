package fsops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// CreateTempDir creates a temporary directory with the given prefix under base.
// An empty base uses the OS temp directory.
func CreateTempDir(fs afero.Fs, base, prefix string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := fs.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("create temp base: %w", err)
	}
	dir, err := afero.TempDir(fs, base, prefix)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// CheckWritable checks if a path is writable
func CheckWritable(fs afero.Fs, path string) error {
	testFile := filepath.Join(path, ".write_test")
	f, err := fs.Create(testFile)
	if err != nil {
		return fmt.Errorf("path not writable: %w", err)
	}
	f.Close()
	return fs.Remove(testFile)
}

// EnsureDir ensures a directory exists with the given permissions
func EnsureDir(fs afero.Fs, path string, perm os.FileMode) error {
	if err := fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	return nil
}

// Exists checks if a path exists
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// IsDir checks if a path is a directory
func IsDir(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CopyFile copies a file from src to dst, preserving its permission bits
func CopyFile(fs afero.Fs, src, dst string) (err error) {
	info, err := fs.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	dstFile, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if cerr := dstFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}

	return nil
}

// CopyDir recursively copies src into dst. The context is checked before each
// file so a cancelled copy stops between files, never mid-file.
func CopyDir(ctx context.Context, fs afero.Fs, src, dst string) error {
	entries, err := Walk(fs, src, AllEntries)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		target := filepath.Join(dst, entry.RelPath)
		if entry.IsDir {
			if err := fs.MkdirAll(target, entry.Mode.Perm()|0700); err != nil {
				return fmt.Errorf("create directory %s: %w", entry.RelPath, err)
			}
			continue
		}
		if err := CopyFile(fs, entry.Path, target); err != nil {
			return fmt.Errorf("copy %s: %w", entry.RelPath, err)
		}
	}
	return nil
}

// ReplaceDir makes dst an exact copy of src, removing whatever dst held before
func ReplaceDir(ctx context.Context, fs afero.Fs, src, dst string) error {
	if err := fs.RemoveAll(dst); err != nil {
		return fmt.Errorf("clear %s: %w", dst, err)
	}
	return CopyDir(ctx, fs, src, dst)
}

// ReadTree loads every file under root into memory, keyed by slash-separated relative path
func ReadTree(fs afero.Fs, root string) (map[string][]byte, error) {
	entries, err := Walk(fs, root, AllEntries)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		data, err := afero.ReadFile(fs, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.RelPath, err)
		}
		files[filepath.ToSlash(entry.RelPath)] = data
	}
	return files, nil
}

// WriteTree writes files (keyed by slash-separated relative path) under root
func WriteTree(fs afero.Fs, root string, files map[string][]byte) error {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create %s: %w", root, err)
	}
	for rel, data := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent of %s: %w", rel, err)
		}
		if err := afero.WriteFile(fs, target, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

// Package archive extracts theme release archives onto an afero filesystem.
// Every entry path is checked against the destination before anything is
// written; links and special files are skipped since theme packages are plain
// data.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
)

// MaxExtractedSize caps the total bytes written by one extraction
const MaxExtractedSize int64 = 200 * 1024 * 1024

// ErrUnsupportedFormat is returned for archive names with no known extension
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrTooLarge is returned when an archive expands beyond MaxExtractedSize
var ErrTooLarge = errors.New("archive expands beyond size limit")

// Format identifies an archive container
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
	FormatTarXz Format = "tar.xz"
	FormatTar   Format = "tar"
)

// DetectFormat infers the archive format from a file name or URL path
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(name))
}

// Sniff identifies an archive from its leading bytes. Plain tar is not
// detected since it has no magic at offset zero.
func Sniff(header []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")):
		return FormatZip, nil
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		return FormatTarGz, nil
	case bytes.HasPrefix(header, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return FormatTarXz, nil
	}
	return "", ErrUnsupportedFormat
}

// Extract unpacks archivePath into destDir, choosing the decoder by file name
func Extract(ctx context.Context, fs afero.Fs, archivePath, destDir string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	switch format {
	case FormatZip:
		return ExtractZip(ctx, fs, archivePath, destDir)
	case FormatTarGz:
		return ExtractTarGz(ctx, fs, archivePath, destDir)
	case FormatTarXz:
		return ExtractTarXz(ctx, fs, archivePath, destDir)
	default:
		return ExtractTar(ctx, fs, archivePath, destDir)
	}
}

// ExtractTarGz extracts a .tar.gz archive with security checks
func ExtractTarGz(ctx context.Context, fs afero.Fs, archivePath, destDir string) error {
	file, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	return extractTar(ctx, fs, gzr, destDir)
}

// ExtractTarXz extracts a .tar.xz archive with security checks
func ExtractTarXz(ctx context.Context, fs afero.Fs, archivePath, destDir string) error {
	file, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	xzr, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create xz reader: %w", err)
	}

	return extractTar(ctx, fs, xzr, destDir)
}

// ExtractTar extracts a .tar archive with security checks
func ExtractTar(ctx context.Context, fs afero.Fs, archivePath, destDir string) error {
	file, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	return extractTar(ctx, fs, file, destDir)
}

func extractTar(ctx context.Context, fs afero.Fs, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	budget := MaxExtractedSize

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		if err := security.ValidateExtractPath(destDir, header.Name); err != nil {
			return fmt.Errorf("invalid path in archive: %w", err)
		}

		target := filepath.Join(destDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			n, err := extractFile(fs, tr, target, os.FileMode(header.Mode).Perm(), budget)
			if err != nil {
				return fmt.Errorf("failed to extract file %s: %w", header.Name, err)
			}
			budget -= n

		default:
			// links, devices and fifos have no place in a theme package
			continue
		}
	}

	return nil
}

// extractFile copies at most budget bytes from r into target
func extractFile(fs afero.Fs, r io.Reader, target string, mode os.FileMode, budget int64) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	if mode == 0 {
		mode = 0644
	}
	f, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, budget+1))
	if err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}
	if n > budget {
		return n, ErrTooLarge
	}

	return n, nil
}

// ExtractZip extracts a .zip archive with security checks
func ExtractZip(ctx context.Context, fs afero.Fs, archivePath, destDir string) error {
	file, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat zip: %w", err)
	}

	r, err := zip.NewReader(file, info.Size())
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}

	budget := MaxExtractedSize
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := security.ValidateExtractPath(destDir, f.Name); err != nil {
			return fmt.Errorf("invalid path in zip: %w", err)
		}

		target := filepath.Join(destDir, f.Name)

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := fs.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		case !mode.IsRegular():
			continue
		}

		n, err := extractZipFile(fs, f, target, budget)
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		budget -= n
	}

	return nil
}

func extractZipFile(fs afero.Fs, f *zip.File, target string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open zip file entry: %w", err)
	}
	defer rc.Close()

	return extractFile(fs, rc, target, f.Mode().Perm(), budget)
}

// SingleRoot returns the only top-level directory under dir, which is how
// most release archives wrap their contents. When dir holds anything else it
// returns dir unchanged.
func SingleRoot(fs afero.Fs, dir string) (string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	if len(infos) == 1 && infos[0].IsDir() {
		return filepath.Join(dir, infos[0].Name()), nil
	}
	return dir, nil
}

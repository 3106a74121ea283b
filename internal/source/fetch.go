package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/quantmind-br/themepkg/internal/archive"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrDownloadTooLarge is returned when a release archive exceeds the download budget
var ErrDownloadTooLarge = errors.New("download too large")

// ProgressFunc wraps a download body so callers can render progress. size is
// -1 when the server did not announce a length.
type ProgressFunc func(body io.Reader, size int64, description string) io.ReadCloser

// Download is a candidate package materialized on the package store
type Download struct {
	// Dir is the scratch directory owning every downloaded artifact
	Dir string
	// Root is the candidate package root inside Dir
	Root string
}

// Fetcher materializes a ReleaseInfo into an isolated scratch directory
type Fetcher struct {
	fs       afero.Fs
	tempBase string
	http     *http.Client
	logger   *zerolog.Logger
	progress ProgressFunc
	maxSize  int64
}

// NewFetcher creates a fetcher writing under tempBase. Downloads are bounded by
// the context only; release archives can be large.
func NewFetcher(fs afero.Fs, tempBase string, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{
		fs:       fs,
		tempBase: tempBase,
		http:     &http.Client{},
		logger:   logger,
		maxSize:  archive.MaxExtractedSize,
	}
}

// WithProgress sets a progress renderer for remote downloads
func (f *Fetcher) WithProgress(p ProgressFunc) *Fetcher {
	f.progress = p
	return f
}

// Fetch downloads or copies the candidate into a new scratch directory. On
// failure the scratch directory is removed before returning.
func (f *Fetcher) Fetch(ctx context.Context, info *ReleaseInfo) (dl *Download, err error) {
	if info == nil || (info.LocalPath == "" && info.DownloadURL == "") {
		return nil, errors.New("release has no download location")
	}

	dir, err := fsops.CreateTempDir(f.fs, f.tempBase, "download-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = f.fs.RemoveAll(dir)
		}
	}()

	if info.LocalPath != "" {
		root := filepath.Join(dir, "package")
		if err := fsops.CopyDir(ctx, f.fs, info.LocalPath, root); err != nil {
			return nil, fmt.Errorf("copy candidate: %w", err)
		}
		return &Download{Dir: dir, Root: root}, nil
	}

	archivePath, err := f.download(ctx, info, dir)
	if err != nil {
		return nil, err
	}

	extracted := filepath.Join(dir, "extracted")
	if err := archive.Extract(ctx, f.fs, archivePath, extracted); err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}
	root, err := f.findRoot(extracted)
	if err != nil {
		return nil, err
	}

	if f.logger != nil {
		f.logger.Debug().Str("version", info.Version).Str("root", root).Msg("candidate downloaded")
	}
	return &Download{Dir: dir, Root: root}, nil
}

// findRoot locates the directory holding the manifest: either the extraction
// root or its single wrapping directory.
func (f *Fetcher) findRoot(extracted string) (string, error) {
	if fsops.Exists(f.fs, filepath.Join(extracted, paths.ManifestFile)) {
		return extracted, nil
	}
	root, err := archive.SingleRoot(f.fs, extracted)
	if err != nil {
		return "", err
	}
	if !fsops.Exists(f.fs, filepath.Join(root, paths.ManifestFile)) {
		return "", fmt.Errorf("archive does not contain %s", paths.ManifestFile)
	}
	return root, nil
}

func (f *Fetcher) download(ctx context.Context, info *ReleaseInfo, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.DownloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", "themepkg")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", info.DownloadURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", info.DownloadURL, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.progress != nil {
		pr := f.progress(resp.Body, resp.ContentLength, "Downloading "+info.Version)
		defer pr.Close()
		body = pr
	}

	// the format comes from the URL when it has an extension, otherwise from
	// the first bytes of the body
	tmp := filepath.Join(dir, "archive.part")
	out, err := f.fs.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	header := make([]byte, 8)
	n, _ := io.ReadFull(body, header)
	header = header[:n]
	written := int64(n)
	_, err = out.Write(header)
	if err == nil {
		var copied int64
		copied, err = io.Copy(out, io.LimitReader(body, f.maxSize-written+1))
		written += copied
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write download: %w", err)
	}
	if written > f.maxSize {
		return "", fmt.Errorf("%w: %s exceeds %d MB", ErrDownloadTooLarge, info.DownloadURL, f.maxSize/(1024*1024))
	}

	format, ferr := archive.DetectFormat(info.DownloadURL)
	if ferr != nil {
		format, ferr = archive.Sniff(header)
		if ferr != nil {
			return "", fmt.Errorf("download %s: %w", info.DownloadURL, ferr)
		}
	}

	final := filepath.Join(dir, "archive."+string(format))
	if err := f.fs.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}
	return final, nil
}

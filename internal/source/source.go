// Package source looks up the latest available version of a theme package.
// Four kinds of source exist behind a single interface: a release-listing
// API, a package registry, a plain JSON endpoint and a local directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrNoUpdateInfo wraps every lookup failure. Callers treat it as "no update
// available", never as a fatal error.
var ErrNoUpdateInfo = errors.New("no update information available")

// Kind tags a source implementation in configuration
type Kind string

const (
	KindRelease  Kind = "release"
	KindRegistry Kind = "registry"
	KindURL      Kind = "url"
	KindLocal    Kind = "local"
)

// DefaultTimeout bounds every remote lookup
const DefaultTimeout = 30 * time.Second

const (
	defaultReleaseAPI  = "https://api.github.com"
	defaultRegistryURL = "https://registry.npmjs.org"
)

// ReleaseInfo describes the latest version a source knows about
type ReleaseInfo struct {
	Version      string    `json:"version"`
	ReleaseNotes string    `json:"releaseNotes,omitempty"`
	DownloadURL  string    `json:"downloadUrl,omitempty"`
	PublishedAt  time.Time `json:"publishedAt,omitempty"`
	// LocalPath is set by local sources instead of DownloadURL
	LocalPath string `json:"localPath,omitempty"`
	Source    Kind   `json:"source"`
}

// Source reports the latest available version of one package
type Source interface {
	Kind() Kind
	FetchLatestVersionInfo(ctx context.Context) (*ReleaseInfo, error)
}

// New builds the source selected by cfg.Update.Source.Type for packageID
func New(fs afero.Fs, cfg *config.Config, packageID string, logger *zerolog.Logger) (Source, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	sc := cfg.Update.Source

	timeout := DefaultTimeout
	if cfg.Update.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Update.TimeoutSeconds) * time.Second
	}

	switch Kind(sc.Type) {
	case KindRelease:
		if sc.Repository == "" {
			return nil, fmt.Errorf("release source requires update.source.repository")
		}
		base := sc.URL
		if base == "" {
			base = defaultReleaseAPI
		}
		return NewReleaseSource(base, sc.Repository, timeout, logger), nil

	case KindRegistry:
		base := sc.URL
		if base == "" {
			base = defaultRegistryURL
		}
		name := sc.Package
		if name == "" {
			name = packageID
		}
		return NewRegistrySource(base, name, timeout, logger), nil

	case KindURL:
		if sc.URL == "" {
			return nil, fmt.Errorf("url source requires update.source.url")
		}
		return NewURLSource(sc.URL, timeout, logger), nil

	case KindLocal:
		if sc.Path == "" {
			return nil, fmt.Errorf("local source requires update.source.path")
		}
		return NewLocalSource(fs, sc.Path, packageID), nil

	case "":
		return nil, fmt.Errorf("no update source configured (set update.source.type)")
	default:
		return nil, fmt.Errorf("unknown update source type %q", sc.Type)
	}
}

func noInfo(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNoUpdateInfo, fmt.Sprintf(format, args...))
}

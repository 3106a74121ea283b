package source

import (
	"context"
	"path/filepath"

	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/spf13/afero"
)

// LocalSource reads a candidate package straight from a directory. The
// directory is either the package itself or a parent holding one
// sub-directory per package id.
type LocalSource struct {
	fs        afero.Fs
	root      string
	packageID string
}

// NewLocalSource creates a local source rooted at root
func NewLocalSource(fs afero.Fs, root, packageID string) *LocalSource {
	return &LocalSource{fs: fs, root: root, packageID: packageID}
}

// Kind implements Source
func (s *LocalSource) Kind() Kind { return KindLocal }

func (s *LocalSource) packageDir() string {
	nested := filepath.Join(s.root, s.packageID)
	if fsops.Exists(s.fs, filepath.Join(nested, paths.ManifestFile)) {
		return nested
	}
	return s.root
}

// FetchLatestVersionInfo implements Source
func (s *LocalSource) FetchLatestVersionInfo(ctx context.Context) (*ReleaseInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, noInfo("%v", err)
	}
	dir := s.packageDir()
	m, err := manifest.Load(s.fs, filepath.Join(dir, paths.ManifestFile))
	if err != nil {
		return nil, noInfo("%v", err)
	}
	if m.ID != "" && m.ID != s.packageID {
		return nil, noInfo("%s holds package %q, not %q", dir, m.ID, s.packageID)
	}
	return &ReleaseInfo{
		Version:      m.Version,
		ReleaseNotes: m.Description,
		LocalPath:    dir,
		Source:       KindLocal,
	}, nil
}

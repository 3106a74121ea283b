// Package validator checks a theme package's structure, manifest and declared
// metadata before anything else touches it.
package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/deps"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// MaxFileSize is the size above which a single file draws a warning
	MaxFileSize int64 = 500 * 1024
	// MaxPackageSize is the total size above which a package is rejected
	MaxPackageSize int64 = 5 * 1024 * 1024
)

// Metadata summarizes what a validation run looked at
type Metadata struct {
	FilesScanned int    `json:"filesScanned"`
	TotalSize    int64  `json:"totalSize"`
	SectionCount int    `json:"sectionCount"`
	BlockCount   int    `json:"blockCount"`
	PackageID    string `json:"packageId,omitempty"`
	Version      string `json:"version,omitempty"`
}

// Result is the outcome of one validation run
type Result struct {
	Valid    bool         `json:"valid"`
	Errors   []core.Issue `json:"errors"`
	Warnings []core.Issue `json:"warnings"`
	Metadata Metadata     `json:"metadata"`

	// Manifest is the parsed manifest, nil when it could not be read
	Manifest *manifest.Manifest `json:"-"`
}

func (r *Result) addError(kind core.IssueKind, file, path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, core.Issue{Kind: kind, Message: fmt.Sprintf(format, args...), File: file, Path: path})
}

func (r *Result) addWarning(kind core.IssueKind, file, path, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, core.Issue{Kind: kind, Message: fmt.Sprintf(format, args...), File: file, Path: path})
}

// Validator validates theme packages on a package store
type Validator struct {
	fs              afero.Fs
	resolver        *paths.Resolver
	platformVersion string
	allowed         []string
	logger          *zerolog.Logger
}

// New creates a validator using the platform version and allow-list from cfg
func New(fs afero.Fs, cfg *config.Config, logger *zerolog.Logger) *Validator {
	if cfg == nil {
		cfg = config.Default()
	}
	return NewWithDeps(fs, paths.NewResolver(cfg), cfg.Platform.Version, cfg.Dependencies.Allowed, logger)
}

// NewWithDeps creates a validator with explicit dependencies (useful for tests)
func NewWithDeps(fs afero.Fs, resolver *paths.Resolver, platformVersion string, allowed []string, logger *zerolog.Logger) *Validator {
	return &Validator{
		fs:              fs,
		resolver:        resolver,
		platformVersion: platformVersion,
		allowed:         allowed,
		logger:          logger,
	}
}

// Validate validates the live package with the given id
func (v *Validator) Validate(ctx context.Context, packageID string) (*Result, error) {
	return v.ValidateDir(ctx, v.resolver.PackageDir(packageID))
}

// ValidateDir validates the package rooted at dir. A missing root is the only
// condition that stops validation early; every other check runs and
// contributes to the result. Returned errors are reserved for I/O failures.
func (v *Validator) ValidateDir(ctx context.Context, dir string) (*Result, error) {
	res := &Result{Errors: []core.Issue{}, Warnings: []core.Issue{}}

	info, err := v.fs.Stat(dir)
	if err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat package root: %w", err)
		}
		res.addError(core.KindStructure, dir, "", "package directory does not exist")
		return res, nil
	}

	m := v.checkManifest(res, dir)
	res.Manifest = m

	layout := m
	if layout == nil {
		layout = &manifest.Manifest{}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.checkStructure(res, dir, layout.Entries())

	if m != nil {
		v.checkDependencies(res, m)
		v.checkCompatibility(res, m)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.checkPerformance(res, dir); err != nil {
		return nil, err
	}

	res.Valid = len(res.Errors) == 0

	if v.logger != nil {
		v.logger.Debug().
			Str("dir", dir).
			Bool("valid", res.Valid).
			Int("errors", len(res.Errors)).
			Int("warnings", len(res.Warnings)).
			Int("files", res.Metadata.FilesScanned).
			Msg("validation finished")
	}
	return res, nil
}

func (v *Validator) checkManifest(res *Result, dir string) *manifest.Manifest {
	path := filepath.Join(dir, paths.ManifestFile)
	data, err := afero.ReadFile(v.fs, path)
	if err != nil {
		res.addError(core.KindStructure, paths.ManifestFile, "", "manifest is missing or unreadable: %v", err)
		return nil
	}

	m, err := manifest.Parse(data)
	if err != nil {
		res.addError(core.KindStructure, paths.ManifestFile, "", "manifest is not valid JSON: %v", err)
		return nil
	}

	for _, violation := range m.Validate() {
		res.addError(core.KindStructure, paths.ManifestFile, violation.Path, "%s", violation.Error())
	}
	res.Metadata.PackageID = m.ID
	res.Metadata.Version = m.Version
	return m
}

func (v *Validator) checkStructure(res *Result, dir string, e manifest.EntryPoints) {
	if v.inside(res, dir, e.Main, "entryPoints.main") && !fsops.Exists(v.fs, filepath.Join(dir, e.Main)) {
		res.addError(core.KindStructure, e.Main, "entryPoints.main", "entry file %s is missing", e.Main)
	}

	if v.inside(res, dir, e.Sections, "entryPoints.sections") {
		res.Metadata.SectionCount = v.requireDir(res, dir, e.Sections, "entryPoints.sections")
	}
	if v.inside(res, dir, e.Blocks, "entryPoints.blocks") {
		res.Metadata.BlockCount = v.requireDir(res, dir, e.Blocks, "entryPoints.blocks")
	}

	for _, optional := range []struct{ name, path string }{
		{e.Styles, "entryPoints.styles"},
		{e.Config, "entryPoints.config"},
		{"templates", ""},
	} {
		if !v.inside(res, dir, optional.name, optional.path) {
			continue
		}
		if !fsops.IsDir(v.fs, filepath.Join(dir, optional.name)) {
			res.addWarning(core.KindStructure, optional.name, optional.path, "optional directory %s is missing", optional.name)
		}
	}
}

// inside reports an entry point that resolves outside the package root
func (v *Validator) inside(res *Result, root, name, path string) bool {
	if err := security.ValidateExtractPath(root, name); err != nil {
		res.addError(core.KindStructure, paths.ManifestFile, path, "entry point %s leaves the package: %v", name, err)
		return false
	}
	return true
}

// requireDir reports a missing required directory and returns its file count
func (v *Validator) requireDir(res *Result, root, name, path string) int {
	dir := filepath.Join(root, name)
	if !fsops.IsDir(v.fs, dir) {
		res.addError(core.KindStructure, name, path, "required directory %s is missing", name)
		return 0
	}
	entries, err := fsops.Walk(v.fs, dir, fsops.SourcePolicy)
	if err != nil {
		res.addWarning(core.KindStructure, name, path, "cannot list %s: %v", name, err)
		return 0
	}
	return len(fsops.Files(entries))
}

func (v *Validator) checkDependencies(res *Result, m *manifest.Manifest) {
	check := func(field string, declared map[string]string) {
		names := make([]string, 0, len(declared))
		for name := range declared {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !deps.IsAllowed(name, v.allowed) {
				res.addWarning(core.KindDependency, paths.ManifestFile, field+"."+name,
					"dependency %s is not on the allow-list", name)
			}
		}
	}
	check("dependencies", m.Dependencies)
	check("peerDependencies", m.PeerDependencies)
}

func (v *Validator) checkCompatibility(res *Result, m *manifest.Manifest) {
	if m.MinPlatformVersion == "" && m.MaxPlatformVersion == "" {
		return
	}
	c := version.CheckCompatibility(v.platformVersion, m.MinPlatformVersion, m.MaxPlatformVersion)
	if !c.Compatible {
		res.addError(core.KindCompatibility, paths.ManifestFile, "", "%s", c.Reason)
	}
}

func (v *Validator) checkPerformance(res *Result, dir string) error {
	entries, err := fsops.Walk(v.fs, dir, fsops.SkipDirs("node_modules", ".git"))
	if err != nil {
		return fmt.Errorf("scan package files: %w", err)
	}

	files := fsops.Files(entries)
	for _, f := range files {
		if f.Size > MaxFileSize {
			res.addWarning(core.KindPerformance, f.RelPath, "",
				"file is %d KB, larger than the recommended %d KB", f.Size/1024, MaxFileSize/1024)
		}
	}

	total := fsops.TotalSize(files)
	res.Metadata.FilesScanned = len(files)
	res.Metadata.TotalSize = total
	if total > MaxPackageSize {
		res.addError(core.KindPerformance, "", "",
			"package is %.1f MB, exceeding the %d MB limit", float64(total)/(1024*1024), MaxPackageSize/(1024*1024))
	}
	return nil
}

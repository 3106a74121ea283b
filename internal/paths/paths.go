package paths

import (
	"os"
	"path/filepath"

	"github.com/quantmind-br/themepkg/internal/config"
)

// ManifestFile is the name of the manifest at the root of every theme package
const ManifestFile = "theme.json"

// Resolver centralizes where theme packages, backups and scratch space live.
// Empty configuration values fall back to directories under the data dir.
type Resolver struct {
	homeDir string
	cfg     *config.Config
}

// NewResolver creates a Resolver using the current user's HOME
func NewResolver(cfg *config.Config) *Resolver {
	homeDir, _ := os.UserHomeDir()
	return &Resolver{
		homeDir: homeDir,
		cfg:     cfg,
	}
}

// NewResolverWithHome creates a Resolver with an explicit home directory (useful for tests)
func NewResolverWithHome(cfg *config.Config, homeDir string) *Resolver {
	return &Resolver{
		homeDir: homeDir,
		cfg:     cfg,
	}
}

// HomeDir returns the resolved home directory
func (r *Resolver) HomeDir() string {
	return r.homeDir
}

// DataDir returns the base data directory
func (r *Resolver) DataDir() string {
	if r.cfg != nil && r.cfg.Paths.DataDir != "" {
		return r.cfg.Paths.DataDir
	}
	return filepath.Join(r.homeDir, ".local", "share", "themepkg")
}

// PackagesDir returns the directory holding installed theme packages
func (r *Resolver) PackagesDir() string {
	if r.cfg != nil && r.cfg.Paths.PackagesDir != "" {
		return r.cfg.Paths.PackagesDir
	}
	return filepath.Join(r.DataDir(), "themes")
}

// BackupsDir returns the root of all backup directories
func (r *Resolver) BackupsDir() string {
	if r.cfg != nil && r.cfg.Paths.BackupsDir != "" {
		return r.cfg.Paths.BackupsDir
	}
	return filepath.Join(r.DataDir(), "backups")
}

// TempDir returns the scratch directory used for downloads and shadow copies.
// It lives on the same host as the packages dir so copies stay local.
func (r *Resolver) TempDir() string {
	if r.cfg != nil && r.cfg.Paths.TempDir != "" {
		return r.cfg.Paths.TempDir
	}
	return filepath.Join(r.DataDir(), "tmp")
}

// PackageDir returns the live directory of a package
func (r *Resolver) PackageDir(packageID string) string {
	return filepath.Join(r.PackagesDir(), packageID)
}

// ManifestPath returns the manifest path of a live package
func (r *Resolver) ManifestPath(packageID string) string {
	return filepath.Join(r.PackageDir(packageID), ManifestFile)
}

// BackupDir returns the backup directory of a package
func (r *Resolver) BackupDir(packageID string) string {
	return filepath.Join(r.BackupsDir(), packageID)
}

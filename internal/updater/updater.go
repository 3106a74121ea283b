// Package updater drives a theme package from its installed version to the
// latest one published by its update source: check, back up, download,
// validate, scan, resolve dependencies, apply, migrate and clean up, rolling
// back to the pre-update backup when any step fails.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/themepkg/internal/backup"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/db"
	"github.com/quantmind-br/themepkg/internal/deps"
	"github.com/quantmind-br/themepkg/internal/lock"
	"github.com/quantmind-br/themepkg/internal/logging"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/source"
	"github.com/quantmind-br/themepkg/internal/validator"
	"github.com/quantmind-br/themepkg/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// State is a step of an update session
type State string

const (
	StateIdle                  State = "idle"
	StateCheckingForUpdate     State = "checking_for_update"
	StateBackingUp             State = "backing_up"
	StateDownloading           State = "downloading"
	StateValidating            State = "validating"
	StateScanningSecurity      State = "scanning_security"
	StateResolvingDependencies State = "resolving_dependencies"
	StateApplying              State = "applying"
	StateMigrating             State = "migrating"
	StateCleaningUp            State = "cleaning_up"
	StateSucceeded             State = "succeeded"
	StateRolledBack            State = "rolled_back"
	StateFailedNoRollback      State = "failed_no_rollback"
	StateDryRunCompleted       State = "dry_run_completed"
)

// Terminal reports whether a session ends in s
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateRolledBack, StateFailedNoRollback, StateDryRunCompleted:
		return true
	}
	return false
}

// Migration failure policies
const (
	MigrationFailureRollback = "rollback"
	MigrationFailureWarn     = "warn"
)

var (
	// ErrLocked is returned when another session holds the package
	ErrLocked = lock.ErrLocked
	// ErrRolledBack means the update failed and the pre-update backup was restored
	ErrRolledBack = errors.New("update failed and was rolled back")
	// ErrNoRollback means the update failed and nothing could be restored
	ErrNoRollback = errors.New("update failed without rollback")
	// ErrCandidateRejected means a check on the downloaded candidate failed
	ErrCandidateRejected = errors.New("update candidate rejected")
	// ErrVersionMismatch means the applied package does not carry the target version
	ErrVersionMismatch = errors.New("applied version does not match target")
	// ErrNotInstalled means there is no live package to update
	ErrNotInstalled = errors.New("package is not installed")
)

// HistoryRecorder persists the outcome of finished sessions
type HistoryRecorder interface {
	RecordUpdate(ctx context.Context, rec *db.UpdateRecord) error
}

// customizationsLoader is implemented by stores that also keep customizations
type customizationsLoader interface {
	LoadCustomizations(ctx context.Context, packageID string) (*core.Customizations, error)
}

// Policy is the configured behaviour of update sessions
type Policy struct {
	CreateBackup     bool
	AutoMigrate      bool
	MigrationFailure string
}

// Deps are the collaborators of an Updater
type Deps struct {
	Fs         afero.Fs
	Resolver   *paths.Resolver
	Source     source.Source
	Fetcher    *source.Fetcher
	Validator  *validator.Validator
	Scanner    *security.Scanner
	Catalog    deps.Catalog
	Backups    *backup.Manager
	Migrations *version.Manager
	Store      core.SettingsStore
	History    HistoryRecorder
	Locks      *lock.Registry
	Now        func() time.Time
}

// Updater runs update sessions for one package
type Updater struct {
	packageID string
	d         Deps
	policy    Policy
	logger    *zerolog.Logger
}

// New wires an updater for packageID from configuration. store, history and
// migrations may be nil; locks should be shared by every caller touching the
// same package store.
func New(fs afero.Fs, cfg *config.Config, packageID string, store core.SettingsStore, history HistoryRecorder, migrations *version.Manager, locks *lock.Registry, logger *zerolog.Logger) (*Updater, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	sourceLog := logging.Component(logger, "source")
	src, err := source.New(fs, cfg, packageID, sourceLog)
	if err != nil {
		return nil, fmt.Errorf("configure update source: %w", err)
	}
	if locks == nil {
		locks = lock.NewRegistry()
	}
	resolver := paths.NewResolver(cfg)

	return NewWithDeps(packageID, Deps{
		Fs:         fs,
		Resolver:   resolver,
		Source:     src,
		Fetcher:    source.NewFetcher(fs, resolver.TempDir(), sourceLog),
		Validator:  validator.New(fs, cfg, logging.Component(logger, "validator")),
		Scanner:    security.NewScanner(fs, resolver, logging.Component(logger, "scanner")),
		Catalog:    deps.CatalogFromConfig(cfg),
		Backups:    backup.New(fs, cfg, packageID, store, locks, logging.Component(logger, "backup")),
		Migrations: migrations,
		Store:      store,
		History:    history,
		Locks:      locks,
	}, Policy{
		CreateBackup:     cfg.Update.CreateBackup,
		AutoMigrate:      cfg.Update.AutoMigrate,
		MigrationFailure: cfg.Update.MigrationFailure,
	}, logging.Component(logger, "updater")), nil
}

// NewWithDeps creates an updater with explicit dependencies (useful for tests)
func NewWithDeps(packageID string, d Deps, policy Policy, logger *zerolog.Logger) *Updater {
	if d.Locks == nil {
		d.Locks = lock.NewRegistry()
	}
	if d.Migrations == nil {
		d.Migrations = version.NewManager(logger)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if policy.MigrationFailure == "" {
		policy.MigrationFailure = MigrationFailureRollback
	}
	return &Updater{
		packageID: packageID,
		d:         d,
		policy:    policy,
		logger:    logger,
	}
}

// WithProgress renders candidate downloads through p
func (u *Updater) WithProgress(p source.ProgressFunc) *Updater {
	if u.d.Fetcher != nil {
		u.d.Fetcher = u.d.Fetcher.WithProgress(p)
	}
	return u
}

// PackageID returns the package this updater is bound to
func (u *Updater) PackageID() string {
	return u.packageID
}

// Check is the outcome of an update check
type Check struct {
	Available      bool                `json:"available"`
	CurrentVersion string              `json:"currentVersion"`
	LatestVersion  string              `json:"latestVersion,omitempty"`
	Breaking       bool                `json:"breaking"`
	Release        *source.ReleaseInfo `json:"release,omitempty"`
	Message        string              `json:"message"`
}

// CheckForUpdate asks the update source for the latest version. Source
// failures are reported as "no update information" rather than errors; only
// a missing or unreadable live package is an error.
func (u *Updater) CheckForUpdate(ctx context.Context) (*Check, error) {
	current, err := u.installedVersion()
	if err != nil {
		return nil, err
	}

	c := &Check{CurrentVersion: current}
	info, err := u.d.Source.FetchLatestVersionInfo(ctx)
	if err != nil {
		if u.logger != nil {
			u.logger.Warn().Err(err).Str("package", u.packageID).Msg("update information unavailable")
		}
		c.Message = fmt.Sprintf("no update information available: %v", err)
		return c, nil
	}

	c.LatestVersion = info.Version
	if !version.IsNewer(info.Version, current) {
		c.Message = fmt.Sprintf("no update available: %s is up to date (latest %s)", current, info.Version)
		return c, nil
	}

	c.Available = true
	c.Release = info
	c.Breaking = version.IsBreakingChange(current, info.Version)
	c.Message = fmt.Sprintf("update available: %s -> %s", current, info.Version)
	if c.Breaking {
		c.Message += " (breaking change)"
	}
	return c, nil
}

func (u *Updater) installedVersion() (string, error) {
	m, err := manifest.Load(u.d.Fs, u.d.Resolver.ManifestPath(u.packageID))
	if err != nil {
		if !u.installed() {
			return "", fmt.Errorf("%w: %s", ErrNotInstalled, u.packageID)
		}
		return "", fmt.Errorf("read installed manifest: %w", err)
	}
	return m.Version, nil
}

func (u *Updater) installed() bool {
	ok, _ := afero.DirExists(u.d.Fs, u.d.Resolver.PackageDir(u.packageID))
	return ok
}

// RollbackResult is the outcome of restoring a backup onto the live package
type RollbackResult struct {
	BackupID        string   `json:"backupId"`
	Version         string   `json:"version"`
	RestoredPackage bool     `json:"restoredPackage"`
	Warnings        []string `json:"warnings"`
}

// Rollback restores the live package files and settings from a backup. The
// backup must be intact; a version difference from the installed package is
// expected and only reported as a warning.
func (u *Updater) Rollback(ctx context.Context, backupID string) (*RollbackResult, error) {
	ctx, release, err := u.d.Locks.Acquire(ctx, u.packageID)
	if err != nil {
		return nil, err
	}
	defer release()
	return u.rollback(ctx, backupID)
}

func (u *Updater) rollback(ctx context.Context, backupID string) (*RollbackResult, error) {
	rr, err := u.d.Backups.Restore(ctx, backupID, backup.RestoreOptions{AllowVersionMismatch: true, Overwrite: true})
	if err != nil {
		return nil, fmt.Errorf("restore backup %s: %w", backupID, err)
	}
	if !rr.Success {
		return nil, fmt.Errorf("restore backup %s: %s", backupID, rr.Error)
	}

	res := &RollbackResult{BackupID: backupID, Version: rr.Version, Warnings: rr.Warnings}
	if rr.Package != nil && len(rr.Package.Files) > 0 {
		if err := u.restorePackage(ctx, rr.Package); err != nil {
			return nil, err
		}
		res.RestoredPackage = true
	}

	if u.d.Store != nil {
		applied, err := u.d.Store.ApplyRestoredData(ctx, u.packageID, rr.Settings, rr.Customizations, core.ApplyOptions{
			Overwrite: true,
			Reason:    "rollback to " + backupID,
		})
		if err != nil {
			return nil, fmt.Errorf("apply restored settings: %w", err)
		}
		res.Warnings = append(res.Warnings, applied.Warnings...)
	}

	if u.logger != nil {
		u.logger.Info().
			Str("package", u.packageID).
			Str("backup_id", backupID).
			Str("version", res.Version).
			Bool("restored_package", res.RestoredPackage).
			Msg("rolled back to backup")
	}
	return res, nil
}

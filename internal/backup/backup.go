// Package backup creates, lists, restores and transfers checksum-verified
// snapshots of a theme package's settings and customizations.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/lock"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when a backup id does not exist for the package
	ErrNotFound = errors.New("backup not found")
	// ErrPackageMismatch is returned when a backup belongs to another package
	ErrPackageMismatch = errors.New("backup belongs to a different package")
	// ErrInvalidRecord is returned when a serialized backup fails schema validation
	ErrInvalidRecord = errors.New("invalid backup record")
)

// DefaultRetention is how many backups are kept per package
const DefaultRetention = 10

const fileExt = ".json"

// Options configures a Manager
type Options struct {
	Retention       int
	Platform        string
	PlatformVersion string
	// Store provides the active settings a restore merges onto or keeps secrets from
	Store core.SettingsStore
	// Locks serializes backup work with updates of the same package
	Locks *lock.Registry
	// Now is the clock used for ids and timestamps
	Now func() time.Time
}

// Manager manages the backups of one package
type Manager struct {
	fs        afero.Fs
	resolver  *paths.Resolver
	packageID string
	opts      Options
	logger    *zerolog.Logger
}

// New creates a manager for packageID configured from cfg
func New(fs afero.Fs, cfg *config.Config, packageID string, store core.SettingsStore, locks *lock.Registry, logger *zerolog.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	return NewWithDeps(fs, paths.NewResolver(cfg), packageID, Options{
		Retention:       cfg.Backup.Retention,
		Platform:        cfg.Platform.Name,
		PlatformVersion: cfg.Platform.Version,
		Store:           store,
		Locks:           locks,
	}, logger)
}

// NewWithDeps creates a manager with explicit dependencies (useful for tests)
func NewWithDeps(fs afero.Fs, resolver *paths.Resolver, packageID string, opts Options, logger *zerolog.Logger) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewRegistry()
	}
	return &Manager{
		fs:        fs,
		resolver:  resolver,
		packageID: packageID,
		opts:      opts,
		logger:    logger,
	}
}

// PackageID returns the package this manager is bound to
func (m *Manager) PackageID() string {
	return m.packageID
}

func (m *Manager) dir() string {
	return m.resolver.BackupDir(m.packageID)
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir(), id+fileExt)
}

func (m *Manager) lock(ctx context.Context) (context.Context, func(), error) {
	if err := security.ValidatePackageID(m.packageID); err != nil {
		return ctx, nil, err
	}
	return m.opts.Locks.Acquire(ctx, m.packageID)
}

// CreateOptions selects what goes into a new backup. Customizations are
// included unless explicitly excluded.
type CreateOptions struct {
	Name             string
	Description      string
	CreatedBy        string
	ExcludeTemplates bool
	ExcludeSections  bool
	ExcludeStyles    bool
	// IncludePackage adds a snapshot of every file of the live package
	IncludePackage bool
	// Version overrides the version read from the live manifest
	Version string
}

// Create snapshots settings and customizations, persists the record and then
// evicts the oldest backups beyond the retention limit.
func (m *Manager) Create(ctx context.Context, settings core.Settings, customizations *core.Customizations, opts CreateOptions) (*Backup, error) {
	ctx, release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ver := opts.Version
	if ver == "" {
		man, err := manifest.Load(m.fs, m.resolver.ManifestPath(m.packageID))
		if err != nil {
			return nil, fmt.Errorf("read installed version: %w", err)
		}
		ver = man.Version
	}

	clean, err := normalizeSettings(core.StripSecrets(settings))
	if err != nil {
		return nil, err
	}

	now := m.opts.Now().UTC()
	name := security.SanitizeName(opts.Name)
	if name == "" {
		name = fmt.Sprintf("Backup %s", now.Format("2006-01-02 15:04:05"))
	}

	b := &Backup{
		ID:             m.newID(now),
		PackageID:      m.packageID,
		Version:        ver,
		CreatedAt:      now,
		Name:           name,
		Description:    opts.Description,
		Settings:       clean,
		Customizations: selectCustomizations(customizations, opts),
		Metadata: Metadata{
			Platform:        m.opts.Platform,
			PlatformVersion: m.opts.PlatformVersion,
			CreatedBy:       opts.CreatedBy,
		},
	}

	if opts.IncludePackage {
		files, err := fsops.ReadTree(m.fs, m.resolver.PackageDir(m.packageID))
		if err != nil {
			return nil, fmt.Errorf("snapshot package: %w", err)
		}
		b.Package = &core.PackageSnapshot{Files: files}
	}

	if err := seal(b); err != nil {
		return nil, err
	}
	if err := m.write(b); err != nil {
		return nil, err
	}

	if m.logger != nil {
		m.logger.Info().
			Str("package", m.packageID).
			Str("backup_id", b.ID).
			Str("version", b.Version).
			Bool("with_package", b.Package != nil).
			Msg("backup created")
	}

	if err := m.enforceRetention(ctx); err != nil && m.logger != nil {
		m.logger.Warn().Err(err).Str("package", m.packageID).Msg("failed to evict old backups")
	}
	return b, nil
}

func selectCustomizations(c *core.Customizations, opts CreateOptions) *core.Customizations {
	if c.IsEmpty() {
		return nil
	}
	out := &core.Customizations{}
	if !opts.ExcludeTemplates {
		out.Templates = c.Templates
	}
	if !opts.ExcludeSections {
		out.Sections = c.Sections
	}
	if !opts.ExcludeStyles {
		out.Styles = c.Styles
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

func (m *Manager) newID(now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", m.packageID, now.UnixMilli(), uuid.NewString()[:8])
}

func (m *Manager) write(b *Backup) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	if err := fsops.EnsureDir(m.fs, m.dir(), 0755); err != nil {
		return err
	}

	tmp := m.path(b.ID) + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path(b.ID)); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("commit backup: %w", err)
	}
	return nil
}

// enforceRetention deletes the oldest backups beyond the retention limit
func (m *Manager) enforceRetention(ctx context.Context) error {
	items, err := m.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, item := range items[min(len(items), m.opts.Retention):] {
		if err := m.fs.Remove(m.path(item.ID)); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", item.ID, err))
			continue
		}
		if m.logger != nil {
			m.logger.Debug().Str("package", m.packageID).Str("backup_id", item.ID).Msg("evicted backup")
		}
	}
	return errors.Join(errs...)
}

// ListItem summarizes one stored backup
type ListItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	Size        int64     `json:"size"`
	HasPackage  bool      `json:"hasPackage"`
}

// List returns the package's backups, newest first. Unreadable records are
// skipped with a warning.
func (m *Manager) List(ctx context.Context) ([]ListItem, error) {
	items := []ListItem{}

	infos, err := afero.ReadDir(m.fs, m.dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return items, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), fileExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := m.read(strings.TrimSuffix(info.Name(), fileExt))
		if err != nil {
			if m.logger != nil {
				m.logger.Warn().Err(err).Str("file", info.Name()).Msg("skipping unreadable backup")
			}
			continue
		}
		items = append(items, ListItem{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Version:     b.Version,
			CreatedAt:   b.CreatedAt,
			Size:        info.Size(),
			HasPackage:  b.Package != nil,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (m *Manager) read(id string) (*Backup, error) {
	if err := security.ValidateBackupID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	data, err := afero.ReadFile(m.fs, m.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read backup %s: %w", id, err)
	}
	return Decode(data)
}

// Get loads one backup record without any integrity check
func (m *Manager) Get(ctx context.Context, id string) (*Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.read(id)
}

// RestoreOptions controls integrity and compatibility checks on restore
type RestoreOptions struct {
	// SkipChecksum disables checksum validation entirely
	SkipChecksum bool
	// SkipIncompatible continues past checksum and version failures
	SkipIncompatible bool
	// AllowVersionMismatch continues past version failures only
	AllowVersionMismatch bool
	// MergeSettings deep-merges the backup onto the active settings
	MergeSettings bool
	// Overwrite replaces the active settings; it wins over MergeSettings
	Overwrite bool
}

// RestoreResult is the prepared payload of a restore. Applying it to the live
// system is up to the caller.
type RestoreResult struct {
	Success        bool                  `json:"success"`
	BackupID       string                `json:"backupId"`
	Version        string                `json:"version,omitempty"`
	Settings       core.Settings         `json:"settings,omitempty"`
	Customizations *core.Customizations  `json:"customizations,omitempty"`
	Package        *core.PackageSnapshot `json:"-"`
	Warnings       []string              `json:"warnings"`
	Error          string                `json:"error,omitempty"`
}

// Restore loads, verifies and prepares a backup for application. Integrity and
// compatibility failures produce an unsuccessful result rather than an error;
// errors are reserved for missing backups and I/O failures.
func (m *Manager) Restore(ctx context.Context, id string, opts RestoreOptions) (*RestoreResult, error) {
	ctx, release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := m.read(id)
	if err != nil {
		return nil, err
	}

	res := &RestoreResult{BackupID: id, Version: b.Version, Warnings: []string{}}
	fail := func(msg string) (*RestoreResult, error) {
		res.Error = msg
		if m.logger != nil {
			m.logger.Warn().Str("package", m.packageID).Str("backup_id", id).Msg(msg)
		}
		return res, nil
	}

	if b.PackageID != m.packageID {
		return fail(fmt.Sprintf("%v: backup is for %s, not %s", ErrPackageMismatch, b.PackageID, m.packageID))
	}

	if !opts.SkipChecksum && !VerifyChecksum(b) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("backup %s is corrupted: checksum mismatch", id))
		if !opts.SkipIncompatible {
			return fail("refusing to restore a corrupted backup")
		}
	}

	current := m.installedVersion()
	if c := version.CheckBackupCompatibility(b.Version, current); !c.Compatible {
		res.Warnings = append(res.Warnings, c.Reason)
		if !opts.SkipIncompatible && !opts.AllowVersionMismatch {
			return fail("refusing to restore an incompatible backup")
		}
	}

	active, err := m.activeSettings(ctx)
	if err != nil {
		return nil, err
	}
	var settings core.Settings
	if opts.MergeSettings && !opts.Overwrite {
		settings = core.MergeSettings(active, b.Settings)
	} else {
		settings = core.KeepSecrets(b.Settings, active)
	}

	res.Success = true
	res.Settings = settings
	res.Customizations = b.Customizations
	res.Package = b.Package
	if m.logger != nil {
		m.logger.Info().Str("package", m.packageID).Str("backup_id", id).Msg("backup prepared for restore")
	}
	return res, nil
}

func (m *Manager) installedVersion() string {
	man, err := manifest.Load(m.fs, m.resolver.ManifestPath(m.packageID))
	if err != nil {
		return ""
	}
	return man.Version
}

func (m *Manager) activeSettings(ctx context.Context) (core.Settings, error) {
	if m.opts.Store == nil {
		return core.Settings{}, nil
	}
	s, err := m.opts.Store.LoadSettings(ctx, m.packageID)
	if err != nil {
		return nil, fmt.Errorf("load active settings: %w", err)
	}
	return s, nil
}

// Delete removes a backup. It reports false when the backup does not exist.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	_, release, err := m.lock(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := security.ValidateBackupID(id); err != nil {
		return false, nil
	}
	if !fsops.Exists(m.fs, m.path(id)) {
		return false, nil
	}
	if err := m.fs.Remove(m.path(id)); err != nil {
		return false, fmt.Errorf("delete backup %s: %w", id, err)
	}
	if m.logger != nil {
		m.logger.Info().Str("package", m.packageID).Str("backup_id", id).Msg("backup deleted")
	}
	return true, nil
}

// Export returns the serialized backup record
func (m *Manager) Export(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := security.ValidateBackupID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	data, err := afero.ReadFile(m.fs, m.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("export backup %s: %w", id, err)
	}
	return data, nil
}

// ImportOptions controls how an external backup is stored
type ImportOptions struct {
	// NewID stores the backup under a freshly generated id
	NewID bool
}

// ImportResult is the outcome of an import
type ImportResult struct {
	Success  bool   `json:"success"`
	BackupID string `json:"backupId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Import validates and stores an externally supplied backup. Backups recorded
// for another package are rejected without writing anything. The incoming
// checksum is trusted as-is; when the record has to be re-keyed it is only
// re-sealed if its original checksum verified, so a corrupted record stays
// detectably corrupted.
func (m *Manager) Import(ctx context.Context, data []byte, opts ImportOptions) (*ImportResult, error) {
	ctx, release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := Decode(data)
	if err != nil {
		return &ImportResult{Error: err.Error()}, nil
	}
	if b.PackageID != m.packageID {
		return &ImportResult{
			Error: fmt.Sprintf("%v: backup is for %s, not %s", ErrPackageMismatch, b.PackageID, m.packageID),
		}, nil
	}

	rekey := opts.NewID || security.ValidateBackupID(b.ID) != nil || fsops.Exists(m.fs, m.path(b.ID))
	if rekey {
		intact := VerifyChecksum(b)
		b.ID = m.newID(m.opts.Now().UTC())
		if intact {
			if err := seal(b); err != nil {
				return nil, err
			}
		}
		if err := m.write(b); err != nil {
			return nil, err
		}
	} else {
		if err := fsops.EnsureDir(m.fs, m.dir(), 0755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(m.fs, m.path(b.ID), data, 0600); err != nil {
			return nil, fmt.Errorf("write imported backup: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info().Str("package", m.packageID).Str("backup_id", b.ID).Bool("rekeyed", rekey).Msg("backup imported")
	}
	return &ImportResult{Success: true, BackupID: b.ID}, nil
}

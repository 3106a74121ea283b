package updater

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantmind-br/themepkg/internal/backup"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/db"
	"github.com/quantmind-br/themepkg/internal/deps"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/transaction"
	"github.com/quantmind-br/themepkg/internal/validator"
)

// Options are the per-session switches of Update
type Options struct {
	// DryRun runs every check against the candidate but never applies it
	DryRun bool
	// NoBackup skips the pre-update backup even when the policy asks for one
	NoBackup bool
	// NoMigrate skips settings migration on breaking updates
	NoMigrate bool
}

// Result is the outcome of an update session
type Result struct {
	SessionID    string            `json:"sessionId"`
	PackageID    string            `json:"packageId"`
	State        State             `json:"state"`
	Success      bool              `json:"success"`
	DryRun       bool              `json:"dryRun"`
	Available    bool              `json:"available"`
	FromVersion  string            `json:"fromVersion"`
	ToVersion    string            `json:"toVersion,omitempty"`
	BackupID     string            `json:"backupId,omitempty"`
	Message      string            `json:"message"`
	Error        string            `json:"error,omitempty"`
	Warnings     []string          `json:"warnings"`
	Transitions  []State           `json:"transitions"`
	Validation   *validator.Result `json:"validation,omitempty"`
	Security     *security.Result  `json:"security,omitempty"`
	Dependencies *deps.Result      `json:"dependencies,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	Check        *Check            `json:"-"`
	Rollback     *RollbackResult   `json:"rollback,omitempty"`
}

// session is the mutable state of one Update call
type session struct {
	u       *Updater
	res     *Result
	scratch []string
}

// Update runs one update session. It always returns a non-nil Result; the
// error is set when the session failed or could not start.
func (u *Updater) Update(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{
		SessionID:   uuid.NewString(),
		PackageID:   u.packageID,
		State:       StateIdle,
		DryRun:      opts.DryRun,
		Warnings:    []string{},
		Transitions: []State{StateIdle},
		StartedAt:   u.d.Now(),
	}

	ctx, release, err := u.d.Locks.TryAcquire(ctx, u.packageID)
	if err != nil {
		res.Error = err.Error()
		res.Message = fmt.Sprintf("another operation is already running for %s", u.packageID)
		res.FinishedAt = u.d.Now()
		return res, err
	}
	defer release()

	s := &session{u: u, res: res}
	return s.run(ctx, opts)
}

func (s *session) run(ctx context.Context, opts Options) (*Result, error) {
	u, res := s.u, s.res

	s.transition(StateCheckingForUpdate)
	check, err := u.CheckForUpdate(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	res.Check = check
	res.FromVersion = check.CurrentVersion
	res.ToVersion = check.LatestVersion
	if !check.Available {
		s.transition(StateIdle)
		res.Success = true
		res.Message = check.Message
		return s.finish(ctx, nil)
	}
	res.Available = true
	target := check.LatestVersion

	if u.policy.CreateBackup && !opts.NoBackup {
		s.transition(StateBackingUp)
		id, err := s.backup(ctx, target)
		if err != nil {
			return s.fail(ctx, fmt.Errorf("create backup: %w", err))
		}
		res.BackupID = id
	}

	s.transition(StateDownloading)
	dl, err := u.d.Fetcher.Fetch(ctx, check.Release)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.scratch = append(s.scratch, dl.Dir)

	failures, err := s.checkCandidate(ctx, dl.Root, !opts.DryRun)
	if opts.DryRun {
		if err != nil {
			failures = append(failures, err.Error())
		}
		return s.completeDryRun(ctx, failures)
	}
	if err != nil {
		return s.fail(ctx, err)
	}
	if len(failures) > 0 {
		return s.fail(ctx, fmt.Errorf("%w: %s", ErrCandidateRejected, strings.Join(failures, "; ")))
	}

	s.transition(StateApplying)
	if err := s.apply(ctx, dl.Root, target); err != nil {
		return s.fail(ctx, err)
	}

	if check.Breaking && u.policy.AutoMigrate && !opts.NoMigrate {
		s.transition(StateMigrating)
		if err := s.migrate(ctx, check.CurrentVersion, target); err != nil {
			if u.policy.MigrationFailure != MigrationFailureWarn {
				return s.fail(ctx, err)
			}
			s.warn("settings were not migrated: %v", err)
		}
	}

	s.cleanup()
	s.transition(StateSucceeded)
	res.Success = true
	res.Message = fmt.Sprintf("updated %s from %s to %s", u.packageID, res.FromVersion, target)
	return s.finish(ctx, nil)
}

func (s *session) transition(to State) {
	from := s.res.State
	s.res.State = to
	s.res.Transitions = append(s.res.Transitions, to)
	if l := s.u.logger; l != nil {
		l.Debug().
			Str("package", s.u.packageID).
			Str("session_id", s.res.SessionID).
			Str("from_state", string(from)).
			Str("to_state", string(to)).
			Msg("update state changed")
	}
}

func (s *session) warn(format string, args ...interface{}) {
	s.res.Warnings = append(s.res.Warnings, fmt.Sprintf(format, args...))
}

// backup snapshots the live settings, customizations and package files
func (s *session) backup(ctx context.Context, target string) (string, error) {
	u := s.u
	settings := core.Settings{}
	var custom *core.Customizations
	if u.d.Store != nil {
		var err error
		if settings, err = u.d.Store.LoadSettings(ctx, u.packageID); err != nil {
			return "", fmt.Errorf("load settings: %w", err)
		}
		if cl, ok := u.d.Store.(customizationsLoader); ok {
			if custom, err = cl.LoadCustomizations(ctx, u.packageID); err != nil {
				return "", fmt.Errorf("load customizations: %w", err)
			}
		}
	}

	b, err := u.d.Backups.Create(ctx, settings, custom, backup.CreateOptions{
		Name:           fmt.Sprintf("Before update to %s", target),
		Description:    fmt.Sprintf("Automatic backup taken by update session %s", s.res.SessionID),
		CreatedBy:      "updater",
		IncludePackage: true,
	})
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

// checkCandidate validates, scans and resolves the downloaded candidate. It
// returns the hard failures found; when stopEarly is set it returns after the
// first check that fails. The error is reserved for checks that could not run.
func (s *session) checkCandidate(ctx context.Context, root string, stopEarly bool) ([]string, error) {
	u, res := s.u, s.res
	var failures []string

	s.transition(StateValidating)
	vr, err := u.d.Validator.ValidateDir(ctx, root)
	if err != nil {
		return failures, fmt.Errorf("validate candidate: %w", err)
	}
	res.Validation = vr
	for _, issue := range vr.Errors {
		failures = append(failures, "validation: "+issue.String())
	}
	if vr.Manifest != nil && vr.Manifest.ID != u.packageID {
		failures = append(failures, fmt.Sprintf("validation: candidate is package %q, not %q", vr.Manifest.ID, u.packageID))
	}
	if stopEarly && len(failures) > 0 {
		return failures, nil
	}

	s.transition(StateScanningSecurity)
	sr, err := u.d.Scanner.ScanDir(ctx, root)
	if err != nil {
		return failures, fmt.Errorf("scan candidate: %w", err)
	}
	res.Security = sr
	if !sr.Safe {
		counts := sr.CountBySeverity()
		failures = append(failures, fmt.Sprintf("security: %d critical and %d high severity threats (risk %s)",
			counts[core.SeverityCritical], counts[core.SeverityHigh], sr.RiskLevel))
		if stopEarly {
			return failures, nil
		}
	}

	s.transition(StateResolvingDependencies)
	if vr.Manifest == nil {
		s.warn("dependencies not resolved: candidate manifest is unreadable")
		return failures, nil
	}
	dr := deps.New(u.d.Catalog, vr.Manifest.Dependencies, vr.Manifest.PeerDependencies, u.logger).Check()
	res.Dependencies = dr
	for _, w := range dr.Warnings {
		s.warn("%s", w)
	}
	if !dr.Satisfied {
		failures = append(failures, fmt.Sprintf("dependencies: %d missing, %d incompatible, %d blocked",
			len(dr.Missing), len(dr.Incompatible), len(dr.Blocked)))
	}
	return failures, nil
}

func (s *session) completeDryRun(ctx context.Context, failures []string) (*Result, error) {
	res := s.res
	s.warn("dry run: no changes were applied to %s", s.u.packageID)
	s.cleanup()
	s.transition(StateDryRunCompleted)

	res.Success = len(failures) == 0
	if res.Success {
		res.Message = fmt.Sprintf("dry run: %s %s passed every check", s.u.packageID, res.ToVersion)
	} else {
		res.Error = strings.Join(failures, "; ")
		res.Message = fmt.Sprintf("dry run: %s %s failed %d check(s): %s", s.u.packageID, res.ToVersion, len(failures), res.Error)
	}
	return s.finish(ctx, nil)
}

// apply swaps the candidate into the live package directory behind a shadow
// copy of the current contents. Any failure restores the shadow copy before
// returning.
func (s *session) apply(ctx context.Context, candidate, target string) error {
	u := s.u
	live := u.d.Resolver.PackageDir(u.packageID)

	scratch, err := fsops.CreateTempDir(u.d.Fs, u.d.Resolver.TempDir(), "shadow-")
	if err != nil {
		return fmt.Errorf("create shadow directory: %w", err)
	}
	s.scratch = append(s.scratch, scratch)

	shadow := filepath.Join(scratch, "package")
	if err := fsops.CopyDir(ctx, u.d.Fs, live, shadow); err != nil {
		return fmt.Errorf("shadow copy: %w", err)
	}

	tx := transaction.NewManager(u.logger)
	tx.Add("restore shadow copy", func(ctx context.Context) error {
		return fsops.ReplaceDir(ctx, u.d.Fs, shadow, live)
	})

	if err := s.swap(ctx, candidate, live, target); err != nil {
		if u.logger != nil {
			u.logger.Warn().Err(err).Strs("compensations", tx.Names()).Msg("apply failed, undoing")
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		s.warn("live package restored from shadow copy after failed apply")
		return err
	}
	tx.Commit()
	return nil
}

func (s *session) swap(ctx context.Context, candidate, live, target string) error {
	fs := s.u.d.Fs
	if err := fsops.ReplaceDir(ctx, fs, candidate, live); err != nil {
		return fmt.Errorf("copy candidate: %w", err)
	}
	m, err := manifest.Load(fs, filepath.Join(live, paths.ManifestFile))
	if err != nil {
		return fmt.Errorf("read applied manifest: %w", err)
	}
	if m.Version != target {
		return fmt.Errorf("%w: expected %s, found %s", ErrVersionMismatch, target, m.Version)
	}
	return nil
}

// migrate runs the settings migration chain and writes the result back
func (s *session) migrate(ctx context.Context, from, to string) error {
	u := s.u
	if u.d.Store == nil {
		s.warn("settings were not migrated: no settings store")
		return nil
	}

	settings, err := u.d.Store.LoadSettings(ctx, u.packageID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	migrated, err := u.d.Migrations.Migrate(from, to, settings)
	if err != nil {
		return err
	}
	applied, err := u.d.Store.ApplyRestoredData(ctx, u.packageID, migrated, nil, core.ApplyOptions{
		Overwrite: true,
		Reason:    fmt.Sprintf("migration %s -> %s", from, to),
	})
	if err != nil {
		return fmt.Errorf("apply migrated settings: %w", err)
	}
	s.res.Warnings = append(s.res.Warnings, applied.Warnings...)
	return nil
}

// fail converts an error into a terminal outcome: a rollback to the session
// backup when one was taken, otherwise a failure without rollback.
func (s *session) fail(ctx context.Context, cause error) (*Result, error) {
	u, res := s.u, s.res
	res.Error = cause.Error()
	res.Success = false

	if res.BackupID == "" {
		s.cleanup()
		s.transition(StateFailedNoRollback)
		res.Message = fmt.Sprintf("update of %s failed and no backup was taken; manual recovery may be required: %v", u.packageID, cause)
		return s.finish(ctx, fmt.Errorf("%w: %w", ErrNoRollback, cause))
	}

	rb, rbErr := u.rollback(context.WithoutCancel(ctx), res.BackupID)
	s.cleanup()
	if rbErr != nil {
		s.transition(StateFailedNoRollback)
		res.Message = fmt.Sprintf("update of %s failed and rollback to backup %s also failed; manual recovery may be required: %v (rollback: %v)",
			u.packageID, res.BackupID, cause, rbErr)
		return s.finish(ctx, fmt.Errorf("%w: %w (rollback: %v)", ErrNoRollback, cause, rbErr))
	}

	res.Rollback = rb
	res.Warnings = append(res.Warnings, rb.Warnings...)
	s.transition(StateRolledBack)
	res.Message = fmt.Sprintf("update of %s to %s failed and was rolled back to %s from backup %s: %v",
		u.packageID, res.ToVersion, rb.Version, res.BackupID, cause)
	return s.finish(ctx, fmt.Errorf("%w: %w", ErrRolledBack, cause))
}

// cleanup removes every temporary directory of the session. Failures are
// logged and never change the outcome.
func (s *session) cleanup() {
	s.transition(StateCleaningUp)
	for _, dir := range s.scratch {
		if err := s.u.d.Fs.RemoveAll(dir); err != nil && s.u.logger != nil {
			s.u.logger.Warn().Err(err).Str("path", dir).Msg("failed to remove temporary directory")
		}
	}
	s.scratch = nil
}

func (s *session) finish(ctx context.Context, err error) (*Result, error) {
	u, res := s.u, s.res
	res.FinishedAt = u.d.Now()

	if l := u.logger; l != nil {
		ev := l.Info()
		if err != nil {
			ev = l.Error().Err(err)
		}
		ev.Str("package", u.packageID).
			Str("session_id", res.SessionID).
			Str("state", string(res.State)).
			Str("from", res.FromVersion).
			Str("to", res.ToVersion).
			Msg(res.Message)
	}

	if u.d.History != nil {
		rec := &db.UpdateRecord{
			SessionID:   res.SessionID,
			PackageID:   res.PackageID,
			FromVersion: res.FromVersion,
			ToVersion:   res.ToVersion,
			State:       string(res.State),
			Success:     res.Success,
			DryRun:      res.DryRun,
			BackupID:    res.BackupID,
			Message:     res.Message,
			Warnings:    res.Warnings,
			StartedAt:   res.StartedAt,
			FinishedAt:  res.FinishedAt,
		}
		if herr := u.d.History.RecordUpdate(context.WithoutCancel(ctx), rec); herr != nil && u.logger != nil {
			u.logger.Warn().Err(herr).Str("session_id", res.SessionID).Msg("failed to record update history")
		}
	}
	return res, err
}

// restorePackage replaces the live package directory with a snapshot. The
// snapshot is staged first so a failed write leaves the live directory alone.
func (u *Updater) restorePackage(ctx context.Context, snap *core.PackageSnapshot) error {
	staging, err := fsops.CreateTempDir(u.d.Fs, u.d.Resolver.TempDir(), "restore-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := u.d.Fs.RemoveAll(staging); err != nil && u.logger != nil {
			u.logger.Warn().Err(err).Str("path", staging).Msg("failed to remove staging directory")
		}
	}()

	if err := fsops.WriteTree(u.d.Fs, staging, snap.Files); err != nil {
		return fmt.Errorf("stage package snapshot: %w", err)
	}
	if err := fsops.ReplaceDir(ctx, u.d.Fs, staging, u.d.Resolver.PackageDir(u.packageID)); err != nil {
		return fmt.Errorf("restore package files: %w", err)
	}
	return nil
}

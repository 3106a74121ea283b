// Package db is the sqlite-backed settings store: the live settings and
// customizations of each installed theme plus the history of update sessions.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/themepkg/internal/core"
	_ "modernc.org/sqlite"
)

// DB represents the database with separate read/write pools
type DB struct {
	write *sql.DB
	read  *sql.DB
	path  string
}

var _ core.SettingsStore = (*DB)(nil)

// New creates a new database instance with separate read/write pools
func New(ctx context.Context, dbPath string) (*DB, error) {
	// Connection string with pragmas
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)

	// Write pool: MUST be 1 connection only
	write, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)
	write.SetConnMaxIdleTime(time.Minute)
	write.SetConnMaxLifetime(time.Hour)

	read, err := sql.Open("sqlite", connStr)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	read.SetMaxOpenConns(10)
	read.SetMaxIdleConns(5)
	read.SetConnMaxIdleTime(time.Minute)
	read.SetConnMaxLifetime(time.Hour)

	db := &DB{
		write: write,
		read:  read,
		path:  dbPath,
	}

	if err := db.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes both database connections
func (db *DB) Close() error {
	writeErr := db.write.Close()
	readErr := db.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Ping checks that the database answers queries
func (db *DB) Ping(ctx context.Context) error {
	return db.read.PingContext(ctx)
}

// initSchema creates the schema if it doesn't exist
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS theme_settings (
    package_id TEXT PRIMARY KEY,
    settings TEXT NOT NULL DEFAULT '{}',
    customizations TEXT,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS update_history (
    session_id TEXT PRIMARY KEY,
    package_id TEXT NOT NULL,
    from_version TEXT NOT NULL,
    to_version TEXT,
    state TEXT NOT NULL,
    success INTEGER NOT NULL,
    dry_run INTEGER NOT NULL DEFAULT 0,
    backup_id TEXT,
    message TEXT NOT NULL,
    warnings TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_update_history_package ON update_history(package_id, finished_at);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
	`

	_, err := db.write.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// LoadSettings returns the live settings of a package, empty when none are stored
func (db *DB) LoadSettings(ctx context.Context, packageID string) (core.Settings, error) {
	var raw string
	err := db.read.QueryRowContext(ctx,
		"SELECT settings FROM theme_settings WHERE package_id = ?", packageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	settings := core.Settings{}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return settings, nil
}

// LoadCustomizations returns the stored customizations of a package, nil when none
func (db *DB) LoadCustomizations(ctx context.Context, packageID string) (*core.Customizations, error) {
	var raw sql.NullString
	err := db.read.QueryRowContext(ctx,
		"SELECT customizations FROM theme_settings WHERE package_id = ?", packageID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customizations: %w", err)
	}

	var c core.Customizations
	if err := json.Unmarshal([]byte(raw.String), &c); err != nil {
		return nil, fmt.Errorf("unmarshal customizations: %w", err)
	}
	return &c, nil
}

// SaveSettings replaces the live settings of a package
func (db *DB) SaveSettings(ctx context.Context, packageID string, settings core.Settings) error {
	_, err := db.ApplyRestoredData(ctx, packageID, settings, nil, core.ApplyOptions{Overwrite: true})
	return err
}

// ApplyRestoredData writes restored or migrated data back to the live store.
// Settings are deep-merged onto the stored ones when MergeSettings is set and
// Overwrite is not; customizations, when given, replace the stored ones.
func (db *DB) ApplyRestoredData(ctx context.Context, packageID string, settings core.Settings, customizations *core.Customizations, opts core.ApplyOptions) (*core.ApplyResult, error) {
	res := &core.ApplyResult{Warnings: []string{}}

	if settings == nil {
		settings = core.Settings{}
	}
	if opts.MergeSettings && !opts.Overwrite {
		current, err := db.LoadSettings(ctx, packageID)
		if err != nil {
			return nil, err
		}
		settings = core.MergeSettings(current, settings)
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	now := time.Now().UTC()
	if customizations == nil {
		_, err = db.write.ExecContext(ctx, `
INSERT INTO theme_settings (package_id, settings, updated_at) VALUES (?, ?, ?)
ON CONFLICT(package_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at
	`, packageID, string(settingsJSON), now)
	} else {
		var customJSON []byte
		customJSON, err = json.Marshal(customizations)
		if err != nil {
			return nil, fmt.Errorf("marshal customizations: %w", err)
		}
		_, err = db.write.ExecContext(ctx, `
INSERT INTO theme_settings (package_id, settings, customizations, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(package_id) DO UPDATE SET settings = excluded.settings, customizations = excluded.customizations, updated_at = excluded.updated_at
	`, packageID, string(settingsJSON), string(customJSON), now)
	}
	if err != nil {
		return nil, fmt.Errorf("write settings: %w", err)
	}

	if len(settings) == 0 {
		res.Warnings = append(res.Warnings, "applied settings are empty")
	}
	res.Success = true
	return res, nil
}

// UpdateRecord is the persisted summary of one update session
type UpdateRecord struct {
	SessionID   string    `json:"sessionId"`
	PackageID   string    `json:"packageId"`
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion,omitempty"`
	State       string    `json:"state"`
	Success     bool      `json:"success"`
	DryRun      bool      `json:"dryRun"`
	BackupID    string    `json:"backupId,omitempty"`
	Message     string    `json:"message"`
	Warnings    []string  `json:"warnings,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// RecordUpdate stores the outcome of an update session
func (db *DB) RecordUpdate(ctx context.Context, rec *UpdateRecord) error {
	warningsJSON, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	query := `
INSERT INTO update_history (session_id, package_id, from_version, to_version, state, success, dry_run, backup_id, message, warnings, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.write.ExecContext(ctx, query,
		rec.SessionID,
		rec.PackageID,
		rec.FromVersion,
		rec.ToVersion,
		rec.State,
		rec.Success,
		rec.DryRun,
		rec.BackupID,
		rec.Message,
		string(warningsJSON),
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert update record: %w", err)
	}

	return nil
}

// ListUpdates returns the update history of a package, newest first. A
// non-positive limit returns everything.
func (db *DB) ListUpdates(ctx context.Context, packageID string, limit int) ([]UpdateRecord, error) {
	query := `
SELECT session_id, package_id, from_version, to_version, state, success, dry_run, backup_id, message, warnings, started_at, finished_at
FROM update_history WHERE package_id = ? ORDER BY finished_at DESC, session_id DESC
	`
	args := []interface{}{packageID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query update history: %w", err)
	}
	defer rows.Close()

	records := []UpdateRecord{}
	for rows.Next() {
		var rec UpdateRecord
		var warningsJSON string

		err := rows.Scan(
			&rec.SessionID,
			&rec.PackageID,
			&rec.FromVersion,
			&rec.ToVersion,
			&rec.State,
			&rec.Success,
			&rec.DryRun,
			&rec.BackupID,
			&rec.Message,
			&warningsJSON,
			&rec.StartedAt,
			&rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan update record: %w", err)
		}

		if err := json.Unmarshal([]byte(warningsJSON), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

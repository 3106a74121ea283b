package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantmind-br/themepkg/internal/backup"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/db"
	"github.com/quantmind-br/themepkg/internal/lock"
	"github.com/quantmind-br/themepkg/internal/ui"
	"github.com/quantmind-br/themepkg/internal/updater"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// locks is shared by every command in the process so updater and backup
// operations on one package serialize.
var locks = lock.NewRegistry()

// openUpdater validates id and wires an updater backed by the settings store.
// The returned close function releases the database.
func openUpdater(ctx context.Context, cfg *config.Config, log *zerolog.Logger, id string) (*updater.Updater, *db.DB, func(), error) {
	if err := requireInstalled(cfg, id); err != nil {
		return nil, nil, nil, err
	}

	database, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}

	u, err := updater.New(packageFs, cfg, id, database, database, nil, locks, log)
	if err != nil {
		closeDB()
		return nil, nil, nil, withCode(core.ExitInvalidArgs, err)
	}
	return u, database, closeDB, nil
}

// NewCheckCmd creates the check command
func NewCheckCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <theme-id>",
		Short: "Check whether a newer version of a theme is available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, _, closeDB, err := openUpdater(cmd.Context(), cfg, log, args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			check, err := u.CheckForUpdate(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), check)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, check.Message)
			if check.Release != nil && check.Release.ReleaseNotes != "" {
				fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(check.Release.ReleaseNotes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

// NewUpdateCmd creates the update command
func NewUpdateCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		opts       updater.Options
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "update <theme-id>",
		Short: "Update a theme to the latest available version",
		Long: `Back up, download, validate, scan, resolve dependencies, apply and migrate a theme update.
Any failure after the backup rolls the theme back to the state it was in before the update.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			u, _, closeDB, err := openUpdater(ctx, cfg, log, id)
			if err != nil {
				return err
			}
			defer closeDB()

			if !jsonOutput {
				u.WithProgress(ui.DownloadProgress())
			}

			if !yes && !opts.DryRun && !jsonOutput {
				check, err := u.CheckForUpdate(ctx)
				if err != nil {
					return err
				}
				if check.Available && check.Breaking {
					ui.PrintWarning("%s", check.Message)
					confirmed, err := ui.ConfirmPrompt(fmt.Sprintf("Update %s to %s", id, check.LatestVersion))
					if err != nil {
						return err
					}
					if !confirmed {
						ui.PrintInfo("Update cancelled")
						return nil
					}
				}
			}

			res, err := u.Update(ctx, opts)
			if jsonOutput {
				if jsonErr := printJSON(cmd.OutOrStdout(), res); jsonErr != nil {
					return jsonErr
				}
			} else {
				printUpdate(cmd, res)
			}
			return updateError(res, err)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "run every check without applying the update")
	cmd.Flags().BoolVar(&opts.NoBackup, "no-backup", false, "skip the pre-update backup")
	cmd.Flags().BoolVar(&opts.NoMigrate, "no-migrate", false, "skip settings migration for breaking updates")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation on breaking updates")

	return cmd
}

// updateError maps a finished session onto the command's exit code
func updateError(res *updater.Result, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if res == nil {
		return withCode(core.ExitUpdateFailed, err)
	}

	switch res.State {
	case updater.StateRolledBack:
		return withCode(core.ExitRolledBack, err)
	case updater.StateFailedNoRollback:
		return withCode(core.ExitUpdateFailed, err)
	case updater.StateDryRunCompleted:
		if res.Success {
			return nil
		}
		code := core.ExitValidation
		if res.Security != nil && !res.Security.Safe {
			code = core.ExitUnsafe
		}
		return withCode(code, fmt.Errorf("dry run found problems: %s", res.Message))
	}
	if err != nil {
		return withCode(core.ExitUpdateFailed, err)
	}
	return nil
}

func printUpdate(cmd *cobra.Command, res *updater.Result) {
	if res == nil {
		return
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "%s: %s\n", res.PackageID, ui.ColorizeState(string(res.State)))
	if res.ToVersion != "" {
		fmt.Fprintf(out, "version: %s %s %s\n", res.FromVersion, ui.Arrow, res.ToVersion)
	}
	if res.BackupID != "" {
		fmt.Fprintf(out, "backup: %s\n", res.BackupID)
	}
	fmt.Fprintln(out, res.Message)
	if res.Error != "" {
		fmt.Fprintln(out, ui.SprintError("%s", res.Error))
	}

	if res.Validation != nil {
		printIssues(out, "Validation errors", res.Validation.Errors)
	}
	if res.Security != nil && len(res.Security.Threats) > 0 {
		printScan(cmd, res.PackageID, res.Security)
	}
	if res.Dependencies != nil && !res.Dependencies.Satisfied {
		printDeps(cmd, res.PackageID, res.Dependencies, nil)
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings")
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  %s %s\n", ui.Bullet, w)
		}
	}
}

// NewRollbackCmd creates the rollback command
func NewRollbackCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "rollback <theme-id> [backup-id]",
		Short: "Restore a theme's files and settings from a backup",
		Long: `Restore a theme from one of its backups. Without a backup id, pick one interactively.
Backups that carry a package snapshot restore the theme files too.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			u, database, closeDB, err := openUpdater(ctx, cfg, log, id)
			if err != nil {
				return err
			}
			defer closeDB()

			var backupID string
			if len(args) == 2 {
				backupID = args[1]
			} else {
				if jsonOutput {
					return withCode(core.ExitInvalidArgs, errors.New("a backup id is required with --json"))
				}
				backupID, err = selectBackup(ctx, backup.New(packageFs, cfg, id, database, locks, log))
				if err != nil {
					return err
				}
			}

			if !yes && !jsonOutput {
				confirmed, err := ui.ConfirmDangerousAction("roll back "+id, backupID)
				if err != nil {
					return err
				}
				if !confirmed {
					ui.PrintInfo("Rollback cancelled")
					return nil
				}
			}

			res, err := u.Rollback(ctx, backupID)
			if err != nil {
				return withCode(core.ExitUpdateFailed, err)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.SprintSuccess("%s rolled back to %s (%s)", id, res.BackupID, res.Version))
			for _, w := range res.Warnings {
				fmt.Fprintln(out, ui.SprintWarning("%s", w))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func selectBackup(ctx context.Context, m *backup.Manager) (string, error) {
	items, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", withCode(core.ExitInvalidArgs, fmt.Errorf("no backups found for %s", m.PackageID()))
	}

	options := make([]ui.SelectOption, len(items))
	for i, item := range items {
		detail := fmt.Sprintf("%s, %s", item.Version, item.CreatedAt.Local().Format("2006-01-02 15:04"))
		if item.HasPackage {
			detail += ", with files"
		}
		options[i] = ui.SelectOption{Label: item.Name, Detail: detail, Value: item.ID}
	}

	_, choice, err := ui.SelectPromptDetailed("Select a backup", options)
	if err != nil {
		return "", err
	}
	return choice.Value, nil
}

// NewHistoryCmd creates the history command
func NewHistoryCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history <theme-id>",
		Short: "Show past update sessions of a theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := requireInstalled(cfg, id); err != nil {
				return err
			}

			database, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			records, err := database.ListUpdates(cmd.Context(), id, limit)
			if err != nil {
				return withCode(core.ExitDatabase, err)
			}
			log.Debug().Str("package", id).Int("count", len(records)).Msg("loaded update history")

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "no updates recorded for %s\n", id)
				return nil
			}
			table := newTable(out, "Finished", "From", "To", "State", "Backup")
			for _, rec := range records {
				state := ui.ColorizeState(rec.State)
				if rec.DryRun {
					state += " (dry run)"
				}
				table.Append(rec.FinishedAt.Local().Format("2006-01-02 15:04:05"), rec.FromVersion, rec.ToVersion, state, rec.BackupID)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to show (0 for all)")

	return cmd
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/quantmind-br/themepkg/internal/backup"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/db"
	"github.com/quantmind-br/themepkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewBackupCmd creates the backup command group
func NewBackupCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage theme backups",
		Long:  `Create, list, restore, delete, export and import backups of a theme's settings, customizations and files.`,
	}

	cmd.AddCommand(newBackupCreateCmd(cfg, log))
	cmd.AddCommand(newBackupListCmd(cfg, log))
	cmd.AddCommand(newBackupRestoreCmd(cfg, log))
	cmd.AddCommand(newBackupDeleteCmd(cfg, log))
	cmd.AddCommand(newBackupExportCmd(cfg, log))
	cmd.AddCommand(newBackupImportCmd(cfg, log))

	return cmd
}

// withBackups opens the store and a backup manager for id, runs fn and
// closes the store.
func withBackups(ctx context.Context, cfg *config.Config, log *zerolog.Logger, id string, fn func(*backup.Manager, *db.DB) error) error {
	if err := requireInstalled(cfg, id); err != nil {
		return err
	}
	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(backup.New(packageFs, cfg, id, database, locks, log), database)
}

// backupError tags lookup failures as argument errors
func backupError(err error) error {
	if errors.Is(err, backup.ErrNotFound) {
		return withCode(core.ExitInvalidArgs, err)
	}
	return err
}

func newBackupCreateCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		opts       backup.CreateOptions
	)

	cmd := &cobra.Command{
		Use:   "create <theme-id>",
		Short: "Back up a theme's current settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, database *db.DB) error {
				settings, err := database.LoadSettings(ctx, m.PackageID())
				if err != nil {
					return withCode(core.ExitDatabase, err)
				}
				customizations, err := database.LoadCustomizations(ctx, m.PackageID())
				if err != nil {
					return withCode(core.ExitDatabase, err)
				}

				opts.CreatedBy = "user"
				b, err := m.Create(ctx, settings, customizations, opts)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), backupSummary(b))
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.SprintSuccess("created backup %s (%s)", b.ID, b.Name))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&opts.Name, "name", "", "backup name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "backup description")
	cmd.Flags().BoolVar(&opts.IncludePackage, "include-files", false, "also snapshot every file of the theme")
	cmd.Flags().BoolVar(&opts.ExcludeTemplates, "exclude-templates", false, "leave template customizations out")
	cmd.Flags().BoolVar(&opts.ExcludeSections, "exclude-sections", false, "leave section customizations out")
	cmd.Flags().BoolVar(&opts.ExcludeStyles, "exclude-styles", false, "leave style customizations out")

	return cmd
}

func backupSummary(b *backup.Backup) backup.ListItem {
	return backup.ListItem{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Version:     b.Version,
		CreatedAt:   b.CreatedAt,
		HasPackage:  b.Package != nil,
	}
}

func newBackupListCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <theme-id>",
		Short: "List the backups of a theme, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, _ *db.DB) error {
				items, err := m.List(ctx)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), items)
				}

				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintf(out, "no backups for %s\n", m.PackageID())
					return nil
				}
				table := newTable(out, "ID", "Name", "Version", "Created", "Size", "Files")
				for _, item := range items {
					files := ""
					if item.HasPackage {
						files = ui.CheckMark
					}
					table.Append(item.ID, item.Name, item.Version,
						item.CreatedAt.Local().Format("2006-01-02 15:04:05"), fmt.Sprintf("%d", item.Size), files)
				}
				table.Render()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newBackupRestoreCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		opts       backup.RestoreOptions
	)

	cmd := &cobra.Command{
		Use:   "restore <theme-id> <backup-id>",
		Short: "Restore a theme's settings from a backup",
		Long: `Restore settings and customizations from a backup. Theme files are left alone;
use "themepkg rollback" to restore them as well.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, database *db.DB) error {
				opts.Overwrite = !opts.MergeSettings
				res, err := m.Restore(ctx, args[1], opts)
				if err != nil {
					return backupError(err)
				}

				if res.Success {
					applied, err := database.ApplyRestoredData(ctx, m.PackageID(), res.Settings, res.Customizations, core.ApplyOptions{
						Overwrite: true,
						Reason:    "restore " + res.BackupID,
					})
					if err != nil {
						return withCode(core.ExitDatabase, err)
					}
					res.Warnings = append(res.Warnings, applied.Warnings...)
				}

				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					if res.Success {
						fmt.Fprintln(out, ui.SprintSuccess("restored %s from %s", m.PackageID(), res.BackupID))
					}
					for _, w := range res.Warnings {
						fmt.Fprintln(out, ui.SprintWarning("%s", w))
					}
				}

				if !res.Success {
					return withCode(core.ExitValidation, fmt.Errorf("restore %s: %s", args[1], res.Error))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&opts.MergeSettings, "merge", false, "merge the backup onto the current settings")
	cmd.Flags().BoolVar(&opts.SkipChecksum, "skip-checksum", false, "do not verify the backup checksum")
	cmd.Flags().BoolVar(&opts.AllowVersionMismatch, "allow-version-mismatch", false, "restore a backup taken on another major version")
	cmd.Flags().BoolVar(&opts.SkipIncompatible, "force", false, "restore despite checksum and version failures")

	return cmd
}

func newBackupDeleteCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <theme-id> <backup-id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, _ *db.DB) error {
				if !yes {
					confirmed, err := ui.ConfirmDangerousAction("delete backup", args[1])
					if err != nil {
						return err
					}
					if !confirmed {
						ui.PrintInfo("Delete cancelled")
						return nil
					}
				}

				deleted, err := m.Delete(ctx, args[1])
				if err != nil {
					return backupError(err)
				}
				if !deleted {
					return withCode(core.ExitInvalidArgs, fmt.Errorf("backup %s not found", args[1]))
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.SprintSuccess("deleted backup %s", args[1]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newBackupExportCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <theme-id> <backup-id>",
		Short: "Export a backup as a portable JSON document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, _ *db.DB) error {
				data, err := m.Export(ctx, args[1])
				if err != nil {
					return backupError(err)
				}

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				ui.PrintSuccess("exported %s to %s", args[1], output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (stdout when empty)")

	return cmd
}

func newBackupImportCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		opts       backup.ImportOptions
	)

	cmd := &cobra.Command{
		Use:   "import <theme-id> <file>",
		Short: "Import an exported backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[1])
			if err != nil {
				return withCode(core.ExitInvalidArgs, fmt.Errorf("read backup file: %w", err))
			}

			return withBackups(ctx, cfg, log, args[0], func(m *backup.Manager, _ *db.DB) error {
				res, err := m.Import(ctx, data, opts)
				if err != nil {
					return err
				}

				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else if res.Success {
					fmt.Fprintln(cmd.OutOrStdout(), ui.SprintSuccess("imported backup %s", res.BackupID))
				}

				if !res.Success {
					return withCode(core.ExitValidation, fmt.Errorf("import %s: %s", args[1], res.Error))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&opts.NewID, "new-id", false, "store the backup under a new id")

	return cmd
}

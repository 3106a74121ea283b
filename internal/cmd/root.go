package cmd

import (
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd(cfg *config.Config, log *zerolog.Logger, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "themepkg",
		Short: "Theme package lifecycle manager",
		Long: `Validate, scan, update, back up and roll back storefront theme packages.
Updates run as a single session that backs up the theme first and restores it on any failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Inspection
	cmd.AddCommand(NewValidateCmd(cfg, log))
	cmd.AddCommand(NewScanCmd(cfg, log))
	cmd.AddCommand(NewDepsCmd(cfg, log))

	// Lifecycle
	cmd.AddCommand(NewCheckCmd(cfg, log))
	cmd.AddCommand(NewUpdateCmd(cfg, log))
	cmd.AddCommand(NewRollbackCmd(cfg, log))
	cmd.AddCommand(NewBackupCmd(cfg, log))
	cmd.AddCommand(NewHistoryCmd(cfg, log))

	cmd.AddCommand(NewDoctorCmd(cfg, log))
	cmd.AddCommand(NewCompletionCmd(cfg, log))
	cmd.AddCommand(NewVersionCmd(version))

	return cmd
}

package cmd

import (
	"fmt"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/deps"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/ui"
	"github.com/quantmind-br/themepkg/internal/validator"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates the validate command
func NewValidateCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <theme-id>",
		Short: "Validate an installed theme package",
		Long:  `Check the manifest, required structure, declared dependencies, platform compatibility and size limits of a theme.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := requireInstalled(cfg, id); err != nil {
				return err
			}

			res, err := validator.New(packageFs, cfg, log).Validate(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("validate %s: %w", id, err)
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s: %s\n", id, res.Metadata.Version, ui.ColorizeBool(res.Valid, "valid", "invalid"))
				fmt.Fprintf(out, "files: %d, size: %d bytes, sections: %d, blocks: %d\n",
					res.Metadata.FilesScanned, res.Metadata.TotalSize, res.Metadata.SectionCount, res.Metadata.BlockCount)
				printIssues(out, "Errors", res.Errors)
				printIssues(out, "Warnings", res.Warnings)
			}

			if !res.Valid {
				return withCode(core.ExitValidation, fmt.Errorf("%s failed validation with %d error(s)", id, len(res.Errors)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

// NewScanCmd creates the scan command
func NewScanCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan <theme-id>",
		Short: "Scan a theme for dangerous code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := requireInstalled(cfg, id); err != nil {
				return err
			}

			scanner := security.NewScanner(packageFs, paths.NewResolver(cfg), log)
			res, err := scanner.Scan(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("scan %s: %w", id, err)
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printScan(cmd, id, res)
			}

			if !res.Safe {
				return withCode(core.ExitUnsafe, fmt.Errorf("%s is not safe: risk level %s", id, res.RiskLevel))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printScan(cmd *cobra.Command, id string, res *security.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: score %d/100, risk %s, %d file(s) scanned\n",
		id, res.Score, ui.ColorizeSeverity(string(res.RiskLevel)), res.FilesScanned)

	if len(res.Threats) > 0 {
		fmt.Fprintf(out, "\nThreats (%d)\n", len(res.Threats))
		table := newTable(out, "Severity", "Type", "Location", "Message", "Code")
		for _, t := range res.Threats {
			location := t.File
			if t.Line > 0 {
				location = fmt.Sprintf("%s:%d", t.File, t.Line)
			}
			table.Append(ui.ColorizeSeverity(string(t.Severity)), t.Type, location, t.Message, t.Code)
		}
		table.Render()
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings (%d)\n", len(res.Warnings))
		table := newTable(out, "Type", "File", "Message", "Remediation")
		for _, w := range res.Warnings {
			table.Append(w.Type, w.File, w.Message, w.Remediation)
		}
		table.Render()
	}
}

// NewDepsCmd creates the deps command
func NewDepsCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		against    string
	)

	cmd := &cobra.Command{
		Use:   "deps <theme-id>",
		Short: "Check a theme's dependencies against the platform",
		Long: `Classify every declared dependency as provided by the platform, allowed, or blocked.
With --against, also report version ranges that conflict with another installed theme.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := requireInstalled(cfg, id); err != nil {
				return err
			}

			resolver := paths.NewResolver(cfg)
			m, err := manifest.Load(packageFs, resolver.ManifestPath(id))
			if err != nil {
				return withCode(core.ExitValidation, err)
			}

			r := deps.New(deps.CatalogFromConfig(cfg), m.Dependencies, m.PeerDependencies, log)
			report := struct {
				*deps.Result
				Conflicts []deps.Conflict `json:"conflicts,omitempty"`
			}{Result: r.Check()}

			if against != "" {
				if err := requireInstalled(cfg, against); err != nil {
					return err
				}
				other, err := manifest.Load(packageFs, resolver.ManifestPath(against))
				if err != nil {
					return withCode(core.ExitValidation, err)
				}
				report.Conflicts = r.ResolveConflicts(other.Dependencies)
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printDeps(cmd, id, report.Result, report.Conflicts)
			}

			if !report.Satisfied {
				return withCode(core.ExitValidation, fmt.Errorf("%s has unsatisfied dependencies", id))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&against, "against", "", "report range conflicts with another installed theme")

	return cmd
}

func printDeps(cmd *cobra.Command, id string, res *deps.Result, conflicts []deps.Conflict) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", id, ui.ColorizeBool(res.Satisfied, "dependencies satisfied", "dependencies unsatisfied"))

	rows := [][]string{}
	for _, group := range []struct {
		status string
		specs  []deps.Spec
	}{
		{"missing", res.Missing},
		{"incompatible", res.Incompatible},
		{"blocked", res.Blocked},
	} {
		for _, spec := range group.specs {
			kind := "dependency"
			if spec.Peer {
				kind = "peer"
			}
			rows = append(rows, []string{spec.Name, spec.Range, kind, group.status})
		}
	}
	if len(rows) > 0 {
		table := newTable(out, "Name", "Range", "Kind", "Status")
		for _, row := range rows {
			table.Append(row[0], row[1], row[2], row[3])
		}
		table.Render()
	}

	if len(res.Warnings) > 0 {
		ui.PrintList(res.Warnings)
	}

	for _, c := range conflicts {
		fmt.Fprintf(out, "conflict: %s\n", c)
	}
}

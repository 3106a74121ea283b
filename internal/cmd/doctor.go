package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/manifest"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/source"
	"github.com/quantmind-br/themepkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// NewDoctorCmd creates the doctor command
func NewDoctorCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		verbose bool
		fix     bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and installed themes",
		Long:  `Check the data directories, the settings database, the update source and the manifests of installed themes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui.PrintHeader("System Diagnostics")
			fmt.Println()

			var issues []string
			var warnings []string

			// 1. Directories
			ui.PrintSubheader("Directory Structure")
			dirs := []struct {
				path string
				name string
			}{
				{cfg.Paths.DataDir, "Data directory"},
				{cfg.Paths.PackagesDir, "Themes directory"},
				{cfg.Paths.BackupsDir, "Backups directory"},
				{cfg.Paths.TempDir, "Temp directory"},
				{filepath.Dir(cfg.Paths.DBFile), "Database directory"},
				{filepath.Dir(cfg.Paths.LogFile), "Log directory"},
			}

			for _, dir := range dirs {
				if dir.path == "" || dir.path == "." {
					continue
				}
				if checkDirectory(dir.path, dir.name, fix) {
					ui.PrintSuccess("%s: %s", dir.name, dir.path)
				} else {
					ui.PrintError("%s: NOT WRITABLE (%s)", dir.name, dir.path)
					issues = append(issues, fmt.Sprintf("Directory not writable: %s", dir.path))
				}
			}

			fmt.Println()

			// 2. Database
			ui.PrintSubheader("Database")
			database, err := openDB(ctx, cfg)
			if err != nil {
				ui.PrintError("Database: NOT ACCESSIBLE")
				issues = append(issues, fmt.Sprintf("Cannot open database: %v", err))
			} else {
				defer database.Close()
				if err := database.Ping(ctx); err != nil {
					ui.PrintError("Database: NOT RESPONDING")
					issues = append(issues, fmt.Sprintf("Database ping failed: %v", err))
				} else {
					ui.PrintSuccess("Database: accessible (%s)", database.Path())
				}
			}

			fmt.Println()

			// 3. Update source
			ui.PrintSubheader("Update Source")
			if problem := checkSource(cfg); problem != "" {
				ui.PrintWarning("%s", problem)
				warnings = append(warnings, problem)
			} else {
				ui.PrintSuccess("Source: %s", cfg.Update.Source.Type)
			}
			if verbose {
				for _, kv := range sourceDetails(cfg) {
					ui.PrintKeyValue(kv[0], kv[1])
				}
			}

			fmt.Println()

			// 4. Installed themes
			ui.PrintSubheader("Installed Themes")
			resolver := paths.NewResolver(cfg)
			ids := installedPackages(resolver)
			ui.PrintInfo("Installed themes: %d", len(ids))
			broken := checkManifests(resolver, ids)
			for id, problem := range broken {
				warnings = append(warnings, fmt.Sprintf("%s: %s", id, problem))
			}
			if verbose {
				for _, id := range ids {
					if problem, ok := broken[id]; ok {
						ui.PrintWarning("%s: %s", id, problem)
					} else {
						ui.PrintSuccess("%s: manifest ok", id)
					}
				}
			}

			fmt.Println()

			// Summary
			ui.PrintHeader("Summary")
			fmt.Println()

			if len(issues) == 0 {
				ui.PrintSuccess("All critical checks passed!")
			} else {
				ui.PrintError("Found %d issue(s):", len(issues))
				ui.PrintList(issues)
				fmt.Println()
			}

			if len(warnings) > 0 {
				ui.PrintWarning("Found %d warning(s):", len(warnings))
				ui.PrintList(warnings)
			}

			fmt.Println()
			log.Debug().Int("issues", len(issues)).Int("warnings", len(warnings)).Msg("doctor finished")

			if len(issues) > 0 {
				return fmt.Errorf("system check failed with %d issue(s)", len(issues))
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "report every installed theme")
	cmd.Flags().BoolVar(&fix, "fix", false, "create missing directories")

	return cmd
}

// checkDirectory reports whether path is a writable directory, creating it
// first when fix is set.
func checkDirectory(path, name string, fix bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) && fix {
			return os.MkdirAll(path, 0755) == nil
		}
		return false
	}

	if !info.IsDir() {
		return false
	}

	return unix.Access(path, unix.W_OK) == nil
}

// checkSource returns a problem description when the configured update source
// cannot be used, or "" when it looks usable.
func checkSource(cfg *config.Config) string {
	src := cfg.Update.Source
	switch source.Kind(src.Type) {
	case source.KindLocal:
		if src.Path == "" {
			return "update source is local but update.source.path is not set"
		}
		if info, err := os.Stat(src.Path); err != nil || !info.IsDir() {
			return fmt.Sprintf("local update source %s is not a directory", src.Path)
		}
	case source.KindRelease:
		if src.Repository == "" {
			return "update source is release but update.source.repository is not set"
		}
	case source.KindRegistry:
	case source.KindURL:
		if src.URL == "" {
			return "update source is url but update.source.url is not set"
		}
	default:
		return fmt.Sprintf("unknown update source type %q", src.Type)
	}
	return ""
}

// sourceDetails lists the configured location of the update source
func sourceDetails(cfg *config.Config) [][2]string {
	src := cfg.Update.Source
	var details [][2]string
	for _, kv := range [][2]string{
		{"Repository", src.Repository},
		{"URL", src.URL},
		{"Path", src.Path},
	} {
		if kv[1] != "" {
			details = append(details, kv)
		}
	}
	return details
}

// checkManifests returns the installed themes whose manifest is missing or
// invalid, keyed by id.
func checkManifests(resolver *paths.Resolver, ids []string) map[string]string {
	broken := map[string]string{}
	for _, id := range ids {
		m, err := manifest.Load(packageFs, resolver.ManifestPath(id))
		if err != nil {
			broken[id] = err.Error()
			continue
		}
		if violations := m.Validate(); len(violations) > 0 {
			broken[id] = violations[0].Error()
		}
	}
	return broken
}

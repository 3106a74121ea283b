package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/db"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/quantmind-br/themepkg/internal/security"
	"github.com/quantmind-br/themepkg/internal/ui"
	"github.com/spf13/afero"
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// withCode attaches an exit code to err
func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps a command error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return core.ExitInterrupted
	}
	return core.ExitGeneral
}

// packageFs is the filesystem every command works on
var packageFs afero.Fs = afero.NewOsFs()

// openDB opens the settings store, creating its directory on first use
func openDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DBFile), 0755); err != nil {
		return nil, withCode(core.ExitDatabase, fmt.Errorf("create database directory: %w", err))
	}
	database, err := db.New(ctx, cfg.Paths.DBFile)
	if err != nil {
		return nil, withCode(core.ExitDatabase, fmt.Errorf("open database: %w", err))
	}
	return database, nil
}

// requireInstalled validates id and checks the package exists, suggesting
// close matches when it does not.
func requireInstalled(cfg *config.Config, id string) error {
	if err := security.ValidatePackageID(id); err != nil {
		return withCode(core.ExitInvalidArgs, err)
	}

	resolver := paths.NewResolver(cfg)
	if fsops.IsDir(packageFs, resolver.PackageDir(id)) {
		return nil
	}

	err := fmt.Errorf("theme %s is not installed", id)
	if suggestions := ui.Suggest(id, installedPackages(resolver), 3); len(suggestions) > 0 {
		err = fmt.Errorf("%w (did you mean %s?)", err, joinOr(suggestions))
	}
	return withCode(core.ExitInvalidArgs, err)
}

func installedPackages(resolver *paths.Resolver) []string {
	infos, err := afero.ReadDir(packageFs, resolver.PackagesDir())
	if err != nil {
		return nil
	}
	var ids []string
	for _, info := range infos {
		if info.IsDir() {
			ids = append(ids, info.Name())
		}
	}
	return ids
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := items[0]
	for _, item := range items[1 : len(items)-1] {
		out += ", " + item
	}
	return out + " or " + items[len(items)-1]
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable creates a borderless left-aligned table
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithHeader(header),
		tablewriter.WithAlignment(tw.MakeAlign(len(header), tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleLight)),
	)
}

func printIssues(w io.Writer, title string, issues []core.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d)\n", title, len(issues))
	table := newTable(w, "Kind", "File", "Path", "Message")
	for _, issue := range issues {
		table.Append(string(issue.Kind), issue.File, issue.Path, issue.Message)
	}
	table.Render()
}

package core

import "context"

// ApplyOptions controls how restored or migrated data is written to the live store
type ApplyOptions struct {
	Overwrite     bool // Replace the stored settings instead of merging
	MergeSettings bool // Deep-merge onto the stored settings
	Reason        string
}

// ApplyResult reports the outcome of writing data to the live store
type ApplyResult struct {
	Success  bool
	Warnings []string
}

// SettingsStore is wherever a theme's live settings reside
type SettingsStore interface {
	// LoadSettings returns the active settings for a package (empty when none are stored)
	LoadSettings(ctx context.Context, packageID string) (Settings, error)

	// ApplyRestoredData writes settings and customizations back to the live store
	ApplyRestoredData(ctx context.Context, packageID string, settings Settings, customizations *Customizations, opts ApplyOptions) (*ApplyResult, error)
}

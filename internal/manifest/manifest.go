// Package manifest parses and validates theme.json, the declarative metadata
// file at the root of every theme package.
package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/spf13/afero"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

const (
	maxNameLength        = 50
	maxDescriptionLength = 200
)

// EntryPoints names the primary members of a theme bundle
type EntryPoints struct {
	Main     string `json:"main,omitempty"`
	Sections string `json:"sections,omitempty"`
	Blocks   string `json:"blocks,omitempty"`
	Styles   string `json:"styles,omitempty"`
	Config   string `json:"config,omitempty"`
}

// SettingsSchema lists the settings slot names a theme exposes
type SettingsSchema struct {
	Colors     []string `json:"colors,omitempty"`
	Typography []string `json:"typography,omitempty"`
	Layout     []string `json:"layout,omitempty"`
}

// Manifest is the declarative metadata of a theme package
type Manifest struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Version            string            `json:"version"`
	Author             string            `json:"author,omitempty"`
	Description        string            `json:"description,omitempty"`
	MinPlatformVersion string            `json:"minPlatformVersion,omitempty"`
	MaxPlatformVersion string            `json:"maxPlatformVersion,omitempty"`
	EntryPoints        *EntryPoints      `json:"entryPoints,omitempty"`
	Dependencies       map[string]string `json:"dependencies,omitempty"`
	PeerDependencies   map[string]string `json:"peerDependencies,omitempty"`
	Capabilities       []string          `json:"capabilities,omitempty"`
	Settings           *SettingsSchema   `json:"settings,omitempty"`
}

// Violation is one schema violation, tagged with the offending JSON path
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Parse decodes a manifest. It only fails on malformed JSON; use Validate for
// schema checks.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Load reads and parses the manifest at path
func Load(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// LoadValid reads a manifest and rejects it if it has any schema violation
func LoadValid(fs afero.Fs, path string) (*Manifest, error) {
	m, err := Load(fs, path)
	if err != nil {
		return nil, err
	}
	if violations := m.Validate(); len(violations) > 0 {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, violations[0])
	}
	return m, nil
}

// Validate checks the manifest against the theme.json schema and returns every
// violation found, in a stable order.
func (m *Manifest) Validate() []Violation {
	var out []Violation
	add := func(path, format string, args ...interface{}) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case m.ID == "":
		add("id", "is required")
	case !idPattern.MatchString(m.ID):
		add("id", "must contain only lowercase letters, digits and dashes")
	}

	switch {
	case m.Version == "":
		add("version", "is required")
	case !versionPattern.MatchString(m.Version):
		add("version", "must be in major.minor.patch form, got %q", m.Version)
	}

	nameLen := utf8.RuneCountInString(m.Name)
	if nameLen < 1 || nameLen > maxNameLength {
		add("name", "must be between 1 and %d characters", maxNameLength)
	}

	if utf8.RuneCountInString(m.Description) > maxDescriptionLength {
		add("description", "must be at most %d characters", maxDescriptionLength)
	}

	if m.MinPlatformVersion != "" && !versionPattern.MatchString(m.MinPlatformVersion) {
		add("minPlatformVersion", "must be in major.minor.patch form, got %q", m.MinPlatformVersion)
	}
	if m.MaxPlatformVersion != "" && !versionPattern.MatchString(m.MaxPlatformVersion) {
		add("maxPlatformVersion", "must be in major.minor.patch form, got %q", m.MaxPlatformVersion)
	}

	validateDeps := func(field string, deps map[string]string) {
		for _, name := range sortedKeys(deps) {
			if name == "" {
				add(field, "dependency name must not be empty")
				continue
			}
			if deps[name] == "" {
				add(field+"."+name, "version range must not be empty")
			}
		}
	}
	validateDeps("dependencies", m.Dependencies)
	validateDeps("peerDependencies", m.PeerDependencies)

	for i, capability := range m.Capabilities {
		if capability == "" {
			add(fmt.Sprintf("capabilities[%d]", i), "must not be empty")
		}
	}

	return out
}

// Entries returns the entry points with defaults filled in for omitted members
func (m *Manifest) Entries() EntryPoints {
	e := EntryPoints{
		Main:     "index.js",
		Sections: "sections",
		Blocks:   "blocks",
		Styles:   "styles",
		Config:   "config",
	}
	if m.EntryPoints == nil {
		return e
	}
	if m.EntryPoints.Main != "" {
		e.Main = m.EntryPoints.Main
	}
	if m.EntryPoints.Sections != "" {
		e.Sections = m.EntryPoints.Sections
	}
	if m.EntryPoints.Blocks != "" {
		e.Blocks = m.EntryPoints.Blocks
	}
	if m.EntryPoints.Styles != "" {
		e.Styles = m.EntryPoints.Styles
	}
	if m.EntryPoints.Config != "" {
		e.Config = m.EntryPoints.Config
	}
	return e
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package core

import (
	"fmt"
	"sort"
	"strings"
)

// IssueKind classifies a validation error or warning
type IssueKind string

const (
	KindStructure     IssueKind = "structure"
	KindSecurity      IssueKind = "security"
	KindCompatibility IssueKind = "compatibility"
	KindDependency    IssueKind = "dependency"
	KindPerformance   IssueKind = "performance"
)

// Issue is a single validation finding. Line is 1-based, zero when unknown.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
	File    string    `json:"file,omitempty"`
	Line    int       `json:"line,omitempty"`
	Path    string    `json:"path,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", i.Kind, i.Message)
	if i.File != "" {
		fmt.Fprintf(&b, " (%s", i.File)
		if i.Line > 0 {
			fmt.Fprintf(&b, ":%d", i.Line)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Severity of a security threat
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Settings is the free-form settings document of an installed theme
type Settings map[string]interface{}

// Customizations holds operator edits to a theme, keyed by path relative to
// the corresponding package directory.
type Customizations struct {
	Templates map[string]string `json:"templates,omitempty"`
	Sections  map[string]string `json:"sections,omitempty"`
	Styles    map[string]string `json:"styles,omitempty"`
}

// IsEmpty reports whether no customization payload is present
func (c *Customizations) IsEmpty() bool {
	return c == nil || (len(c.Templates) == 0 && len(c.Sections) == 0 && len(c.Styles) == 0)
}

// PackageSnapshot is a full copy of a package directory, keyed by slash-separated
// relative path.
type PackageSnapshot struct {
	Files map[string][]byte `json:"files"`
}

// Paths returns the snapshot's file paths in sorted order
func (p *PackageSnapshot) Paths() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Files))
	for path := range p.Files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneral      = 1
	ExitInvalidArgs  = 2
	ExitValidation   = 3
	ExitUnsafe       = 4
	ExitUpdateFailed = 5
	ExitRolledBack   = 6
	ExitDatabase     = 7
	ExitInterrupted  = 130
)

// Package deps classifies a theme's declared dependencies against what the
// host platform provides, allows and forbids.
package deps

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/quantmind-br/themepkg/internal/version"
	"github.com/rs/zerolog"
)

// Catalog is the lookup data a resolver classifies against
type Catalog struct {
	// Provided maps package name to the version the host bundles
	Provided map[string]string
	// Allowed holds name patterns: exact names or "@scope/*" prefixes
	Allowed []string
	// Blocked holds host-only modules that are never satisfiable
	Blocked []string
}

// CatalogFromConfig builds a catalog from the platform and dependencies sections
func CatalogFromConfig(cfg *config.Config) Catalog {
	if cfg == nil {
		cfg = config.Default()
	}
	return Catalog{
		Provided: cfg.Platform.Provided,
		Allowed:  cfg.Dependencies.Allowed,
		Blocked:  cfg.Dependencies.Blocked,
	}
}

// MatchesPattern reports whether name matches an allow-list pattern.
// "@scope/*" matches every package under @scope; anything else must match exactly.
func MatchesPattern(name, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

// IsAllowed reports whether name matches any of the patterns
func IsAllowed(name string, patterns []string) bool {
	for _, p := range patterns {
		if MatchesPattern(name, p) {
			return true
		}
	}
	return false
}

// Class is the category a dependency name falls into
type Class string

const (
	ClassBlocked  Class = "blocked"
	ClassProvided Class = "platform-provided"
	ClassExternal Class = "allowed-external"
	ClassUnknown  Class = "unknown"
)

// Spec is one declared dependency
type Spec struct {
	Name      string `json:"name"`
	Range     string `json:"range"`
	Installed string `json:"installed,omitempty"`
	Peer      bool   `json:"peer,omitempty"`
}

func (s Spec) String() string {
	if s.Installed != "" {
		return fmt.Sprintf("%s@%s (installed %s)", s.Name, s.Range, s.Installed)
	}
	return fmt.Sprintf("%s@%s", s.Name, s.Range)
}

// Result is the outcome of a dependency check
type Result struct {
	Satisfied    bool     `json:"satisfied"`
	Missing      []Spec   `json:"missing"`
	Incompatible []Spec   `json:"incompatible"`
	Blocked      []Spec   `json:"blocked"`
	Warnings     []string `json:"warnings"`
}

// Resolver checks one package's dependencies and peer dependencies
type Resolver struct {
	catalog      Catalog
	dependencies map[string]string
	peers        map[string]string
	logger       *zerolog.Logger
}

// New creates a resolver for the given declared dependency maps
func New(catalog Catalog, dependencies, peers map[string]string, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		catalog:      catalog,
		dependencies: dependencies,
		peers:        peers,
		logger:       logger,
	}
}

// Classify puts a dependency name into exactly one class. Blocked wins over
// every other list.
func (r *Resolver) Classify(name string) Class {
	for _, b := range r.catalog.Blocked {
		if name == b {
			return ClassBlocked
		}
	}
	if _, ok := r.catalog.Provided[name]; ok {
		return ClassProvided
	}
	if IsAllowed(name, r.catalog.Allowed) {
		return ClassExternal
	}
	return ClassUnknown
}

// Check classifies every declared dependency. Unsatisfied regular dependencies
// make the result unsatisfied; peer mismatches only produce warnings, except
// blocked names which are never satisfiable.
func (r *Resolver) Check() *Result {
	res := &Result{
		Satisfied:    true,
		Missing:      []Spec{},
		Incompatible: []Spec{},
		Blocked:      []Spec{},
		Warnings:     []string{},
	}

	for _, name := range sortedKeys(r.dependencies) {
		r.checkDependency(res, Spec{Name: name, Range: r.dependencies[name]})
	}
	for _, name := range sortedKeys(r.peers) {
		r.checkPeer(res, Spec{Name: name, Range: r.peers[name], Peer: true})
	}

	if r.logger != nil {
		r.logger.Debug().
			Bool("satisfied", res.Satisfied).
			Int("missing", len(res.Missing)).
			Int("incompatible", len(res.Incompatible)).
			Int("blocked", len(res.Blocked)).
			Msg("dependency check finished")
	}
	return res
}

func (r *Resolver) checkDependency(res *Result, spec Spec) {
	switch r.Classify(spec.Name) {
	case ClassBlocked:
		res.Blocked = append(res.Blocked, spec)
		res.Satisfied = false

	case ClassProvided:
		installed := r.catalog.Provided[spec.Name]
		ok, err := version.Satisfies(installed, spec.Range)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", spec.Name, err))
		}
		if !ok {
			spec.Installed = installed
			res.Incompatible = append(res.Incompatible, spec)
			res.Satisfied = false
		}

	case ClassExternal:
		res.Missing = append(res.Missing, spec)
		res.Satisfied = false

	default:
		res.Missing = append(res.Missing, spec)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s is not a recognized package", spec.Name))
		res.Satisfied = false
	}
}

func (r *Resolver) checkPeer(res *Result, spec Spec) {
	switch r.Classify(spec.Name) {
	case ClassBlocked:
		res.Blocked = append(res.Blocked, spec)
		res.Satisfied = false

	case ClassProvided:
		installed := r.catalog.Provided[spec.Name]
		ok, err := version.Satisfies(installed, spec.Range)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, fmt.Sprintf("peer dependency %s: %v", spec.Name, err))
		case !ok:
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("peer dependency %s@%s does not match platform version %s", spec.Name, spec.Range, installed))
		}

	default:
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("peer dependency %s@%s is not provided by the platform", spec.Name, spec.Range))
	}
}

// Conflict is one dependency requested at different ranges by two packages
type Conflict struct {
	Name       string `json:"name"`
	Range      string `json:"range"`
	OtherRange string `json:"otherRange"`
	Resolved   bool   `json:"resolved"`
	Resolution string `json:"resolution,omitempty"`
}

func (c Conflict) String() string {
	if c.Resolved {
		return fmt.Sprintf("%s: %s vs %s resolved by %s", c.Name, c.Range, c.OtherRange, c.Resolution)
	}
	return fmt.Sprintf("%s: %s vs %s cannot be resolved", c.Name, c.Range, c.OtherRange)
}

var versionInRange = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)

// ResolveConflicts compares this package's dependencies with another package's
// and returns every name requested at ranges no single version satisfies.
// A conflict is resolved when the platform-provided version satisfies the
// union of both ranges, since the host version is the one both packages load.
func (r *Resolver) ResolveConflicts(other map[string]string) []Conflict {
	conflicts := []Conflict{}
	for _, name := range sortedKeys(r.dependencies) {
		otherRange, ok := other[name]
		if !ok {
			continue
		}
		ours := r.dependencies[name]
		if ours == otherRange || compatibleRanges(ours, otherRange) {
			continue
		}

		c := Conflict{Name: name, Range: ours, OtherRange: otherRange}
		if provided, ok := r.catalog.Provided[name]; ok && satisfiesEither(provided, ours, otherRange) {
			c.Resolved = true
			c.Resolution = provided
		}
		conflicts = append(conflicts, c)
	}
	return conflicts
}

// compatibleRanges reports whether some release version satisfies both ranges.
// Every bound of a range is a version named in it, so the smallest member of
// a non-empty intersection is either such a version or the next patch, minor
// or major release after one; those candidates are tested.
func compatibleRanges(a, b string) bool {
	named := append(versionInRange.FindAllString(a, -1), versionInRange.FindAllString(b, -1)...)
	if len(named) == 0 {
		// both ranges are wildcards
		return true
	}
	for _, candidate := range candidates(named) {
		if satisfiesBoth(candidate, a, b) {
			return true
		}
	}
	return false
}

func candidates(named []string) []string {
	out := []string{"0.0.0"}
	for _, n := range named {
		v, err := semver.NewVersion(normalize(n))
		if err != nil {
			continue
		}
		out = append(out, v.String(), v.IncPatch().String(), v.IncMinor().String(), v.IncMajor().String())
	}
	return out
}

func satisfiesBoth(v, a, b string) bool {
	okA, errA := version.Satisfies(v, a)
	okB, errB := version.Satisfies(v, b)
	return errA == nil && errB == nil && okA && okB
}

func satisfiesEither(v, a, b string) bool {
	okA, errA := version.Satisfies(v, a)
	okB, errB := version.Satisfies(v, b)
	return (errA == nil && okA) || (errB == nil && okB)
}

// normalize pads a partial version such as "2" or "2.1" to three components
func normalize(v string) string {
	for strings.Count(v, ".") < 2 {
		v += ".0"
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package deps

import (
	"testing"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() Catalog {
	return Catalog{
		Provided: map[string]string{
			"react":            "18.2.0",
			"@storefront/ui":   "3.4.0",
			"@storefront/core": "3.4.0",
		},
		Allowed: []string{"react", "@storefront/*", "lodash", "swiper"},
		Blocked: []string{"fs", "child_process", "process"},
	}
}

func names(specs []Spec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, MatchesPattern("lodash", "lodash"))
	assert.False(t, MatchesPattern("lodash-es", "lodash"))
	assert.True(t, MatchesPattern("@storefront/ui", "@storefront/*"))
	assert.False(t, MatchesPattern("@other/ui", "@storefront/*"))
	assert.True(t, IsAllowed("swiper", []string{"react", "swiper"}))
	assert.False(t, IsAllowed("left-pad", []string{"react", "swiper"}))
}

func TestClassify(t *testing.T) {
	r := New(testCatalog(), nil, nil, nil)
	assert.Equal(t, ClassBlocked, r.Classify("fs"))
	assert.Equal(t, ClassProvided, r.Classify("react"))
	assert.Equal(t, ClassProvided, r.Classify("@storefront/ui"))
	assert.Equal(t, ClassExternal, r.Classify("lodash"))
	assert.Equal(t, ClassExternal, r.Classify("@storefront/icons"))
	assert.Equal(t, ClassUnknown, r.Classify("left-pad"))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name             string
		deps             map[string]string
		peers            map[string]string
		wantSatisfied    bool
		wantMissing      []string
		wantIncompatible []string
		wantBlocked      []string
		wantWarnings     int
	}{
		{
			name:             "no dependencies",
			wantSatisfied:    true,
			wantMissing:      []string{},
			wantIncompatible: []string{},
			wantBlocked:      []string{},
		},
		{
			name:             "provided and in range",
			deps:             map[string]string{"react": "^18.0.0", "@storefront/ui": "~3.4.0"},
			wantSatisfied:    true,
			wantMissing:      []string{},
			wantIncompatible: []string{},
			wantBlocked:      []string{},
		},
		{
			name:             "provided but out of range",
			deps:             map[string]string{"react": "^17.0.0"},
			wantMissing:      []string{},
			wantIncompatible: []string{"react"},
			wantBlocked:      []string{},
		},
		{
			name:             "allowed external is missing",
			deps:             map[string]string{"lodash": "^4.17.0"},
			wantMissing:      []string{"lodash"},
			wantIncompatible: []string{},
			wantBlocked:      []string{},
		},
		{
			name:             "unknown is missing with a warning",
			deps:             map[string]string{"left-pad": "1.0.0"},
			wantMissing:      []string{"left-pad"},
			wantIncompatible: []string{},
			wantBlocked:      []string{},
			wantWarnings:     1,
		},
		{
			name:             "blocked",
			deps:             map[string]string{"child_process": "*"},
			wantMissing:      []string{},
			wantIncompatible: []string{},
			wantBlocked:      []string{"child_process"},
		},
		{
			name:             "peer mismatch is only a warning",
			peers:            map[string]string{"react": "^19.0.0", "swiper": "^11.0.0"},
			wantSatisfied:    true,
			wantMissing:      []string{},
			wantIncompatible: []string{},
			wantBlocked:      []string{},
			wantWarnings:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(testCatalog(), tt.deps, tt.peers, nil).Check()
			assert.Equal(t, tt.wantSatisfied, res.Satisfied)
			assert.Equal(t, tt.wantMissing, names(res.Missing))
			assert.Equal(t, tt.wantIncompatible, names(res.Incompatible))
			assert.Equal(t, tt.wantBlocked, names(res.Blocked))
			assert.Len(t, res.Warnings, tt.wantWarnings)
		})
	}
}

func TestIncompatibleCarriesInstalledVersion(t *testing.T) {
	res := New(testCatalog(), map[string]string{"react": "^17.0.0"}, nil, nil).Check()
	require.Len(t, res.Incompatible, 1)
	assert.Equal(t, "18.2.0", res.Incompatible[0].Installed)
	assert.Contains(t, res.Incompatible[0].String(), "installed 18.2.0")
}

func TestBlockedIsNeverSatisfied(t *testing.T) {
	catalog := testCatalog()
	// even when the host also lists it as provided
	catalog.Provided["fs"] = "1.0.0"

	for _, rng := range []string{"*", "latest", "", "^1.0.0", ">=0.0.0"} {
		res := New(catalog, map[string]string{"fs": rng}, nil, nil).Check()
		assert.False(t, res.Satisfied, "range %q", rng)
		assert.Equal(t, []string{"fs"}, names(res.Blocked))

		res = New(catalog, nil, map[string]string{"fs": rng}, nil).Check()
		assert.False(t, res.Satisfied, "peer range %q", rng)
	}
}

func TestResolveConflicts(t *testing.T) {
	r := New(testCatalog(), map[string]string{
		"react":          "^17.0.0",
		"@storefront/ui": ">=3.0.0 <3.4.0",
		"swiper":         "^10.0.0",
		"lodash":         ">=4.0.0",
	}, nil, nil)

	conflicts := r.ResolveConflicts(map[string]string{
		"react":          "^18.0.0",
		"@storefront/ui": ">=3.2.0 <4.0.0",
		"swiper":         "^11.0.0",
		"lodash":         "^4.17.0",
		"clsx":           "^2.0.0",
	})

	require.Len(t, conflicts, 2)
	assert.Equal(t, "react", conflicts[0].Name)
	assert.True(t, conflicts[0].Resolved)
	assert.Equal(t, "18.2.0", conflicts[0].Resolution)
	assert.Equal(t, "swiper", conflicts[1].Name)
	assert.False(t, conflicts[1].Resolved)
	assert.Contains(t, conflicts[1].String(), "cannot be resolved")
}

func TestResolveConflictsOverlappingRanges(t *testing.T) {
	tests := []struct {
		ours, theirs string
		conflict     bool
	}{
		{">1.0.0", "<2.0.0", false},
		{"^1.2.0", ">1.2.0 <1.4.0", false},
		{">18.0.0 <18.5.0", ">18.1.0 <19.0.0", false},
		{"~1.2.0", ">1.2.9", false},
		{">=1.0.0 !=1.0.0", "<1.1.0", false},
		{"1.x", ">=2.0.0", true},
		{">1.0.0", "<1.0.1", true},
		{"^1.0.0", "^2.0.0", true},
		{"<=1.4.0", ">=1.4.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.ours+" vs "+tt.theirs, func(t *testing.T) {
			r := New(Catalog{}, map[string]string{"lodash": tt.ours}, nil, nil)
			conflicts := r.ResolveConflicts(map[string]string{"lodash": tt.theirs})
			if tt.conflict {
				require.Len(t, conflicts, 1)
				assert.False(t, conflicts[0].Resolved)
			} else {
				assert.Empty(t, conflicts)
			}
		})
	}
}

func TestResolveConflictsPlatformOutsideBoth(t *testing.T) {
	r := New(testCatalog(), map[string]string{"react": "^16.0.0"}, nil, nil)

	conflicts := r.ResolveConflicts(map[string]string{"react": "^17.0.0"})
	require.Len(t, conflicts, 1)
	assert.False(t, conflicts[0].Resolved)
	assert.Empty(t, conflicts[0].Resolution)
}

func TestCatalogFromConfig(t *testing.T) {
	c := CatalogFromConfig(nil)
	assert.Contains(t, c.Blocked, "child_process")
	assert.Equal(t, "18.2.0", c.Provided["react"])

	cfg := config.Default()
	cfg.Dependencies.Blocked = []string{"net"}
	c = CatalogFromConfig(cfg)
	assert.Equal(t, []string{"net"}, c.Blocked)
}

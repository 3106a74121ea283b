package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIssueString(t *testing.T) {
	tests := []struct {
		name  string
		issue Issue
		want  string
	}{
		{
			name:  "message only",
			issue: Issue{Kind: KindStructure, Message: "missing sections"},
			want:  "[structure] missing sections",
		},
		{
			name:  "with file",
			issue: Issue{Kind: KindPerformance, Message: "large file", File: "index.js"},
			want:  "[performance] large file (index.js)",
		},
		{
			name:  "with file and line",
			issue: Issue{Kind: KindSecurity, Message: "eval", File: "a.js", Line: 12},
			want:  "[security] eval (a.js:12)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.issue.String())
		})
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestCustomizationsIsEmpty(t *testing.T) {
	var nilCustom *Customizations
	assert.True(t, nilCustom.IsEmpty())
	assert.True(t, (&Customizations{}).IsEmpty())
	assert.False(t, (&Customizations{Styles: map[string]string{"a.css": "body{}"}}).IsEmpty())
}

func TestPackageSnapshotPaths(t *testing.T) {
	snap := &PackageSnapshot{Files: map[string][]byte{
		"sections/b.liquid": nil,
		"theme.json":        nil,
		"index.js":          nil,
	}}
	assert.Equal(t, []string{"index.js", "sections/b.liquid", "theme.json"}, snap.Paths())

	var empty *PackageSnapshot
	assert.Nil(t, empty.Paths())
}

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.10.0", "1.9.0", 1},
		{"1.2.10", "1.2.9", 1},
		{"1.2", "1.2.0", 0},
		{"1", "1.0.1", -1},
		{"v2.1.0", "2.1.0", 0},
		{"1.0.0-beta", "1.0.0", 0},
		{"", "0.0.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompareTotalOrder(t *testing.T) {
	versions := []string{"0.0.1", "0.1.0", "0.9.9", "1.0.0", "1.0.10", "1.2.0", "1.10.0", "2.0.0", "10.0.0"}

	for i, a := range versions {
		assert.Equal(t, 0, Compare(a, a), "reflexive for %s", a)
		for j, b := range versions {
			switch {
			case i < j:
				assert.Equal(t, -1, Compare(a, b), "%s < %s", a, b)
				assert.Equal(t, 1, Compare(b, a), "%s > %s", b, a)
			case i > j:
				assert.Equal(t, 1, Compare(a, b), "%s > %s", a, b)
			}
		}
	}
}

func TestIsBreakingChange(t *testing.T) {
	assert.True(t, IsBreakingChange("1.2.0", "2.0.0"))
	assert.False(t, IsBreakingChange("1.2.0", "1.9.0"))
	assert.False(t, IsBreakingChange("2.0.0", "1.0.0"))
	assert.True(t, IsNewer("1.2.1", "1.2.0"))
	assert.False(t, IsNewer("1.2.0", "1.2.0"))
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		min, max string
		want     bool
	}{
		{"no bounds", "3.4.0", "", "", true},
		{"within bounds", "3.4.0", "3.0.0", "4.0.0", true},
		{"equal to min", "3.0.0", "3.0.0", "", true},
		{"equal to max", "4.0.0", "", "4.0.0", true},
		{"below min", "2.9.9", "3.0.0", "", false},
		{"above max", "4.0.1", "", "4.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckCompatibility(tt.platform, tt.min, tt.max)
			assert.Equal(t, tt.want, got.Compatible)
			if !tt.want {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestCheckBackupCompatibility(t *testing.T) {
	assert.True(t, CheckBackupCompatibility("1.2.0", "1.9.0").Compatible)
	assert.True(t, CheckBackupCompatibility("1.2.0", "").Compatible)

	got := CheckBackupCompatibility("1.2.0", "2.0.0")
	assert.False(t, got.Compatible)
	assert.Contains(t, got.Reason, "1.2.0")
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"18.2.0", "^18.0.0", true},
		{"18.2.0", "^17.0.0", false},
		{"18.2.0", "~18.2.0", true},
		{"18.3.0", "~18.2.0", false},
		{"3.4.0", ">=3.0.0 <4.0.0", true},
		{"2.0.0", "1.x || 2.x", true},
		{"2.0.0", "*", true},
		{"2.0.0", "latest", true},
		{"2.0.0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.version+" "+tt.constraint, func(t *testing.T) {
			got, err := Satisfies(tt.version, tt.constraint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Satisfies("1.0.0", "not a range!")
	assert.Error(t, err)
	_, err = Satisfies("nope", "^1.0.0")
	assert.Error(t, err)
}

func TestValidAndNormalize(t *testing.T) {
	assert.True(t, Valid("1.2.3"))
	assert.True(t, Valid("2.0.0-beta.1"))
	assert.False(t, Valid("1.2"))
	assert.False(t, Valid("v1.2.3"))
	assert.False(t, Valid(""))

	assert.Equal(t, "1.2.3", Normalize(" v1.2.3 "))
	assert.Equal(t, "1.2.3", Normalize("1.2.3"))
}

// Package version compares theme versions, checks platform compatibility and
// runs settings migrations between versions.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare compares two major.minor.patch versions numerically and returns -1, 0 or 1.
// Missing or non-numeric components count as 0; a leading "v" is ignored.
func Compare(a, b string) int {
	pa, pb := parse(a), parse(b)
	for i := 0; i < 3; i++ {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

// IsNewer reports whether candidate is strictly greater than current
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// IsBreakingChange reports whether moving from one version to another bumps the major
func IsBreakingChange(from, to string) bool {
	return parse(to)[0] > parse(from)[0]
}

// Normalize trims whitespace and a leading "v" from a release tag
func Normalize(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "v")
}

// Valid reports whether v is a strict major.minor.patch version, optionally
// with pre-release or build metadata.
func Valid(v string) bool {
	_, err := semver.StrictNewVersion(v)
	return err == nil
}

// Major returns the major component of v
func Major(v string) uint64 {
	return parse(v)[0]
}

func parse(v string) [3]uint64 {
	var out [3]uint64
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	// drop pre-release and build metadata
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.SplitN(v, ".", 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

// Compatibility is the outcome of a compatibility check
type Compatibility struct {
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// CheckCompatibility checks platform against optional inclusive bounds.
// Empty bounds never constrain.
func CheckCompatibility(platform, min, max string) Compatibility {
	if min != "" && Compare(platform, min) < 0 {
		return Compatibility{
			Reason: fmt.Sprintf("platform version %s is below the minimum supported version %s", platform, min),
		}
	}
	if max != "" && Compare(platform, max) > 0 {
		return Compatibility{
			Reason: fmt.Sprintf("platform version %s is above the maximum supported version %s", platform, max),
		}
	}
	return Compatibility{Compatible: true}
}

// CheckBackupCompatibility decides whether data captured at backupVersion can be
// restored onto a package currently at currentVersion. Data only moves within
// the same major line.
func CheckBackupCompatibility(backupVersion, currentVersion string) Compatibility {
	if currentVersion == "" || Major(backupVersion) == Major(currentVersion) {
		return Compatibility{Compatible: true}
	}
	return Compatibility{
		Reason: fmt.Sprintf("backup was taken at version %s, which is not compatible with installed version %s", backupVersion, currentVersion),
	}
}

// Satisfies reports whether version satisfies a semantic-version range such as
// "^1.2.0", "~2.1", ">=1.0.0 <2.0.0" or "1.x || 2.x". "*", "latest" and the empty
// range match anything.
func Satisfies(version, constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" || constraint == "latest" {
		return true, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version range %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

package updater

import (
	"strconv"
	"strings"
)

// Version is a parsed semantic version. Pre-release and build suffixes are
// ignored for ordering.
type Version struct {
	Major, Minor, Patch int
	Raw                 string
	valid               bool
}

// ParseVersion parses "v1.2.3", "1.2.3" or "1.2.3-rc1". Anything else,
// including "dev" and "dev-abc1234", is a dev version.
func ParseVersion(s string) Version {
	v := Version{Raw: s}
	core := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = nums[0], nums[1], nums[2]
	v.valid = true
	return v
}

// IsDev reports whether the version is not a release version.
func (v Version) IsDev() bool {
	return !v.valid
}

// IsOlderThan compares release versions. Dev versions are never older.
func (v Version) IsOlderThan(other Version) bool {
	if !v.valid || !other.valid {
		return false
	}
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

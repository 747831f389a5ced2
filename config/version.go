package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CompareVersions compares two semver strings. It returns -1, 0, or 1
// as v1 is older than, equal to, or newer than v2. The config manager
// uses this to decide whether a KV config should replace the local one.
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v1, err)
	}
	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", v2, err)
	}

	for i := range a {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1, nil
			}
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses "major.minor.patch", with an optional leading "v".
func parseSemVer(version string) ([3]int, error) {
	var out [3]int
	if version == "" {
		return out, errors.New("version cannot be empty")
	}

	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("version must be major.minor.patch, got %q", version)
	}

	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return out, fmt.Errorf("invalid version number %q: %w", part, err)
		}
		out[i] = n
	}
	return out, nil
}

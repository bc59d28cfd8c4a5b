package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Canonical parses a version string and returns it in MAJOR.MINOR.PATCH form.
//
// Rules:
//   - A leading "v" is accepted and stripped
//   - "main" (development build) is returned as "0.0.0-main"
//   - Partial versions are padded ("1.2" becomes "1.2.0")
//   - Pre-release and build metadata are preserved
func Canonical(v string) (string, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "main" {
		return "0.0.0-main", nil
	}

	parsed, err := semver.NewVersion(v)
	if err != nil {
		return "", fmt.Errorf("invalid version '%s': %w", v, err)
	}

	return parsed.String(), nil
}

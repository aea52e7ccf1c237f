package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the manifest schema version this tool understands.
// Manifests declare the version they were written against in `version`.
const SchemaVersion = "1.0.0"

// IsCompatible reports whether a manifest written against version can be
// processed. A caret constraint is used, so any 1.x manifest is accepted.
// An empty version is treated as the current schema version.
func IsCompatible(version string) (bool, error) {
	if version == "" {
		return true, nil
	}

	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid manifest version %q: %w", version, err)
	}

	return constraint.Check(v), nil
}

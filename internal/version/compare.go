package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckSchemaCompatibility checks if a playbook document's declared schema
// version can be handled by this engine. Returns nil if compatible, error
// with details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - The playbook's minor version must not exceed the engine's minor version
//     (the engine understands all earlier minor revisions of its major)
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
//
// Examples:
//   - Engine 1.2.0, Playbook 1.2.0 -> OK (exact match)
//   - Engine 1.2.1, Playbook 1.2.0 -> OK (patch differs)
//   - Engine 1.2.0, Playbook 1.1.0 -> OK (older minor)
//   - Engine 1.2.0, Playbook 1.3.0 -> ERROR (playbook too new)
//   - Engine 2.0.0, Playbook 1.2.0 -> ERROR (major differs)
//   - Engine main, Playbook 1.2.0 -> OK (dev build, skip check)
func CheckSchemaCompatibility(engineVersion, playbookVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	playbookVersion = strings.TrimPrefix(playbookVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || playbookVersion == "main" {
		return nil
	}

	// Parse engine schema version
	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine schema version '%s': %w", engineVersion, err)
	}

	// Parse playbook schema version
	playbookSemver, err := semver.NewVersion(playbookVersion)
	if err != nil {
		return fmt.Errorf("invalid playbook schema version '%s': %w", playbookVersion, err)
	}

	// Check major version match
	if engineSemver.Major() != playbookSemver.Major() {
		return fmt.Errorf("major version mismatch: engine supports %d.x.x but playbook declares %d.x.x",
			engineSemver.Major(), playbookSemver.Major())
	}

	// A playbook written against a newer minor schema may use constructs this
	// engine does not know about
	if playbookSemver.Minor() > engineSemver.Minor() {
		return fmt.Errorf("minor version too new: engine supports up to %d.%d.x but playbook declares %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			playbookSemver.Major(), playbookSemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}

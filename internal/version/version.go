// Package version holds build metadata, set with -ldflags -X at release time.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the metadata for `tlvmon version`.
func String() string {
	return fmt.Sprintf("tlvmon %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}

// Package version holds build information, set at link time with
// -ldflags "-X github.com/banshee-data/darkframes/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release of the darkframes binary.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build information for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}

// Package buildinfo carries the identity stamped into driftwatch
// binaries at link time.
package buildinfo

import "fmt"

// Set with -ldflags at release time. The defaults keep test binaries
// and "go run" builds identifiable.
var (
	// Version is the semantic version of the build.
	Version = "v0.3.1"
	// Commit is the short hash of the source revision.
	Commit = "unknown"
)

// String renders the version together with its commit, the form the
// CLI and the daemon startup log print.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

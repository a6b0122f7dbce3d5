// Package version holds build-time version metadata, overridden via
// -ldflags at build time.
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the git commit SHA this build was produced from.
	Commit = "unknown"
)

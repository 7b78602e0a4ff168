// Package version holds build-time version identifiers, injected via
// -ldflags at release build time.
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the git commit SHA of this build.
	Commit = "unknown"
)

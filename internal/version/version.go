// Package version exposes build metadata injected via -ldflags.
package version

// Set at build time:
//
//	go build -ldflags "-X .../internal/version.Version=v0.3.0 -X .../internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit hash of the build.
	Commit = "unknown"
)

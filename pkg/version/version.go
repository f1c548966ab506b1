// Package version holds build version information.
package version

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/protlit/protlit/pkg/version.Version=...".
var Version = "0.3.0-dev"

// Commit is the git commit the binary was built from.
var Commit = "unknown"

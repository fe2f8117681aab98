// Package version carries build-time version information.
package version

var (
	// Version is the release version, set at build time.
	Version = "dev"
	// GitCommit is the build's commit hash, set at build time.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set at build time.
	BuildDate = "unknown"
)

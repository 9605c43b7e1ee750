// Package version contains build version information.
package version

import "fmt"

// Version is the current application version.
var Version = "0.1.0"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date, set at build time via ldflags.
var BuildDate = "unknown"

// String formats the build information for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
}

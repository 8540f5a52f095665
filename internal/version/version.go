// Package version exposes build metadata for the /version endpoint and startup logs.
package version

// Version is the released version of notify-dispatch.
// Overridden at build time via -ldflags "-X .../version.Version=...".
var Version = "0.1.0"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date, set at build time via ldflags.
var BuildDate = "unknown"

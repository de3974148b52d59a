// Package buildinfo holds version metadata injected at build time.
package buildinfo

// Version is the release version, overridden via -ldflags at build time.
var Version = "dev"

// Commit is the git commit hash, overridden via -ldflags at build time.
var Commit = "unknown"

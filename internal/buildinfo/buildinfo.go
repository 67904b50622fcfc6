// Package buildinfo carries the version stamped in at link time.
package buildinfo

import (
	"fmt"

	"go.uber.org/zap"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Commit is set at build time via -ldflags.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}

// Short returns a compact build identifier for window titles and logs.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return shortCommit()
	}
	return "dev"
}

// String is the line printed by -version.
func String() string {
	return fmt.Sprintf("ember %s (commit %s, built %s)", Version, shortCommit(), Date)
}

// Fields describes the build for a structured log line.
func Fields() []zap.Field {
	return []zap.Field{
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("date", Date),
	}
}

package core

import "fmt"

// Build metadata, injected with:
//
//	go build -ldflags "-X asset_editor/core.Version=$(git describe --tags --always)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns "version (built X, commit Y)".
func GetVersionInfo() string {
	return fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit)
}

// UserAgent is sent on every backend request.
func UserAgent() string {
	return "asset-editor/" + Version
}

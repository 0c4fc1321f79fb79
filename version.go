// Package batchscore provides version information for the batch-score module.
package batchscore

// Version is the semantic version of the batch-score module.
const Version = "0.1.0"

// VersionInfo describes a build of the batch-score module
type VersionInfo struct {
	Version string
	Name    string
}

// GetVersion returns structured version information.
//
// Usage:
//
//	info := batchscore.GetVersion()
//	slog.Info("starting", "name", info.Name, "version", info.Version)
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "batch-score",
	}
}

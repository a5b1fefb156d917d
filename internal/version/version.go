// Package version holds build metadata, set with -ldflags "-X".
package version

var (
	GitTag    = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

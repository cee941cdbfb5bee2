package ci

import (
	"context"
)

// BuildStatus is the normalized build outcome vocabulary used by the engine.
type BuildStatus string

const (
	StatusUnknown BuildStatus = "Unknown"
	StatusPending BuildStatus = "Pending"
	StatusRunning BuildStatus = "Running"
	StatusSuccess BuildStatus = "Success"
	StatusFailed  BuildStatus = "Failed"
)

// Finished reports whether the status is a terminal build outcome.
func (s BuildStatus) Finished() bool {
	return s == StatusSuccess || s == StatusFailed
}

// BuildResult describes the most recent build of a commit.
type BuildResult struct {
	// ID is the provider's opaque build handle.
	ID     string
	Status BuildStatus
	WebURL string
}

// Provider queries and triggers builds on a CI server.
//
// Implementations exist per CI backend (TeamCity today). Errors must be
// classifiable with IsTransient and IsRejected.
type Provider interface {
	// GetLatestBuildStatus returns the most recent build for the commit,
	// or nil if the commit has never been built. A nil result is not an
	// error.
	GetLatestBuildStatus(ctx context.Context, buildConfigID, commit string) (*BuildResult, error)

	// TriggerBuild queues a new build and returns its id.
	TriggerBuild(ctx context.Context, buildConfigID, branch, commit string) (string, error)
}

package engine

import (
	"time"

	"prwatch/internal/ci"
)

// PullRequestState is the per-pull-request record a watcher keeps between
// polls. It is owned exclusively by one RepositoryWatcher and only mutated
// between reconciliation passes, never during one.
type PullRequestState struct {
	PullRequestID int

	// LastTriggeredCommit is the head commit of the last successfully
	// triggered build, or empty if no build was ever triggered.
	LastTriggeredCommit string

	// LastBuildID is the provider's handle for the last triggered build.
	LastBuildID string

	LastBuildStatus ci.BuildStatus

	LastUpdated time.Time

	// MissingPolls counts consecutive polls in which the pull request was
	// absent from the listing. Retirement happens once this reaches the
	// configured debounce count.
	MissingPolls int

	// RejectedCommit is the head commit whose trigger the build server
	// rejected. Triggers for this commit are suppressed until the head
	// moves on.
	RejectedCommit string
}

// MarkTriggered records a successfully triggered build.
func (s *PullRequestState) MarkTriggered(commit, buildID string, now time.Time) {
	s.LastTriggeredCommit = commit
	s.LastBuildID = buildID
	s.LastBuildStatus = ci.StatusPending
	s.LastUpdated = now
	s.RejectedCommit = ""
	s.MissingPolls = 0
}

// MarkRejected records a trigger the build server refused, suppressing
// further attempts for the same commit.
func (s *PullRequestState) MarkRejected(commit string, now time.Time) {
	s.RejectedCommit = commit
	s.LastUpdated = now
}

// UpdateBuildStatus records a refreshed build outcome.
func (s *PullRequestState) UpdateBuildStatus(status ci.BuildStatus, buildID string, now time.Time) {
	s.LastBuildStatus = status
	if buildID != "" {
		s.LastBuildID = buildID
	}
	s.LastUpdated = now
}

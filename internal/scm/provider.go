package scm

import (
	"context"
)

// PullRequest is one open pull request as reported by the source-control
// host. Values are sourced fresh on every poll and never mutated; a new
// value replaces the old one.
type PullRequest struct {
	// ID is stable and unique within a repository.
	ID int

	// HeadCommit is the commit hash at the tip of the source branch.
	HeadCommit string

	SourceBranch string
	TargetBranch string

	Title  string
	Author Author
	WebURL string
}

// Author identifies the pull request author.
type Author struct {
	Name  string
	Email string
}

// Provider lists open pull requests for a repository.
//
// Implementations exist per source-control backend (Bitbucket Server today).
// Errors returned must be classifiable with IsTransient, IsAuth and
// IsNotFound so callers can distinguish retryable failures from fatal ones.
type Provider interface {
	ListOpenPullRequests(ctx context.Context, project, repo string) ([]PullRequest, error)
}

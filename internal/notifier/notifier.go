package notifier

import (
	"context"
	"fmt"
	"strings"

	"prwatch/internal/ci"
	"prwatch/internal/config"
	"prwatch/internal/scm"
	"prwatch/internal/scm/bitbucket"
	"prwatch/pkg/logging"
)

// Client is the slice of the Bitbucket API the notifier needs.
type Client interface {
	ListOwnComments(ctx context.Context, project, repo string, prID int) ([]bitbucket.Comment, error)
	PostComment(ctx context.Context, project, repo string, prID int, text string) (bitbucket.Comment, error)
	EditComment(ctx context.Context, project, repo string, prID int, existing bitbucket.Comment, text string) (bitbucket.Comment, error)
	PostBuildStatus(ctx context.Context, commit string, status bitbucket.BuildStatus) error
}

// Notifier pushes build transitions back to Bitbucket as a pull request
// comment and a commit build status. One comment per commit is maintained:
// the queued comment is edited in place when the build finishes.
type Notifier struct {
	client Client

	// buildURL renders a web link for a build id when the CI provider did
	// not supply one. May be nil.
	buildURL func(buildID string) string
}

// New creates a notifier. buildURL may be nil when no link can be derived
// from a build id alone.
func New(client Client, buildURL func(buildID string) string) *Notifier {
	return &Notifier{client: client, buildURL: buildURL}
}

// NotifyBuild posts the build transition for a commit: first the commit
// build status, then the pull request comment.
func (n *Notifier) NotifyBuild(ctx context.Context, repo config.RepositoryConfig, pr scm.PullRequest, commit string, result ci.BuildResult) error {
	state, known := buildState(result.Status)
	if !known {
		return nil
	}

	url := result.WebURL
	if url == "" && n.buildURL != nil {
		url = n.buildURL(result.ID)
	}

	status := bitbucket.BuildStatus{
		State:       state,
		Key:         repo.BuildConfigID,
		Name:        repo.BuildConfigID,
		URL:         url,
		Description: description(result.Status),
	}
	if err := n.client.PostBuildStatus(ctx, commit, status); err != nil {
		return err
	}

	return n.upsertComment(ctx, repo, pr.ID, commit, commentText(result.Status, commit, url))
}

// upsertComment maintains the single status comment for a commit. An
// identical comment is left alone, an older comment mentioning the commit is
// edited, otherwise a new comment is posted.
func (n *Notifier) upsertComment(ctx context.Context, repo config.RepositoryConfig, prID int, commit, text string) error {
	comments, err := n.client.ListOwnComments(ctx, repo.Project, repo.Repo, prID)
	if err != nil {
		return err
	}

	for _, c := range comments {
		if c.Text == text {
			return nil
		}
	}

	for _, c := range comments {
		if strings.Contains(c.Text, commit) {
			if _, err := n.client.EditComment(ctx, repo.Project, repo.Repo, prID, c, text); err != nil {
				return err
			}
			logging.Debug("Notifier", "Updated status comment on %s #%d for commit %s", repo.Name(), prID, commit)
			return nil
		}
	}

	if _, err := n.client.PostComment(ctx, repo.Project, repo.Repo, prID, text); err != nil {
		return err
	}
	logging.Debug("Notifier", "Posted status comment on %s #%d for commit %s", repo.Name(), prID, commit)
	return nil
}

// buildState maps the normalized status onto Bitbucket's vocabulary. The
// second return is false for statuses Bitbucket has no representation for.
func buildState(status ci.BuildStatus) (bitbucket.BuildState, bool) {
	switch status {
	case ci.StatusPending, ci.StatusRunning:
		return bitbucket.BuildStateInProgress, true
	case ci.StatusSuccess:
		return bitbucket.BuildStateSuccessful, true
	case ci.StatusFailed:
		return bitbucket.BuildStateFailed, true
	default:
		return "", false
	}
}

func description(status ci.BuildStatus) string {
	switch status {
	case ci.StatusPending:
		return "Build queued"
	case ci.StatusRunning:
		return "Build running"
	case ci.StatusSuccess:
		return "Build successful"
	default:
		return "Build failed"
	}
}

// commentText renders the status comment for a commit. The commit hash in
// the text is what lets a later transition find and edit the comment.
func commentText(status ci.BuildStatus, commit, url string) string {
	link := "Build"
	if url != "" {
		link = fmt.Sprintf("[Build](%s)", url)
	}

	switch status {
	case ci.StatusPending:
		return fmt.Sprintf("⏳ %s for commit %s queued", link, commit)
	case ci.StatusRunning:
		return fmt.Sprintf("⏳ %s for commit %s is running", link, commit)
	case ci.StatusSuccess:
		return fmt.Sprintf("✔️ %s for commit %s is **successful**", link, commit)
	default:
		return fmt.Sprintf("❌ %s for commit %s has **failed**", link, commit)
	}
}

package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// BuildState is the state vocabulary of the Bitbucket commit build-status API.
type BuildState string

const (
	BuildStateInProgress BuildState = "INPROGRESS"
	BuildStateSuccessful BuildState = "SUCCESSFUL"
	BuildStateFailed     BuildState = "FAILED"
)

// BuildStatus is a build result attached to a commit. Key must be stable per
// build configuration; Bitbucket replaces an earlier status with the same key.
type BuildStatus struct {
	State       BuildState `json:"state"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
}

// PostBuildStatus attaches a build status to a commit. The status shows up on
// every pull request whose head is that commit.
func (c *Client) PostBuildStatus(ctx context.Context, commit string, status BuildStatus) error {
	endpoint := fmt.Sprintf("%s/build-status/1.0/commits/%s", c.baseURL, url.PathEscape(commit))

	if err := c.send(ctx, http.MethodPost, endpoint, status, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("posting build status for commit %s: %w", commit, err)
	}
	return nil
}

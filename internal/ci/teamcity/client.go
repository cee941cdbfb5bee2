// Package teamcity implements the build provider for TeamCity's REST API.
package teamcity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"prwatch/internal/ci"
	"prwatch/pkg/logging"
	pkgstrings "prwatch/pkg/strings"
)

const defaultTimeout = 30 * time.Second

// Client talks to one TeamCity server using token auth.
// It implements ci.Provider.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a TeamCity client. baseURL is the server root, e.g.
// https://teamcity.example.com.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type buildList struct {
	Count  int     `json:"count"`
	Builds []build `json:"build"`
}

type build struct {
	ID     int    `json:"id"`
	State  string `json:"state"`
	Status string `json:"status"`
	WebURL string `json:"webUrl"`
}

type triggerRequest struct {
	BranchName string       `json:"branchName,omitempty"`
	BuildType  buildTypeRef `json:"buildType"`
	Comment    *comment     `json:"comment,omitempty"`
	Revisions  *revisions   `json:"revisions,omitempty"`
}

type buildTypeRef struct {
	ID string `json:"id"`
}

type comment struct {
	Text string `json:"text"`
}

type revisions struct {
	Revision []revision `json:"revision"`
}

type revision struct {
	Version string `json:"version"`
}

// GetLatestBuildStatus implements ci.Provider. It asks for the newest build
// of the configuration whose revision is the given commit; running and queued
// builds are included so a freshly triggered build is visible immediately.
func (c *Client) GetLatestBuildStatus(ctx context.Context, buildConfigID, commit string) (*ci.BuildResult, error) {
	locator := fmt.Sprintf("buildType:%s,revision:%s,running:any,state:any,count:1", buildConfigID, commit)
	endpoint := fmt.Sprintf("%s/app/rest/builds?locator=%s", c.baseURL, url.QueryEscape(locator))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ci.TransientError{Op: "teamcity list builds", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown revision: the commit has never been built.
		return nil, nil
	}
	if err := classifyQueryStatus(resp, "teamcity list builds"); err != nil {
		return nil, err
	}

	var list buildList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding build list: %w", err)
	}
	if list.Count == 0 || len(list.Builds) == 0 {
		return nil, nil
	}

	b := list.Builds[0]
	return &ci.BuildResult{
		ID:     strconv.Itoa(b.ID),
		Status: mapStatus(b.State, b.Status),
		WebURL: b.WebURL,
	}, nil
}

// TriggerBuild implements ci.Provider. It queues a build of the configuration
// at the given branch and commit.
func (c *Client) TriggerBuild(ctx context.Context, buildConfigID, branch, commit string) (string, error) {
	body := triggerRequest{
		BranchName: branch,
		BuildType:  buildTypeRef{ID: buildConfigID},
		Comment:    &comment{Text: fmt.Sprintf("prwatch: build for commit %s", commit)},
	}
	if commit != "" {
		body.Revisions = &revisions{Revision: []revision{{Version: commit}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding trigger request: %w", err)
	}

	endpoint := c.baseURL + "/app/rest/buildQueue"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ci.TransientError{Op: "teamcity trigger build", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Fall through to decode the queued build.
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &ci.TransientError{Op: "teamcity trigger build", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		// 4xx: disabled configuration, bad branch, quota, bad credentials.
		return "", &ci.RejectedError{Op: "teamcity trigger build", Reason: readReason(resp)}
	}

	var queued build
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return "", fmt.Errorf("decoding queued build: %w", err)
	}

	logging.Debug("TeamCity", "Queued build %d for %s at %s", queued.ID, buildConfigID, commit)
	return strconv.Itoa(queued.ID), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// classifyQueryStatus maps a status query response to the ci error taxonomy.
// Queries have no rejected outcome; anything non-retryable is a plain error.
func classifyQueryStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &ci.TransientError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
}

// readReason extracts a short failure description from an error response.
func readReason(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	reason := pkgstrings.Truncate(string(data), pkgstrings.DefaultReasonMaxLen)
	if err != nil || reason == "" {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, reason)
}

// mapStatus normalizes TeamCity's state/status pair.
func mapStatus(state, status string) ci.BuildStatus {
	switch strings.ToLower(state) {
	case "queued":
		return ci.StatusPending
	case "running":
		return ci.StatusRunning
	case "finished":
		if strings.EqualFold(status, "SUCCESS") {
			return ci.StatusSuccess
		}
		return ci.StatusFailed
	default:
		return ci.StatusUnknown
	}
}

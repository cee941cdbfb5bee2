// Package bitbucket implements the source-control provider for Bitbucket
// Server (the self-hosted REST API, not Bitbucket Cloud).
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"prwatch/internal/scm"
	"prwatch/pkg/logging"
)

const defaultTimeout = 30 * time.Second

// Client talks to one Bitbucket Server instance using basic auth.
// It implements scm.Provider.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient creates a Bitbucket Server client. baseURL is the REST root,
// e.g. https://bitbucket.example.com/rest.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: defaultTimeout},
	}
}

// pagedResponse is the envelope Bitbucket Server wraps every listing in.
type pagedResponse[T any] struct {
	Size       int  `json:"size"`
	Limit      int  `json:"limit"`
	IsLastPage bool `json:"isLastPage"`
	Values     []T  `json:"values"`
	Start      int  `json:"start"`
	// NextPageStart is absent on the last page.
	NextPageStart int `json:"nextPageStart"`
}

type pullRequest struct {
	ID      int          `json:"id"`
	Version int          `json:"version"`
	Title   string       `json:"title"`
	State   string       `json:"state"`
	Open    bool         `json:"open"`
	FromRef gitReference `json:"fromRef"`
	ToRef   gitReference `json:"toRef"`
	Author  participant  `json:"author"`
	Links   linkMap      `json:"links"`
}

type gitReference struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	LatestCommit string `json:"latestCommit"`
}

type participant struct {
	User user `json:"user"`
}

type user struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

type linkMap map[string][]link

type link struct {
	Href string `json:"href"`
}

func (l linkMap) self() string {
	if links, ok := l["self"]; ok && len(links) > 0 {
		return links[0].Href
	}
	return ""
}

// ListOpenPullRequests implements scm.Provider. It follows pagination until
// the last page so large repositories are listed completely.
func (c *Client) ListOpenPullRequests(ctx context.Context, project, repo string) ([]scm.PullRequest, error) {
	repoName := project + "/" + repo
	endpoint := fmt.Sprintf("%s/api/latest/projects/%s/repos/%s/pull-requests",
		c.baseURL, url.PathEscape(project), url.PathEscape(repo))

	var result []scm.PullRequest
	start := 0
	for {
		pageURL := fmt.Sprintf("%s?state=OPEN&start=%d", endpoint, start)

		var page pagedResponse[pullRequest]
		if err := c.getJSON(ctx, pageURL, repoName, &page); err != nil {
			return nil, err
		}

		for _, pr := range page.Values {
			result = append(result, scm.PullRequest{
				ID:           pr.ID,
				HeadCommit:   pr.FromRef.LatestCommit,
				SourceBranch: pr.FromRef.DisplayID,
				TargetBranch: pr.ToRef.DisplayID,
				Title:        pr.Title,
				Author: scm.Author{
					Name:  pr.Author.User.DisplayName,
					Email: pr.Author.User.EmailAddress,
				},
				WebURL: pr.Links.self(),
			})
		}

		if page.IsLastPage {
			break
		}
		start = page.NextPageStart
	}

	logging.Debug("Bitbucket", "Listed %d open pull requests for %s", len(result), repoName)
	return result, nil
}

// getJSON performs an authenticated GET and decodes the JSON response,
// classifying failures into the scm error taxonomy.
func (c *Client) getJSON(ctx context.Context, rawURL, repoName string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &scm.TransientError{Op: "bitbucket GET " + rawURL, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "bitbucket GET "+rawURL, repoName); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}

// send performs an authenticated request with a JSON body. Used by the
// comment and build-status endpoints.
func (c *Client) send(ctx context.Context, method, rawURL string, body interface{}, expect int, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &scm.TransientError{Op: method + " " + rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != expect {
		if err := classifyStatus(resp.StatusCode, method+" "+rawURL, ""); err != nil {
			return err
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}

// classifyStatus maps an HTTP status to the scm error taxonomy. A nil return
// means the status is 2xx or not classifiable here.
func classifyStatus(status int, op, repoName string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &scm.AuthError{Op: op, StatusCode: status}
	case status == http.StatusNotFound && repoName != "":
		return &scm.NotFoundError{Repository: repoName}
	case status == http.StatusTooManyRequests || status >= 500:
		return &scm.TransientError{Op: op, Err: fmt.Errorf("HTTP %d", status)}
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}

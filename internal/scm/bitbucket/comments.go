package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Comment is a pull request comment authored by the configured user.
type Comment struct {
	ID      int    `json:"id"`
	Version int    `json:"version"`
	Text    string `json:"text"`
}

type activity struct {
	ID      int      `json:"id"`
	Action  string   `json:"action"`
	User    user     `json:"user"`
	Comment *comment `json:"comment"`
}

type comment struct {
	ID      int    `json:"id"`
	Version int    `json:"version"`
	Text    string `json:"text"`
	Author  user   `json:"author"`
}

type commentSubmit struct {
	Text string `json:"text"`
}

type commentEdit struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
}

// ListOwnComments returns the comments on a pull request that were written by
// the authenticated user. Bitbucket has no direct comment listing, so this
// walks the COMMENT activities of the pull request.
func (c *Client) ListOwnComments(ctx context.Context, project, repo string, prID int) ([]Comment, error) {
	endpoint := fmt.Sprintf("%s/api/latest/projects/%s/repos/%s/pull-requests/%d/activities?fromType=COMMENT",
		c.baseURL, url.PathEscape(project), url.PathEscape(repo), prID)

	var result []Comment
	start := 0
	for {
		pageURL := fmt.Sprintf("%s&start=%d", endpoint, start)

		var page pagedResponse[activity]
		if err := c.getJSON(ctx, pageURL, "", &page); err != nil {
			return nil, err
		}

		for _, act := range page.Values {
			if act.Comment == nil || act.Comment.Author.Name != c.username {
				continue
			}
			result = append(result, Comment{
				ID:      act.Comment.ID,
				Version: act.Comment.Version,
				Text:    act.Comment.Text,
			})
		}

		if page.IsLastPage {
			break
		}
		start = page.NextPageStart
	}

	return result, nil
}

// PostComment adds a new comment to a pull request.
func (c *Client) PostComment(ctx context.Context, project, repo string, prID int, text string) (Comment, error) {
	endpoint := fmt.Sprintf("%s/api/latest/projects/%s/repos/%s/pull-requests/%d/comments",
		c.baseURL, url.PathEscape(project), url.PathEscape(repo), prID)

	var posted Comment
	err := c.send(ctx, http.MethodPost, endpoint, commentSubmit{Text: text}, http.StatusCreated, &posted)
	if err != nil {
		return Comment{}, fmt.Errorf("posting comment on PR %d: %w", prID, err)
	}
	return posted, nil
}

// EditComment replaces the text of an existing comment. The comment's current
// version must be supplied or Bitbucket rejects the edit as conflicting.
func (c *Client) EditComment(ctx context.Context, project, repo string, prID int, existing Comment, text string) (Comment, error) {
	endpoint := fmt.Sprintf("%s/api/latest/projects/%s/repos/%s/pull-requests/%d/comments/%d",
		c.baseURL, url.PathEscape(project), url.PathEscape(repo), prID, existing.ID)

	var edited Comment
	err := c.send(ctx, http.MethodPut, endpoint, commentEdit{Text: text, Version: existing.Version}, http.StatusOK, &edited)
	if err != nil {
		return Comment{}, fmt.Errorf("editing comment %d on PR %d: %w", existing.ID, prID, err)
	}
	return edited, nil
}

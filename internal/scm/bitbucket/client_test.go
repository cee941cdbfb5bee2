package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"prwatch/internal/scm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prJSON(id int, commit, branch string) map[string]interface{} {
	return map[string]interface{}{
		"id":    id,
		"title": fmt.Sprintf("PR %d", id),
		"state": "OPEN",
		"open":  true,
		"fromRef": map[string]interface{}{
			"id":           "refs/heads/" + branch,
			"displayId":    branch,
			"latestCommit": commit,
		},
		"toRef": map[string]interface{}{
			"id":        "refs/heads/main",
			"displayId": "main",
		},
		"author": map[string]interface{}{
			"user": map[string]interface{}{
				"name":         "jdoe",
				"displayName":  "Jane Doe",
				"emailAddress": "jdoe@example.com",
			},
		},
		"links": map[string]interface{}{
			"self": []map[string]interface{}{
				{"href": fmt.Sprintf("https://bitbucket.example.com/pr/%d", id)},
			},
		},
	}
}

func TestListOpenPullRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest/projects/PLAT/repos/billing/pull-requests", r.URL.Path)
		assert.Equal(t, "OPEN", r.URL.Query().Get("state"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ci-bot", user)
		assert.Equal(t, "hunter2", pass)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"size":       2,
			"isLastPage": true,
			"values": []interface{}{
				prJSON(42, "aaa111", "feature/login"),
				prJSON(43, "bbb222", "bugfix/crash"),
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "ci-bot", "hunter2")
	prs, err := c.ListOpenPullRequests(context.Background(), "PLAT", "billing")
	require.NoError(t, err)
	require.Len(t, prs, 2)

	assert.Equal(t, 42, prs[0].ID)
	assert.Equal(t, "aaa111", prs[0].HeadCommit)
	assert.Equal(t, "feature/login", prs[0].SourceBranch)
	assert.Equal(t, "main", prs[0].TargetBranch)
	assert.Equal(t, "Jane Doe", prs[0].Author.Name)
	assert.Equal(t, "https://bitbucket.example.com/pr/42", prs[0].WebURL)
}

func TestListOpenPullRequests_FollowsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("start") {
		case "0":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"size":          1,
				"isLastPage":    false,
				"nextPageStart": 1,
				"values":        []interface{}{prJSON(1, "c1", "feature/a")},
			})
		case "1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"size":       1,
				"isLastPage": true,
				"values":     []interface{}{prJSON(2, "c2", "feature/b")},
			})
		default:
			t.Errorf("unexpected start %q", r.URL.Query().Get("start"))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "ci-bot", "hunter2")
	prs, err := c.ListOpenPullRequests(context.Background(), "PLAT", "billing")
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 1, prs[0].ID)
	assert.Equal(t, 2, prs[1].ID)
}

func TestListOpenPullRequests_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, scm.IsAuth},
		{"forbidden", http.StatusForbidden, scm.IsAuth},
		{"not found", http.StatusNotFound, scm.IsNotFound},
		{"server error", http.StatusInternalServerError, scm.IsTransient},
		{"bad gateway", http.StatusBadGateway, scm.IsTransient},
		{"rate limited", http.StatusTooManyRequests, scm.IsTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
			}))
			defer server.Close()

			c := NewClient(server.URL, "ci-bot", "hunter2")
			_, err := c.ListOpenPullRequests(context.Background(), "PLAT", "billing")
			require.Error(t, err)
			assert.True(t, test.check(err), "got %v", err)
		})
	}
}

func TestListOpenPullRequests_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Closed on purpose.

	c := NewClient(server.URL, "ci-bot", "hunter2")
	_, err := c.ListOpenPullRequests(context.Background(), "PLAT", "billing")
	require.Error(t, err)
	assert.True(t, scm.IsTransient(err))
}

func TestListOwnComments_FiltersByAuthor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest/projects/PLAT/repos/billing/pull-requests/42/activities", r.URL.Path)
		assert.Equal(t, "COMMENT", r.URL.Query().Get("fromType"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"isLastPage": true,
			"values": []interface{}{
				map[string]interface{}{
					"id":     1,
					"action": "COMMENTED",
					"comment": map[string]interface{}{
						"id": 10, "version": 0, "text": "from the bot",
						"author": map[string]interface{}{"name": "ci-bot"},
					},
				},
				map[string]interface{}{
					"id":     2,
					"action": "COMMENTED",
					"comment": map[string]interface{}{
						"id": 11, "version": 2, "text": "from a human",
						"author": map[string]interface{}{"name": "jdoe"},
					},
				},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "ci-bot", "hunter2")
	comments, err := c.ListOwnComments(context.Background(), "PLAT", "billing", 42)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, 10, comments[0].ID)
	assert.Equal(t, "from the bot", comments[0].Text)
}

func TestPostAndEditComment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			assert.Equal(t, "/api/latest/projects/PLAT/repos/billing/pull-requests/42/comments", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "build queued", body["text"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{"id": 10, "version": 0, "text": body["text"]})

		case r.Method == http.MethodPut:
			assert.Equal(t, "/api/latest/projects/PLAT/repos/billing/pull-requests/42/comments/10", r.URL.Path)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 0, body["version"])
			json.NewEncoder(w).Encode(map[string]interface{}{"id": 10, "version": 1, "text": body["text"]})

		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "ci-bot", "hunter2")

	posted, err := c.PostComment(context.Background(), "PLAT", "billing", 42, "build queued")
	require.NoError(t, err)
	assert.Equal(t, 10, posted.ID)

	edited, err := c.EditComment(context.Background(), "PLAT", "billing", 42, posted, "build passed")
	require.NoError(t, err)
	assert.Equal(t, 1, edited.Version)
}

func TestPostBuildStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/build-status/1.0/commits/aaa111", r.URL.Path)

		var status BuildStatus
		require.NoError(t, json.NewDecoder(r.Body).Decode(&status))
		assert.Equal(t, BuildStateSuccessful, status.State)
		assert.Equal(t, "Billing_PullRequests", status.Key)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "ci-bot", "hunter2")
	err := c.PostBuildStatus(context.Background(), "aaa111", BuildStatus{
		State: BuildStateSuccessful,
		Key:   "Billing_PullRequests",
		Name:  "42",
		URL:   "https://teamcity.example.com/build/7",
	})
	require.NoError(t, err)
}

// Package forge talks to the GitHub REST API for the two remote
// operations the agent needs: listing accessible repositories and
// opening pull requests.
package forge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/codelink-dev/codelink/internal/protocol"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// repoListLimit caps the repository listing.
const repoListLimit = 100

// Client is a minimal GitHub REST v3 client. The credential may be
// swapped by the config watcher while request goroutines are in flight,
// so baseURL and token live behind a mutex.
type Client struct {
	mu      sync.Mutex
	baseURL string
	token   string

	http *http.Client
}

// NewClient creates a client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL points the client at a different API host (tests, GHE).
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

// SetToken swaps the credential (config hot-reload).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// apiError is GitHub's error body shape.
type apiError struct {
	Message string `json:"message"`
}

// do runs one API request and decodes a 2xx response into out.
func (c *Client) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	c.mu.Lock()
	baseURL, token := c.baseURL, c.token
	c.mu.Unlock()

	req, err := http.NewRequest(method, baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("forge returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("forge returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode forge response: %w", err)
		}
	}
	return nil
}

// repoJSON is the subset of GitHub's repository object we project.
type repoJSON struct {
	ID            int64   `json:"id"`
	FullName      string  `json:"full_name"`
	Description   *string `json:"description"`
	DefaultBranch string  `json:"default_branch"`
	Language      *string `json:"language"`
	Private       bool    `json:"private"`
	UpdatedAt     string  `json:"updated_at"`
}

// ListRepos returns the repositories accessible to the credential,
// sorted by last update, capped at 100.
func (c *Client) ListRepos() ([]protocol.Repository, error) {
	var raw []repoJSON
	path := fmt.Sprintf("/user/repos?sort=updated&per_page=%d", repoListLimit)
	if err := c.do(http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	repos := make([]protocol.Repository, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, protocol.Repository{
			ID:            r.ID,
			FullName:      r.FullName,
			Description:   r.Description,
			DefaultBranch: r.DefaultBranch,
			Language:      r.Language,
			Private:       r.Private,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return repos, nil
}

// PullRequest is the result of CreatePullRequest.
type PullRequest struct {
	URL   string
	Title string
}

// CreatePullRequest opens a PR from head against base in fullName.
func (c *Client) CreatePullRequest(fullName, title, body, head, base string) (*PullRequest, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}

	var created struct {
		HTMLURL string `json:"html_url"`
		Title   string `json:"title"`
	}
	if err := c.do(http.MethodPost, "/repos/"+fullName+"/pulls", payload, &created); err != nil {
		return nil, err
	}

	return &PullRequest{URL: created.HTMLURL, Title: created.Title}, nil
}

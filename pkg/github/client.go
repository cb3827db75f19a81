// Package github is a thin client for the GitHub REST API, covering the
// calls the repository picker needs.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// Repo is a repository as returned by GET /user/repos, passed through
// largely as-is.
type Repo struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	HTMLURL         string `json:"html_url"`
	Language        string `json:"language"`
	StargazersCount int    `json:"stargazers_count"`
	UpdatedAt       string `json:"updated_at"`
	Owner           Owner  `json:"owner"`
}

// Owner identifies the account a repository belongs to.
type Owner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Commit is a single entry from the repository commits listing.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	HTMLURL string `json:"html_url"`
}

// Profile is the signed-in user as returned by GET /user.
type Profile struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// APIError represents a non-2xx GitHub response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: %d %s", e.Status, e.Message)
}

// Client calls the GitHub REST API with a caller-supplied bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a GitHub client. An empty baseURL targets the public
// API; tests point it at a local server.
func NewClient(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ListRepositories returns the token owner's repositories, most recently
// updated first.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]Repo, error) {
	var repos []Repo
	err := c.get(ctx, token, "/user/repos?per_page=100&sort=updated", &repos)
	return repos, err
}

// ListCommits returns one page of commits for a repository.
func (c *Client) ListCommits(ctx context.Context, token, owner, repo string, page, perPage int) ([]Commit, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 100
	}
	path := fmt.Sprintf("/repos/%s/%s/commits?per_page=%d&page=%d", owner, repo, perPage, page)
	var commits []Commit
	err := c.get(ctx, token, path, &commits)
	return commits, err
}

// UserProfile returns the profile behind the token.
func (c *Client) UserProfile(ctx context.Context, token string) (Profile, error) {
	var profile Profile
	err := c.get(ctx, token, "/user", &profile)
	return profile, err
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

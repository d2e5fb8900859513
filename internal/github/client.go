// Package github wraps the GitHub REST API operations the pipeline depends on:
// repository metadata, readme and content reads, and issue creation.
package github

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v68/github"
)

// Entry is one item of a directory listing.
type Entry struct {
	Type string // "file" or "dir"
	Path string
}

// Client provides read access to hosted repositories and issue creation.
type Client struct {
	gh *gogithub.Client
}

// NewClient creates a GitHub client. An empty token yields anonymous,
// rate-limited access.
func NewClient(token string) *Client {
	gh := gogithub.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &Client{gh: gh}
}

var (
	urlRefPattern   = regexp.MustCompile(`github\.com[:/]([^/\s]+)/([^/\s]+)`)
	shortRefPattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)$`)
)

// ParseRef extracts owner and name from a GitHub URL or an owner/name
// shorthand. Returns ok=false for local paths and anything else that does not
// look like a hosted repository reference.
func ParseRef(ref string) (owner, name string, ok bool) {
	if m := urlRefPattern.FindStringSubmatch(ref); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git"), true
	}
	if m := shortRefPattern.FindStringSubmatch(ref); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

// splitRef splits a normalized "owner/name" reference.
func splitRef(repoRef string) (string, string, error) {
	owner, name, ok := strings.Cut(repoRef, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository reference: %s", repoRef)
	}
	return owner, name, nil
}

// LastPushed returns the repository's last-push timestamp.
func (c *Client) LastPushed(ctx context.Context, owner, name string) (time.Time, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch repository %s/%s: %w", owner, name, err)
	}
	pushed := repo.GetPushedAt()
	if pushed.IsZero() {
		return time.Time{}, fmt.Errorf("repository %s/%s has no push timestamp", owner, name)
	}
	return pushed.Time, nil
}

// Readme returns the decoded readme content for a normalized "owner/name" ref.
func (c *Client) Readme(ctx context.Context, repoRef string) (string, error) {
	owner, name, err := splitRef(repoRef)
	if err != nil {
		return "", err
	}
	readme, _, err := c.gh.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch readme for %s: %w", repoRef, err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode readme for %s: %w", repoRef, err)
	}
	return content, nil
}

// ListContents lists one directory of a repository. An empty path lists the root.
func (c *Client) ListContents(ctx context.Context, repoRef, path string) ([]Entry, error) {
	owner, name, err := splitRef(repoRef)
	if err != nil {
		return nil, err
	}
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q in %s: %w", path, repoRef, err)
	}
	if file != nil {
		return []Entry{{Type: "file", Path: file.GetPath()}}, nil
	}
	entries := make([]Entry, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, Entry{Type: item.GetType(), Path: item.GetPath()})
	}
	return entries, nil
}

// FileContent returns the decoded text content of one file.
func (c *Client) FileContent(ctx context.Context, repoRef, path string) (string, error) {
	owner, name, err := splitRef(repoRef)
	if err != nil {
		return "", err
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %q in %s: %w", path, repoRef, err)
	}
	if file == nil {
		return "", fmt.Errorf("%q in %s is a directory, not a file", path, repoRef)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %q in %s: %w", path, repoRef, err)
	}
	return content, nil
}

// CreateIssue files a tracking issue on the repository and returns its URL.
// There is no retry here: retrying issue creation is the caller's call.
func (c *Client) CreateIssue(ctx context.Context, repoRef, title, body string) (string, error) {
	owner, name, err := splitRef(repoRef)
	if err != nil {
		return "", err
	}
	issue, _, err := c.gh.Issues.Create(ctx, owner, name, &gogithub.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create issue on %s: %w", repoRef, err)
	}
	return issue.GetHTMLURL(), nil
}

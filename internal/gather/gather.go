// Package gather implements the read-only context tools exposed to the
// research loop. Failures surface as descriptive result strings rather than
// errors so that one bad lookup cannot abort a research cycle.
package gather

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/github"
)

// Limit file content fed back into the model as a tool result.
const maxFileSize = 10000

// ContentsAPI is the subset of the GitHub client the gatherer needs.
type ContentsAPI interface {
	Readme(ctx context.Context, repoRef string) (string, error)
	ListContents(ctx context.Context, repoRef, path string) ([]github.Entry, error)
	FileContent(ctx context.Context, repoRef, path string) (string, error)
}

// Gatherer fetches auxiliary repository context on demand. It is stateless;
// every call is independent.
type Gatherer struct {
	api    ContentsAPI
	logger *zap.Logger
}

// New creates a Gatherer backed by the given contents API.
func New(api ContentsAPI, logger *zap.Logger) *Gatherer {
	return &Gatherer{api: api, logger: logger}
}

// Readme returns the repository readme for prompt assembly. Unlike the tool
// operations this returns a real error; the caller decides how to degrade.
func (g *Gatherer) Readme(ctx context.Context, repoRef string) (string, error) {
	if !isRemote(repoRef) {
		return "", fmt.Errorf("readme fetch is only supported for hosted repositories")
	}
	return g.api.Readme(ctx, repoRef)
}

// ListFiles lists one directory as a tool-result string, one entry per line.
func (g *Gatherer) ListFiles(ctx context.Context, repoRef, path string) string {
	if !isRemote(repoRef) {
		return "local repositories cannot be browsed; propose a change based on the information you already have"
	}

	entries, err := g.api.ListContents(ctx, repoRef, path)
	if err != nil {
		g.logger.Warn("list_files failed", zap.String("repo", repoRef), zap.String("path", path), zap.Error(err))
		return fmt.Sprintf("could not list %q: %v", path, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("directory %q is empty", path)
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%-4s %s\n", e.Type, e.Path)
	}
	return sb.String()
}

// GetFile returns the decoded content of one file as a tool-result string,
// truncated to a bounded size.
func (g *Gatherer) GetFile(ctx context.Context, repoRef, path string) string {
	if !isRemote(repoRef) {
		return "local repositories cannot be browsed; propose a change based on the information you already have"
	}

	content, err := g.api.FileContent(ctx, repoRef, path)
	if err != nil {
		g.logger.Warn("get_file failed", zap.String("repo", repoRef), zap.String("path", path), zap.Error(err))
		return fmt.Sprintf("could not read %q: %v", path, err)
	}
	if len(content) > maxFileSize {
		content = content[:maxFileSize] + "\n... (truncated)"
	}
	return content
}

// isRemote distinguishes normalized "owner/name" refs from local paths.
func isRemote(repoRef string) bool {
	_, _, ok := github.ParseRef(repoRef)
	return ok
}

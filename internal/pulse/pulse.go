// Package pulse classifies repositories as active or stagnant by resolving a
// repository reference to its last-activity timestamp.
package pulse

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"

	"github.com/nashy3k/momentum/internal/github"
)

// Result is the outcome of a successful pulse check.
type Result struct {
	Ref          string // Normalized reference: "owner/name" or an absolute local path
	Remote       bool
	LastActivity time.Time
	DaysSince    float64
	Stagnant     bool
}

// CheckError wraps the underlying failure of a pulse check. A failed check is
// neither active nor stagnant; callers must treat it as a distinct outcome.
type CheckError struct {
	Ref string
	Err error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("pulse check failed for %s: %v", e.Ref, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// RemoteLookup resolves the last-push timestamp of a hosted repository.
type RemoteLookup interface {
	LastPushed(ctx context.Context, owner, name string) (time.Time, error)
}

// localLastCommit is a package-level var to allow test injection.
var localLastCommit = func(path string) (time.Time, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve HEAD at %s: %w", path, err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read HEAD commit at %s: %w", path, err)
	}
	return commit.Committer.When, nil
}

// Checker resolves references to a last-activity timestamp and classifies them
// against a stagnation threshold in days.
type Checker struct {
	remote    RemoteLookup
	threshold float64
	now       func() time.Time
}

// NewChecker creates a Checker. thresholdDays is the strict boundary: a repo
// is stagnant only when daysSince exceeds it.
func NewChecker(remote RemoteLookup, thresholdDays float64) *Checker {
	return &Checker{remote: remote, threshold: thresholdDays, now: time.Now}
}

// NormalizeRef maps any accepted reference to its canonical store key:
// "owner/name" for hosted repositories, an absolute path for local ones.
func NormalizeRef(ref string) string {
	if owner, name, ok := github.ParseRef(ref); ok {
		return owner + "/" + name
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return ref
	}
	return abs
}

// Check resolves the reference and classifies it. Hosted references go through
// the remote lookup; everything else is treated as a local working copy.
func (c *Checker) Check(ctx context.Context, ref string) (*Result, error) {
	var (
		last   time.Time
		remote bool
		err    error
	)

	normalized := NormalizeRef(ref)
	if owner, name, ok := github.ParseRef(ref); ok {
		remote = true
		last, err = c.remote.LastPushed(ctx, owner, name)
	} else {
		last, err = localLastCommit(normalized)
	}
	if err != nil {
		return nil, &CheckError{Ref: normalized, Err: err}
	}

	daysSince := c.now().Sub(last).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}

	return &Result{
		Ref:          normalized,
		Remote:       remote,
		LastActivity: last,
		DaysSince:    daysSince,
		Stagnant:     daysSince > c.threshold,
	}, nil
}

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store defines the contract for the durable collections. Repository writes
// are idempotent merge-upserts keyed by normalized reference; proposals and
// memories are append-only.
type Store interface {
	// UpsertRepository merge-writes a repository record. Unblocks is preserved
	// across upserts; use IncrementUnblocks to change it.
	UpsertRepository(ctx context.Context, rec RepositoryRecord) error

	// GetRepository returns the record for a normalized reference, or ErrNotFound.
	GetRepository(ctx context.Context, repoRef string) (*RepositoryRecord, error)

	// ListRepositories returns all tracked repositories, most recently updated first.
	ListRepositories(ctx context.Context) ([]RepositoryRecord, error)

	// DeleteRepository removes a repository from tracking.
	DeleteRepository(ctx context.Context, repoRef string) error

	// IncrementUnblocks bumps the unblock counter for a repository.
	IncrementUnblocks(ctx context.Context, repoRef string) error

	// AppendProposal appends one entry to the proposal history.
	AppendProposal(ctx context.Context, rec ProposalRecord) error

	// ProposalByCycle returns the history entry for a cycle id, or ErrNotFound.
	ProposalByCycle(ctx context.Context, cycleID string) (*ProposalRecord, error)

	// SetProposalStatus transitions a history entry (PENDING -> ACCEPTED/REJECTED).
	SetProposalStatus(ctx context.Context, cycleID string, status ProposalStatus) error

	// AddMemory persists one memory and returns its id.
	AddMemory(ctx context.Context, m Memory) (int64, error)

	// RecentMemories returns up to limit memories, newest first.
	RecentMemories(ctx context.Context, limit int) ([]Memory, error)

	// Close releases any resources held by the store.
	Close() error
}

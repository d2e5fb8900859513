// Package store provides the durable data model and storage backends for the
// three pipeline collections: repositories, proposals, and memories.
package store

import "time"

// Status is the lifecycle state of a tracked repository.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusStagnantPlanning Status = "STAGNANT_PLANNING"
	StatusComplete         Status = "COMPLETE"
	StatusFailed           Status = "FAILED"
)

// ProposalStatus tracks a proposal-history entry across the plan/execute boundary.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalAccepted ProposalStatus = "ACCEPTED"
	ProposalRejected ProposalStatus = "REJECTED"
)

// MemoryType classifies a persisted lesson.
type MemoryType string

const (
	MemoryPositive MemoryType = "positive"
	MemoryNegative MemoryType = "negative"
	MemoryTip      MemoryType = "tip"
)

// Proposal is a single candidate remediation produced by the research loop.
// Immutable once created; consumed exactly once by execute.
type Proposal struct {
	CycleID     string `json:"cycleId"`
	RepoRef     string `json:"repoRef"`
	TargetFile  string `json:"targetFile"`
	Description string `json:"description"`
	CodeChange  string `json:"codeChange"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Evaluation is the gatekeeper's verdict on one proposal attempt.
type Evaluation struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
	IsSafe    bool   `json:"is_safe"`
}

// RepositoryRecord is the per-repository state mutated by every cycle.
type RepositoryRecord struct {
	RepoRef        string            `json:"repoRef"`
	Status         Status            `json:"status"`
	DaysSince      float64           `json:"daysSince"`
	ActiveProposal *Proposal         `json:"activeProposal,omitempty"`
	LastEvaluation *Evaluation       `json:"lastEvaluation,omitempty"`
	Unblocks       int               `json:"unblocks"`
	IssueURL       string            `json:"issueUrl,omitempty"`
	CycleID        string            `json:"cycleId,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ProposalRecord is one append-only proposal-history entry.
type ProposalRecord struct {
	ID         int64
	Proposal   Proposal
	Evaluation *Evaluation
	Status     ProposalStatus
	CreatedAt  time.Time
}

// Memory is a persisted, embedded lesson. Append-only; never updated or
// deleted. The embedding may be empty when the embedding provider failed.
type Memory struct {
	ID        int64
	Text      string
	Type      MemoryType
	RepoRef   string
	Embedding []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/pulse"
	"github.com/nashy3k/momentum/internal/store"
)

// PulseChecker classifies a repository reference. Matches pulse.Checker.
type PulseChecker interface {
	Check(ctx context.Context, ref string) (*pulse.Result, error)
}

// Researcher runs one research cycle. Matches ResearchLoop.
type Researcher interface {
	Run(ctx context.Context, repoRef, cycleID, prompt string) (*LoopResult, error)
}

// MemoryService is the long-term memory surface the engine depends on.
// Matches memory.Service.
type MemoryService interface {
	Add(ctx context.Context, text string, typ store.MemoryType, repoRef string, metadata map[string]string) (int64, error)
	Search(ctx context.Context, query, repoRef string, k int) ([]store.Memory, error)
}

// Tracker files issues on the external tracker. Matches github.Client.
type Tracker interface {
	CreateIssue(ctx context.Context, repoRef, title, body string) (string, error)
}

// ReadmeFetcher retrieves a repository README for prompt context.
// Matches gather.Gatherer.
type ReadmeFetcher interface {
	Readme(ctx context.Context, repoRef string) (string, error)
}

// PlanOptions tunes a single planning pass.
type PlanOptions struct {
	// MaintenanceOnly records the pulse result without running research,
	// even when the repository is stagnant.
	MaintenanceOnly bool

	// Metadata is merged into the repository record alongside the pass.
	Metadata map[string]string
}

// PlanResult summarizes one pass over one repository, in the shape
// collaborators consume.
type PlanResult struct {
	RepoRef    string            `json:"repoRef"`
	Status     store.Status      `json:"status"`
	DaysSince  float64           `json:"daysSince"`
	CycleID    string            `json:"cycleId,omitempty"`
	Proposal   *store.Proposal   `json:"proposal,omitempty"`
	Evaluation *store.Evaluation `json:"evaluation,omitempty"`
	IssueURL   string            `json:"issueUrl,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Engine orchestrates the full cycle: pulse check, research, gatekeeping,
// persistence, and execution.
type Engine struct {
	pulse    PulseChecker
	loop     Researcher
	memories MemoryService
	store    store.Store
	tracker  Tracker
	readme   ReadmeFetcher
	recallK  int
	logger   *zap.Logger
}

// New creates an Engine.
func New(pc PulseChecker, loop Researcher, memories MemoryService, st store.Store, tracker Tracker, readme ReadmeFetcher, recallK int, logger *zap.Logger) *Engine {
	if recallK <= 0 {
		recallK = 3
	}
	return &Engine{
		pulse:    pc,
		loop:     loop,
		memories: memories,
		store:    st,
		tracker:  tracker,
		readme:   readme,
		recallK:  recallK,
		logger:   logger,
	}
}

// Plan runs the planning half of a cycle: pulse check, and for stagnant
// repositories a full research loop ending in a persisted pending proposal.
// Research failures are persisted as FAILED with a diagnostic; an active
// repository is a cheap pass that never touches the model.
func (e *Engine) Plan(ctx context.Context, ref string, opts PlanOptions) (*PlanResult, error) {
	normalized := pulse.NormalizeRef(ref)

	res, err := e.pulse.Check(ctx, ref)
	if err != nil {
		e.logger.Warn("pulse check failed", zap.String("repo", normalized), zap.Error(err))
		if perr := e.persistFailure(ctx, normalized, 0, "", opts.Metadata, err); perr != nil {
			return nil, perr
		}
		return &PlanResult{RepoRef: normalized, Status: store.StatusFailed, Error: err.Error()}, nil
	}

	if !res.Stagnant {
		rec := store.RepositoryRecord{
			RepoRef:   res.Ref,
			Status:    store.StatusActive,
			DaysSince: res.DaysSince,
			Metadata:  opts.Metadata,
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.store.UpsertRepository(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist repository state: %w", err)
		}
		return &PlanResult{RepoRef: res.Ref, Status: store.StatusActive, DaysSince: res.DaysSince}, nil
	}

	if opts.MaintenanceOnly {
		rec := store.RepositoryRecord{
			RepoRef:   res.Ref,
			Status:    store.StatusStagnantPlanning,
			DaysSince: res.DaysSince,
			Metadata:  opts.Metadata,
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.store.UpsertRepository(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist repository state: %w", err)
		}
		return &PlanResult{
			RepoRef:   res.Ref,
			Status:    store.StatusStagnantPlanning,
			DaysSince: res.DaysSince,
		}, nil
	}

	cycleID := uuid.NewString()
	e.logger.Info("starting research cycle",
		zap.String("repo", res.Ref),
		zap.String("cycle_id", cycleID),
		zap.Float64("days_since", res.DaysSince))

	readme := e.fetchReadme(ctx, res.Ref)
	lessons := e.recall(ctx, res.Ref)
	prompt := BuildPrompt(res.Ref, res.DaysSince, readme, lessons)

	result, err := e.loop.Run(ctx, res.Ref, cycleID, prompt)
	if err != nil {
		cause := e.classifyLoopFailure(err)
		e.logger.Warn("research cycle failed",
			zap.String("repo", res.Ref), zap.String("cycle_id", cycleID), zap.Error(err))
		if perr := e.persistFailure(ctx, res.Ref, res.DaysSince, cycleID, opts.Metadata, errors.New(cause)); perr != nil {
			return nil, perr
		}
		return &PlanResult{
			RepoRef:   res.Ref,
			Status:    store.StatusFailed,
			DaysSince: res.DaysSince,
			CycleID:   cycleID,
			Error:     cause,
		}, nil
	}

	rec := store.RepositoryRecord{
		RepoRef:        res.Ref,
		Status:         store.StatusStagnantPlanning,
		DaysSince:      res.DaysSince,
		ActiveProposal: &result.Proposal,
		LastEvaluation: &result.Evaluation,
		CycleID:        cycleID,
		Metadata:       opts.Metadata,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := e.store.UpsertRepository(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist repository state: %w", err)
	}
	prop := store.ProposalRecord{
		Proposal:   result.Proposal,
		Evaluation: &result.Evaluation,
		Status:     store.ProposalPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AppendProposal(ctx, prop); err != nil {
		return nil, fmt.Errorf("failed to persist proposal: %w", err)
	}

	e.logger.Info("proposal accepted",
		zap.String("repo", res.Ref),
		zap.String("cycle_id", cycleID),
		zap.Int("score", result.Evaluation.Score),
		zap.Int("turns", result.Turns))

	return &PlanResult{
		RepoRef:    res.Ref,
		Status:     store.StatusStagnantPlanning,
		DaysSince:  res.DaysSince,
		CycleID:    cycleID,
		Proposal:   &result.Proposal,
		Evaluation: &result.Evaluation,
	}, nil
}

// Execute files the proposal as a tracker issue. The issue is created at most
// once: there is no retry, and a tracker failure marks the repository FAILED
// without recording a success memory.
func (e *Engine) Execute(ctx context.Context, p store.Proposal) (*PlanResult, error) {
	issueURL, err := e.tracker.CreateIssue(ctx, p.RepoRef, p.Title, p.Body)
	if err != nil {
		e.logger.Error("issue creation failed",
			zap.String("repo", p.RepoRef), zap.String("cycle_id", p.CycleID), zap.Error(err))
		if perr := e.persistFailure(ctx, p.RepoRef, 0, p.CycleID, nil, fmt.Errorf("failed to create issue: %w", err)); perr != nil {
			return nil, perr
		}
		return &PlanResult{
			RepoRef: p.RepoRef,
			Status:  store.StatusFailed,
			CycleID: p.CycleID,
			Error:   fmt.Sprintf("failed to create issue: %v", err),
		}, nil
	}

	lesson := fmt.Sprintf("SUCCESSFUL PROPOSAL for %s: %s (target %s). Issue filed: %s",
		p.RepoRef, p.Description, p.TargetFile, issueURL)
	if _, err := e.memories.Add(ctx, lesson, store.MemoryPositive, p.RepoRef, map[string]string{"cycle_id": p.CycleID}); err != nil {
		// The issue exists; the pipeline state must not pretend otherwise, but
		// a cycle that cannot record its outcome did not complete cleanly.
		if perr := e.persistFailure(ctx, p.RepoRef, 0, p.CycleID, nil, fmt.Errorf("issue created at %s but failed to record outcome: %w", issueURL, err)); perr != nil {
			return nil, perr
		}
		return &PlanResult{
			RepoRef:  p.RepoRef,
			Status:   store.StatusFailed,
			CycleID:  p.CycleID,
			IssueURL: issueURL,
			Error:    fmt.Sprintf("issue created at %s but failed to record outcome: %v", issueURL, err),
		}, nil
	}

	if err := e.store.SetProposalStatus(ctx, p.CycleID, store.ProposalAccepted); err != nil {
		return nil, fmt.Errorf("failed to update proposal status: %w", err)
	}
	rec := store.RepositoryRecord{
		RepoRef:        p.RepoRef,
		Status:         store.StatusComplete,
		ActiveProposal: &p,
		IssueURL:       issueURL,
		CycleID:        p.CycleID,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := e.store.UpsertRepository(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist repository state: %w", err)
	}
	if err := e.store.IncrementUnblocks(ctx, p.RepoRef); err != nil {
		return nil, fmt.Errorf("failed to increment unblock count: %w", err)
	}

	e.logger.Info("cycle complete",
		zap.String("repo", p.RepoRef),
		zap.String("cycle_id", p.CycleID),
		zap.String("issue_url", issueURL))

	return &PlanResult{
		RepoRef:  p.RepoRef,
		Status:   store.StatusComplete,
		CycleID:  p.CycleID,
		IssueURL: issueURL,
	}, nil
}

// ExecuteCycle looks up the pending proposal for a cycle id and executes it.
func (e *Engine) ExecuteCycle(ctx context.Context, cycleID string) (*PlanResult, error) {
	rec, err := e.store.ProposalByCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal for cycle %s: %w", cycleID, err)
	}
	if rec.Status != store.ProposalPending {
		return nil, fmt.Errorf("proposal for cycle %s already %s", cycleID, rec.Status)
	}
	return e.Execute(ctx, rec.Proposal)
}

// RecordHumanRejection learns from a human turning down a pending proposal.
// The lesson is stored so future cycles for the repository recall it; the
// repository record itself is left untouched.
func (e *Engine) RecordHumanRejection(ctx context.Context, cycleID, reason string) error {
	rec, err := e.store.ProposalByCycle(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("failed to load proposal for cycle %s: %w", cycleID, err)
	}
	p := rec.Proposal

	lesson := fmt.Sprintf("HUMAN REJECTION for %s: %s (target %s).\nReason: %s",
		p.RepoRef, p.Description, p.TargetFile, reason)
	if _, err := e.memories.Add(ctx, lesson, store.MemoryNegative, p.RepoRef, map[string]string{"cycle_id": cycleID}); err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	if err := e.store.SetProposalStatus(ctx, cycleID, store.ProposalRejected); err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}
	return nil
}

// ListRepos returns every tracked repository. Read errors degrade to an empty
// listing so status surfaces stay usable when storage is down.
func (e *Engine) ListRepos(ctx context.Context) []store.RepositoryRecord {
	recs, err := e.store.ListRepositories(ctx)
	if err != nil {
		e.logger.Warn("failed to list repositories", zap.Error(err))
		return nil
	}
	return recs
}

// Untrack removes a repository from tracking.
func (e *Engine) Untrack(ctx context.Context, ref string) error {
	normalized := pulse.NormalizeRef(ref)
	if err := e.store.DeleteRepository(ctx, normalized); err != nil {
		return fmt.Errorf("failed to untrack %s: %w", normalized, err)
	}
	return nil
}

// Patrol plans every tracked repository in sequence. Individual failures are
// recorded per repository and do not stop the patrol.
func (e *Engine) Patrol(ctx context.Context, opts PlanOptions) ([]PlanResult, error) {
	recs, err := e.store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	results := make([]PlanResult, 0, len(recs))
	for _, rec := range recs {
		res, err := e.Plan(ctx, rec.RepoRef, opts)
		if err != nil {
			e.logger.Error("patrol pass failed", zap.String("repo", rec.RepoRef), zap.Error(err))
			results = append(results, PlanResult{
				RepoRef: rec.RepoRef,
				Status:  store.StatusFailed,
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func (e *Engine) fetchReadme(ctx context.Context, repoRef string) string {
	readme, err := e.readme.Readme(ctx, repoRef)
	if err != nil {
		e.logger.Warn("readme unavailable", zap.String("repo", repoRef), zap.Error(err))
		return ""
	}
	return readme
}

func (e *Engine) recall(ctx context.Context, repoRef string) []store.Memory {
	query := "lessons about proposing changes for " + repoRef
	lessons, err := e.memories.Search(ctx, query, repoRef, e.recallK)
	if err != nil {
		e.logger.Warn("memory recall failed", zap.String("repo", repoRef), zap.Error(err))
		return nil
	}
	return lessons
}

func (e *Engine) classifyLoopFailure(err error) string {
	var budget *BudgetError
	switch {
	case errors.Is(err, ErrNoProposal):
		return "research finished without a proposal"
	case errors.As(err, &budget):
		return budget.Error()
	default:
		return err.Error()
	}
}

func (e *Engine) persistFailure(ctx context.Context, repoRef string, daysSince float64, cycleID string, metadata map[string]string, cause error) error {
	rec := store.RepositoryRecord{
		RepoRef:   repoRef,
		Status:    store.StatusFailed,
		DaysSince: daysSince,
		CycleID:   cycleID,
		Error:     cause.Error(),
		Metadata:  metadata,
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.UpsertRepository(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist failure state: %w", err)
	}
	return nil
}

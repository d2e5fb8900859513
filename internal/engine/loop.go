package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nashy3k/momentum/internal/store"
)

// Generator produces one model turn given the running conversation.
type Generator interface {
	GenerateTurn(ctx context.Context, system string, history []*genai.Content, tools []*genai.FunctionDeclaration) (*genai.Content, error)
}

// Gatherer answers the model's repository research calls. Matches gather.Gatherer.
type Gatherer interface {
	ListFiles(ctx context.Context, repoRef, path string) string
	GetFile(ctx context.Context, repoRef, path string) string
}

// Evaluator scores a candidate proposal. Matches Gatekeeper.
type Evaluator interface {
	Evaluate(ctx context.Context, p store.Proposal, researchContext string) (store.Evaluation, bool, error)
}

// LoopConfig bounds the research conversation.
type LoopConfig struct {
	MaxTurns    int           // Hard cap on model turns (default 25)
	TurnTimeout time.Duration // Per-turn deadline (default 60s)
}

func (c *LoopConfig) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 25
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
}

// LoopResult is an accepted proposal together with its verdict.
type LoopResult struct {
	Proposal   store.Proposal
	Evaluation store.Evaluation
	Turns      int
}

// ResearchLoop drives the tool-calling conversation until a proposal passes
// the gatekeeper or the budget is exhausted.
type ResearchLoop struct {
	model     Generator
	gatherer  Gatherer
	evaluator Evaluator
	cfg       LoopConfig
	logger    *zap.Logger
}

// NewResearchLoop creates a ResearchLoop.
func NewResearchLoop(model Generator, gatherer Gatherer, evaluator Evaluator, cfg LoopConfig, logger *zap.Logger) *ResearchLoop {
	cfg.applyDefaults()
	return &ResearchLoop{model: model, gatherer: gatherer, evaluator: evaluator, cfg: cfg, logger: logger}
}

// Run executes one research cycle for repoRef. The model may browse the
// repository freely; each accepted propose_change ends the loop. A turn that
// produces no tool call means the model gave up, which is ErrNoProposal. Budget
// exhaustion (turn cap or per-turn deadline) is a *BudgetError. Rejections are
// fed back into the conversation and the loop continues.
func (l *ResearchLoop) Run(ctx context.Context, repoRef, cycleID, prompt string) (*LoopResult, error) {
	history := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	decls := Declarations()

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		turnCtx, cancel := context.WithTimeout(ctx, l.cfg.TurnTimeout)
		reply, err := l.model.GenerateTurn(turnCtx, systemInstruction, history, decls)
		cancel()
		if err != nil {
			if turnCtx.Err() == context.DeadlineExceeded {
				return nil, &BudgetError{Turns: turn, Timeout: true}
			}
			return nil, fmt.Errorf("failed to generate turn %d: %w", turn, err)
		}

		history = append(history, reply)

		fc := firstFunctionCall(reply)
		if fc == nil {
			// The model answered in prose without committing to a change.
			l.logger.Info("research ended without proposal",
				zap.String("repo", repoRef), zap.Int("turn", turn))
			return nil, ErrNoProposal
		}

		call, err := DecodeToolCall(fc)
		if err != nil {
			history = append(history, functionResponse(fc.Name, fmt.Sprintf("invalid arguments: %v", err)))
			continue
		}

		switch {
		case call.ListFiles != nil:
			res := l.gatherer.ListFiles(ctx, repoRef, call.ListFiles.Path)
			history = append(history, functionResponse(toolListFiles, res))

		case call.GetFile != nil:
			res := l.gatherer.GetFile(ctx, repoRef, call.GetFile.Path)
			history = append(history, functionResponse(toolGetFile, res))

		case call.Propose != nil:
			proposal := buildProposal(repoRef, cycleID, call.Propose)
			eval, accepted, err := l.evaluator.Evaluate(ctx, proposal, "")
			if err != nil {
				return nil, err
			}
			if accepted {
				return &LoopResult{Proposal: proposal, Evaluation: eval, Turns: turn}, nil
			}
			feedback := fmt.Sprintf("Proposal rejected (score %d/10, safe=%t): %s\nPropose a different change.",
				eval.Score, eval.IsSafe, eval.Reasoning)
			history = append(history, functionResponse(toolProposeChange, feedback))
		}
	}

	return nil, &BudgetError{Turns: l.cfg.MaxTurns}
}

// buildProposal fills in the issue title and body the tracker will receive.
func buildProposal(repoRef, cycleID string, args *ProposeArgs) store.Proposal {
	body := fmt.Sprintf("**Repository:** %s\n**Target file:** `%s`\n\n%s\n\n```\n%s\n```\n\n_Proposed automatically by Momentum._",
		repoRef, args.TargetFile, args.Description, args.CodeChange)
	return store.Proposal{
		CycleID:     cycleID,
		RepoRef:     repoRef,
		TargetFile:  args.TargetFile,
		Description: args.Description,
		CodeChange:  args.CodeChange,
		Title:       "Momentum: " + args.Description,
		Body:        body,
	}
}

func firstFunctionCall(content *genai.Content) *genai.FunctionCall {
	if content == nil {
		return nil
	}
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			return part.FunctionCall
		}
	}
	return nil
}

func functionResponse(name, result string) *genai.Content {
	part := genai.NewPartFromFunctionResponse(name, map[string]any{"result": result})
	return genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
}

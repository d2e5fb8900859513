package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/llm"
	"github.com/nashy3k/momentum/internal/store"
)

// TextGenerator is the single-shot structured call the gatekeeper needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// MemoryRecorder persists lessons. Matches memory.Service.
type MemoryRecorder interface {
	Add(ctx context.Context, text string, typ store.MemoryType, repoRef string, metadata map[string]string) (int64, error)
}

const gatekeeperSystem = `You are a strict senior engineer reviewing a proposal made by an autonomous agent.
Score the proposal on safety (could it break or harm the repository?), relevance
(does it address real stagnation?), and quality (is it a concrete, useful change?).
Respond with ONLY a JSON object: {"score": <1-10>, "reasoning": "<one paragraph>", "is_safe": <true|false>}.`

// GatekeeperConfig tunes acceptance and retry behavior.
type GatekeeperConfig struct {
	AcceptScore    int           // Minimum score for acceptance (default 7)
	MaxRetries     int           // Retries on transient provider overload (default 3)
	InitialBackoff time.Duration // First backoff delay, doubled per attempt (default 2s)
}

func (c *GatekeeperConfig) applyDefaults() {
	if c.AcceptScore <= 0 {
		c.AcceptScore = 7
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
}

// Gatekeeper scores candidate proposals with an independently-instructed model
// before the pipeline exposes them to anyone.
type Gatekeeper struct {
	model    TextGenerator
	memories MemoryRecorder
	cfg      GatekeeperConfig
	logger   *zap.Logger
}

// NewGatekeeper creates a Gatekeeper.
func NewGatekeeper(model TextGenerator, memories MemoryRecorder, cfg GatekeeperConfig, logger *zap.Logger) *Gatekeeper {
	cfg.applyDefaults()
	return &Gatekeeper{model: model, memories: memories, cfg: cfg, logger: logger}
}

// Evaluate scores one proposal. accepted is true only when the verdict is safe
// and meets the score threshold. Every rejection, including an evaluation
// failure, is recorded as a negative memory before Evaluate returns; an error
// is returned only when that recording fails, which is fatal to the cycle.
func (g *Gatekeeper) Evaluate(ctx context.Context, p store.Proposal, researchContext string) (store.Evaluation, bool, error) {
	eval := g.evaluateOnce(ctx, p, researchContext)
	accepted := eval.IsSafe && eval.Score >= g.cfg.AcceptScore

	g.logger.Info("proposal evaluated",
		zap.String("repo", p.RepoRef),
		zap.String("cycle_id", p.CycleID),
		zap.Int("score", eval.Score),
		zap.Bool("safe", eval.IsSafe),
		zap.Bool("accepted", accepted))

	if !accepted {
		lesson := fmt.Sprintf("REJECTED PROPOSAL for %s (score %d/10, safe=%t).\nProposed: %s (target %s)\nReasoning: %s",
			p.RepoRef, eval.Score, eval.IsSafe, p.Description, p.TargetFile, eval.Reasoning)
		if _, err := g.memories.Add(ctx, lesson, store.MemoryNegative, p.RepoRef, map[string]string{"cycle_id": p.CycleID}); err != nil {
			return eval, false, fmt.Errorf("failed to record rejection: %w", err)
		}
	}

	return eval, accepted, nil
}

// evaluateOnce runs the model call with bounded backoff on transient overload.
// Any terminal failure degrades to a rejection verdict, never an accept.
func (g *Gatekeeper) evaluateOnce(ctx context.Context, p store.Proposal, researchContext string) store.Evaluation {
	prompt := g.buildPrompt(p, researchContext)

	var (
		text string
		err  error
	)
	backoff := g.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		text, err = g.model.GenerateText(ctx, gatekeeperSystem, prompt)
		if err == nil {
			break
		}
		if !llm.IsTransient(err) || attempt >= g.cfg.MaxRetries {
			return store.Evaluation{
				Score:     0,
				IsSafe:    false,
				Reasoning: fmt.Sprintf("evaluation failed: %v", err),
			}
		}

		g.logger.Warn("evaluator overloaded, backing off",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return store.Evaluation{
				Score:     0,
				IsSafe:    false,
				Reasoning: fmt.Sprintf("evaluation cancelled: %v", ctx.Err()),
			}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	eval, err := parseEvaluation(text)
	if err != nil {
		return store.Evaluation{
			Score:     0,
			IsSafe:    false,
			Reasoning: fmt.Sprintf("evaluation unparseable: %v", err),
		}
	}
	return eval
}

func (g *Gatekeeper) buildPrompt(p store.Proposal, researchContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s\nTarget file: %s\nDescription: %s\n\nProposed change:\n%s\n",
		p.RepoRef, p.TargetFile, p.Description, p.CodeChange)
	if researchContext != "" {
		fmt.Fprintf(&sb, "\nResearch context:\n%s\n", researchContext)
	}
	return sb.String()
}

// parseEvaluation decodes the verdict, tolerating surrounding formatting noise
// such as markdown code fences around the JSON object.
func parseEvaluation(text string) (store.Evaluation, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var eval store.Evaluation
	if err := json.Unmarshal([]byte(cleaned), &eval); err != nil {
		return store.Evaluation{}, fmt.Errorf("failed to decode verdict: %w", err)
	}
	if eval.Score < 1 || eval.Score > 10 {
		return store.Evaluation{}, fmt.Errorf("score %d out of range", eval.Score)
	}
	return eval, nil
}

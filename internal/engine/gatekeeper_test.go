package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nashy3k/momentum/internal/store"
)

type scriptedGenerator struct {
	responses []string
	errs      []error
	calls     int
}

func (g *scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", errors.New("script exhausted")
}

type recordedMemory struct {
	text    string
	typ     store.MemoryType
	repoRef string
}

type stubRecorder struct {
	recorded []recordedMemory
	err      error
}

func (r *stubRecorder) Add(_ context.Context, text string, typ store.MemoryType, repoRef string, _ map[string]string) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.recorded = append(r.recorded, recordedMemory{text: text, typ: typ, repoRef: repoRef})
	return int64(len(r.recorded)), nil
}

func testProposal() store.Proposal {
	return store.Proposal{
		CycleID:     "cycle-1",
		RepoRef:     "owner/repo",
		TargetFile:  "README.md",
		Description: "fix a broken link",
		CodeChange:  "new content",
	}
}

func newTestGatekeeper(gen TextGenerator, rec MemoryRecorder) *Gatekeeper {
	return NewGatekeeper(gen, rec, GatekeeperConfig{
		InitialBackoff: time.Millisecond,
	}, zap.NewNop())
}

func verdict(score int, safe bool) string {
	return fmt.Sprintf(`{"score": %d, "reasoning": "because", "is_safe": %t}`, score, safe)
}

func TestEvaluateAccepts(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{verdict(7, true)}}
	rec := &stubRecorder{}
	gk := newTestGatekeeper(gen, rec)

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 7, eval.Score)
	assert.True(t, eval.IsSafe)
	assert.Empty(t, rec.recorded, "acceptance must not record a memory")
}

func TestEvaluateRejectsUnsafeDespiteHighScore(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{verdict(9, false)}}
	rec := &stubRecorder{}
	gk := newTestGatekeeper(gen, rec)

	_, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
	require.Len(t, rec.recorded, 1)
	assert.Equal(t, store.MemoryNegative, rec.recorded[0].typ)
	assert.Equal(t, "owner/repo", rec.recorded[0].repoRef)
}

func TestEvaluateRejectsBelowThreshold(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{verdict(6, true)}}
	rec := &stubRecorder{}
	gk := newTestGatekeeper(gen, rec)

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 6, eval.Score)
	require.Len(t, rec.recorded, 1)
}

func TestEvaluateStripsCodeFences(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"```json\n" + verdict(8, true) + "\n```"}}
	gk := newTestGatekeeper(gen, &stubRecorder{})

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 8, eval.Score)
}

func TestEvaluateRetriesTransientErrors(t *testing.T) {
	overloaded := genai.APIError{Code: 503, Message: "model overloaded"}
	gen := &scriptedGenerator{
		errs:      []error{overloaded, overloaded, nil},
		responses: []string{"", "", verdict(8, true)},
	}
	gk := newTestGatekeeper(gen, &stubRecorder{})

	_, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 3, gen.calls)
}

func TestEvaluateDoesNotRetryPermanentErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("invalid api key")}}
	rec := &stubRecorder{}
	gk := newTestGatekeeper(gen, rec)

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 1, gen.calls)
	assert.Zero(t, eval.Score)
	assert.False(t, eval.IsSafe)
	assert.Contains(t, eval.Reasoning, "evaluation failed")
	require.Len(t, rec.recorded, 1, "evaluation failure is a rejection and must leave a lesson")
}

func TestEvaluateExhaustsRetryBudget(t *testing.T) {
	overloaded := genai.APIError{Code: 429, Message: "rate limited"}
	gen := &scriptedGenerator{errs: []error{overloaded, overloaded, overloaded, overloaded, overloaded}}
	gk := newTestGatekeeper(gen, &stubRecorder{})

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 4, gen.calls, "initial attempt plus three retries")
	assert.Zero(t, eval.Score)
}

func TestEvaluateUnparseableVerdictIsRejection(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"I think this looks pretty good!"}}
	rec := &stubRecorder{}
	gk := newTestGatekeeper(gen, rec)

	eval, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Zero(t, eval.Score)
	assert.Contains(t, eval.Reasoning, "unparseable")
	require.Len(t, rec.recorded, 1)
}

func TestEvaluateOutOfRangeScoreIsRejection(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{verdict(11, true)}}
	gk := newTestGatekeeper(gen, &stubRecorder{})

	_, accepted, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestEvaluateMemoryFailureIsFatal(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{verdict(3, true)}}
	rec := &stubRecorder{err: errors.New("db down")}
	gk := newTestGatekeeper(gen, rec)

	_, _, err := gk.Evaluate(context.Background(), testProposal(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record rejection")
}

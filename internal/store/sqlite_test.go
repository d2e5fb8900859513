package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InitSchema(ctx))
	return s
}

func sampleProposal(cycleID string) Proposal {
	return Proposal{
		CycleID:     cycleID,
		RepoRef:     "owner/repo",
		TargetFile:  "README.md",
		Description: "fix a broken link",
		CodeChange:  "new content",
		Title:       "Momentum: fix a broken link",
		Body:        "details",
	}
}

func TestRepositoryRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := sampleProposal("cycle-1")
	eval := Evaluation{Score: 8, Reasoning: "solid", IsSafe: true}
	rec := RepositoryRecord{
		RepoRef:        "owner/repo",
		Status:         StatusStagnantPlanning,
		DaysSince:      10.5,
		ActiveProposal: &p,
		LastEvaluation: &eval,
		IssueURL:       "https://github.com/owner/repo/issues/1",
		CycleID:        "cycle-1",
		Metadata:       map[string]string{"origin": "patrol"},
	}
	require.NoError(t, s.UpsertRepository(ctx, rec))

	got, err := s.GetRepository(ctx, "owner/repo")
	require.NoError(t, err)
	assert.Equal(t, StatusStagnantPlanning, got.Status)
	assert.InDelta(t, 10.5, got.DaysSince, 1e-9)
	require.NotNil(t, got.ActiveProposal)
	assert.Equal(t, "fix a broken link", got.ActiveProposal.Description)
	require.NotNil(t, got.LastEvaluation)
	assert.Equal(t, 8, got.LastEvaluation.Score)
	assert.True(t, got.LastEvaluation.IsSafe)
	assert.Equal(t, "patrol", got.Metadata["origin"])
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetRepositoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRepository(context.Background(), "owner/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertPreservesUnblocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRepository(ctx, RepositoryRecord{RepoRef: "owner/repo", Status: StatusActive}))
	require.NoError(t, s.IncrementUnblocks(ctx, "owner/repo"))
	require.NoError(t, s.IncrementUnblocks(ctx, "owner/repo"))

	// A later upsert must not reset the counter.
	require.NoError(t, s.UpsertRepository(ctx, RepositoryRecord{RepoRef: "owner/repo", Status: StatusComplete}))

	got, err := s.GetRepository(ctx, "owner/repo")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, 2, got.Unblocks)
}

func TestUpsertClearsProposalWithNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := sampleProposal("cycle-1")
	require.NoError(t, s.UpsertRepository(ctx, RepositoryRecord{
		RepoRef: "owner/repo", Status: StatusStagnantPlanning, ActiveProposal: &p,
	}))
	require.NoError(t, s.UpsertRepository(ctx, RepositoryRecord{
		RepoRef: "owner/repo", Status: StatusActive,
	}))

	got, err := s.GetRepository(ctx, "owner/repo")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveProposal)
}

func TestDeleteRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRepository(ctx, RepositoryRecord{RepoRef: "owner/repo", Status: StatusActive}))
	require.NoError(t, s.DeleteRepository(ctx, "owner/repo"))

	_, err := s.GetRepository(ctx, "owner/repo")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := s.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestProposalLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eval := Evaluation{Score: 8, Reasoning: "solid", IsSafe: true}
	require.NoError(t, s.AppendProposal(ctx, ProposalRecord{
		Proposal:   sampleProposal("cycle-1"),
		Evaluation: &eval,
		Status:     ProposalPending,
	}))

	got, err := s.ProposalByCycle(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, ProposalPending, got.Status)
	assert.Equal(t, "owner/repo", got.Proposal.RepoRef)
	require.NotNil(t, got.Evaluation)
	assert.Equal(t, 8, got.Evaluation.Score)

	require.NoError(t, s.SetProposalStatus(ctx, "cycle-1", ProposalAccepted))
	got, err = s.ProposalByCycle(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, ProposalAccepted, got.Status)
}

func TestProposalByCycleNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ProposalByCycle(context.Background(), "no-such-cycle")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, Memory{
		Text:      "a lesson",
		Type:      MemoryNegative,
		RepoRef:   "owner/repo",
		Embedding: []float32{0.1, -0.5, 2.75},
		Metadata:  map[string]string{"cycle_id": "cycle-1"},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.RecentMemories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a lesson", got[0].Text)
	assert.Equal(t, MemoryNegative, got[0].Type)
	assert.Equal(t, []float32{0.1, -0.5, 2.75}, got[0].Embedding)
	assert.Equal(t, "cycle-1", got[0].Metadata["cycle_id"])
}

func TestMemoryWithoutEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, Memory{Text: "unembedded", Type: MemoryTip})
	require.NoError(t, err)

	got, err := s.RecentMemories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Embedding)
}

func TestRecentMemoriesNewestFirstAndBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.AddMemory(ctx, Memory{Text: fmt.Sprintf("memory %d", i), Type: MemoryTip})
		require.NoError(t, err)
	}

	got, err := s.RecentMemories(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "memory 4", got[0].Text)
	assert.Equal(t, "memory 3", got[1].Text)
	assert.Equal(t, "memory 2", got[2].Text)
}

func TestVectorEncodeDecode(t *testing.T) {
	vectors := [][]float32{
		{1.5, -2.25, 0},
		{0.001},
		nil,
	}
	for _, v := range vectors {
		decoded := decodeVector(encodeVector(v))
		if len(v) == 0 {
			assert.Nil(t, decoded)
		} else {
			assert.Equal(t, v, decoded)
		}
	}

	// Truncated blobs are treated as missing, not as corrupted vectors.
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}

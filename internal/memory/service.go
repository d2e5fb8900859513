// Package memory provides the embedding-backed lesson store that biases
// future proposals using past outcomes.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/nashy3k/momentum/internal/store"
)

// Embedder is an interface for generating text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the subset of the durable store the service needs.
type Backend interface {
	AddMemory(ctx context.Context, m store.Memory) (int64, error)
	RecentMemories(ctx context.Context, limit int) ([]store.Memory, error)
}

// Service embeds lessons, persists them, and ranks them by vector similarity.
// Stateless per call.
type Service struct {
	store    Backend
	embedder Embedder
	window   int
	logger   *zap.Logger
}

// NewService creates a memory service. window bounds how many recent memories
// are fetched for similarity ranking; this is a deliberate recency-biased
// approximation, not true nearest-neighbor search over the full corpus.
func NewService(backend Backend, embedder Embedder, window int, logger *zap.Logger) *Service {
	if window <= 0 {
		window = 50
	}
	return &Service{store: backend, embedder: embedder, window: window, logger: logger}
}

// Embed converts text into a vector. On provider failure it returns an empty
// vector rather than an error; callers must treat that as "no signal".
func (s *Service) Embed(ctx context.Context, text string) []float32 {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, proceeding without signal", zap.Error(err))
		return nil
	}
	return vec
}

// Add embeds and persists one lesson, returning its id. A storage failure is
// propagated loudly: silently losing a lesson would erode the only learning
// mechanism the pipeline has. An embedding failure is not fatal; the memory
// is stored with an empty vector and skipped during ranking.
func (s *Service) Add(ctx context.Context, text string, typ store.MemoryType, repoRef string, metadata map[string]string) (int64, error) {
	id, err := s.store.AddMemory(ctx, store.Memory{
		Text:      text,
		Type:      typ,
		RepoRef:   repoRef,
		Embedding: s.Embed(ctx, text),
		Metadata:  metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save memory: %w", err)
	}
	s.logger.Info("memory saved", zap.String("type", string(typ)), zap.String("repo", repoRef), zap.Int64("id", id))
	return id, nil
}

// Search returns up to k memories relevant to the query, most similar first.
// Candidates come from a bounded window of the newest memories; ties are
// broken by recency. A repoRef keeps lessons for that repository plus
// unscoped lessons; empty repoRef keeps everything. If the query cannot be
// embedded, or the read fails, Search degrades to an empty result.
func (s *Service) Search(ctx context.Context, query, repoRef string, k int) ([]store.Memory, error) {
	queryVec := s.Embed(ctx, query)
	if len(queryVec) == 0 {
		return nil, nil
	}

	candidates, err := s.store.RecentMemories(ctx, s.window)
	if err != nil {
		s.logger.Warn("memory recall failed, proceeding without lessons", zap.Error(err))
		return nil, nil
	}

	type scored struct {
		memory     store.Memory
		similarity float64
	}
	var results []scored
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		if repoRef != "" && m.RepoRef != "" && m.RepoRef != repoRef {
			continue
		}
		results = append(results, scored{memory: m, similarity: Cosine(queryVec, m.Embedding)})
	}

	// Candidates arrive newest first; a stable sort keeps that order for ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].similarity > results[j].similarity
	})

	if k > len(results) {
		k = len(results)
	}
	memories := make([]store.Memory, k)
	for i := range k {
		memories[i] = results[i].memory
	}
	return memories, nil
}

// Cosine calculates the cosine similarity between two vectors. The result is
// in range [-1, 1]. Mismatched lengths and zero-norm vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Package embedding provides pluggable text embedding providers.
//
// Two interchangeable implementations exist: a local deterministic
// model with no network dependency, and a remote OpenAI-compatible API.
// The two are never mixed within a single vector store; switching
// providers requires a full rebuild.
package embedding

import (
	"context"
	"math"
)

// Provider turns text into fixed-dimension vectors. EmbedBatch must be
// semantically equivalent to per-item Embed calls: the same text yields
// the same vector regardless of batching, keeping rebuilds deterministic.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	Model() string
}

// CosineSimilarity computes cosine similarity between two vectors.
// Works on unnormalized vectors; zero vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
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

// normalize performs in-place L2 normalization.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

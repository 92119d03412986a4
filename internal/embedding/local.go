package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// LocalDims is the fixed dimension of the local provider.
const LocalDims = 384

// Local is a deterministic, network-free embedder. It projects token
// counts into a fixed-dimension space via feature hashing, weighted so
// that rarer within-document terms dominate, then L2-normalizes. The
// result is stable across processes, which keeps incremental upserts
// and full rebuilds rank-equivalent.
type Local struct {
	dims int
}

// NewLocal creates the local provider.
func NewLocal() *Local {
	return &Local{dims: LocalDims}
}

func (l *Local) Model() string { return "local/hashed-bow-384" }
func (l *Local) Dims() int     { return l.dims }

// Embed generates a hashed bag-of-words vector for the text.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	maxTF := 0
	for _, c := range tf {
		if c > maxTF {
			maxTF = c
		}
	}

	for term, count := range tf {
		// Augmented term frequency avoids bias towards long entries.
		weight := 0.5 + 0.5*float64(count)/float64(maxTF)
		idx, sign := hashTerm(term, l.dims)
		vec[idx] += float32(weight) * sign
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently; results are identical to
// per-item Embed calls.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// hashTerm maps a term to a bucket and a +-1 sign. The sign hash keeps
// colliding terms from always reinforcing each other.
func hashTerm(term string, dims int) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(term))
	sum := h.Sum64()
	idx := int(sum % uint64(dims))
	sign := float32(1)
	if (sum>>63)&1 == 1 {
		sign = -1
	}
	return idx, sign
}

// tokenize splits text into lowercase alphanumeric tokens, dropping
// single-character noise.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Package models defines the domain types for mnemon.
package models

import "time"

// Kind classifies a canonical log entry.
type Kind string

// Entry kinds. Inference from content is best-effort; callers may
// always set the kind explicitly.
const (
	KindEvent      Kind = "event"
	KindPromotion  Kind = "promotion"
	KindReflection Kind = "reflection"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindPromotion, KindReflection:
		return true
	}
	return false
}

// Entry is one immutable unit of canonical memory text. Entries are
// never edited or deleted once written; the log only grows.
type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Author         string    `json:"author"`
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title,omitempty"`
	Content        string    `json:"content"`
	PromotionDepth int       `json:"promotion_depth"`
	TrustWeight    float64   `json:"trust_weight"`
}

// VectorRecord is the projection of an Entry plus its embedding. It is
// never independently authored and is fully reconstructible from the
// canonical log plus the embedding function.
type VectorRecord struct {
	EntryID        string    `json:"entry_id"`
	Embedding      []float32 `json:"embedding"`
	Kind           Kind      `json:"kind"`
	Author         string    `json:"author"`
	PromotionDepth int       `json:"promotion_depth"`
	TrustWeight    float64   `json:"trust_weight"`
}

// ContextEntry is one ranked entry inside a Context Envelope.
type ContextEntry struct {
	EntryID        string    `json:"entry_id"`
	Content        string    `json:"content"`
	Similarity     float64   `json:"similarity"`
	FinalWeight    float64   `json:"final_weight"`
	PromotionDepth int       `json:"promotion_depth"`
	Timestamp      time.Time `json:"timestamp"`
	Author         string    `json:"author"`
	Tokens         int       `json:"tokens"`
}

// ContextEnvelope is an ephemeral, request-scoped bundle of ranked
// entries. It is never persisted.
type ContextEnvelope struct {
	EntityID     string         `json:"entity_id"`
	Task         string         `json:"task"`
	Scope        []string       `json:"scope,omitempty"`
	Entries      []ContextEntry `json:"entries"`
	TotalTokens  int            `json:"total_tokens"`
	TokenBudget  int            `json:"token_budget"`
	DecayPolicy  string         `json:"decay_policy"`
	RecencyDays  int            `json:"recency_days"`
	RecencyBoost float64        `json:"recency_boost"`
	StrictEntity bool           `json:"strict_entity"`
	Diagnostic   string         `json:"diagnostic,omitempty"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Promotion decision outcomes.
const (
	DecisionAllowed = "ALLOWED"
	DecisionBlocked = "BLOCKED"
)

// Block reasons for a BLOCKED promotion decision.
const (
	ReasonDepthExceeded  = "depth_exceeded"
	ReasonBelowThreshold = "probability_below_threshold"
)

// PromotionDecision is the ephemeral outcome of evaluating a promotion
// candidate. Nothing is persisted unless Decision is ALLOWED, in which
// case NewEntry becomes a real canonical entry.
type PromotionDecision struct {
	SourceID    string  `json:"source_id"`
	SourceDepth int     `json:"source_depth"`
	Probability float64 `json:"probability"`
	Decision    string  `json:"decision"`
	BlockReason string  `json:"block_reason,omitempty"`
	NewEntry    *Entry  `json:"new_entry,omitempty"`
}

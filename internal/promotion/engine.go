package promotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/models"
)

// Projector is the slice of the vector store the engine needs to
// reproject an allowed promotion.
type Projector interface {
	Upsert(ctx context.Context, entries []models.Entry) (int, error)
}

// Config holds the promotion gate parameters.
type Config struct {
	MaxDepth  int     // hard stop: depth >= MaxDepth is always BLOCKED
	Threshold float64 // gate probability must exceed this
	DecayK    float64 // sigmoid steepness
	Policy    string  // sigmoid or linear
}

// Engine evaluates promotion candidates and, on an explicit promote
// directive, appends the derived entry and reprojects it. Promotion is
// never automatic: Evaluate answers "is this eligible", the caller
// decides "do it".
type Engine struct {
	log   *canonlog.Log
	store Projector
	cfg   Config
	now   func() time.Time
}

// New creates a promotion engine.
func New(log *canonlog.Log, store Projector, cfg Config) *Engine {
	return &Engine{log: log, store: store, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs the eligibility function for the entry's current depth
// without any side effect. The candidate moves CANDIDATE -> EVALUATED
// and the returned decision is terminal: ALLOWED or BLOCKED.
func (e *Engine) Evaluate(entry models.Entry) (models.PromotionDecision, error) {
	policy, err := NewPolicy(e.cfg.Policy, e.cfg.DecayK, e.cfg.MaxDepth)
	if err != nil {
		return models.PromotionDecision{}, err
	}

	decision := models.PromotionDecision{
		SourceID:    entry.ID,
		SourceDepth: entry.PromotionDepth,
		Probability: policy.Gate(entry.PromotionDepth),
	}

	// Hard stop first: at or beyond max depth the probability is
	// irrelevant. Recursive self-promotion is damped, not rate-limited.
	if entry.PromotionDepth >= e.cfg.MaxDepth {
		decision.Decision = models.DecisionBlocked
		decision.BlockReason = models.ReasonDepthExceeded
		return decision, nil
	}
	if decision.Probability <= e.cfg.Threshold {
		decision.Decision = models.DecisionBlocked
		decision.BlockReason = models.ReasonBelowThreshold
		return decision, nil
	}

	decision.Decision = models.DecisionAllowed
	return decision, nil
}

// Promote evaluates the source entry and, when allowed, appends the
// derived entry (depth + 1) to the canonical log and upserts it into
// the vector store. A blocked candidate is discarded without trace.
// Validation failures are rejected before any side effect.
func (e *Engine) Promote(ctx context.Context, entryID, reason string) (models.PromotionDecision, error) {
	if strings.TrimSpace(reason) == "" {
		return models.PromotionDecision{}, fmt.Errorf("%w: promotion reason is required", apperr.ErrInvalidRequest)
	}

	source, err := e.log.Get(entryID)
	if err != nil {
		return models.PromotionDecision{}, err
	}

	decision, err := e.Evaluate(source)
	if err != nil {
		return models.PromotionDecision{}, err
	}
	if decision.Decision != models.DecisionAllowed {
		return decision, nil
	}

	content := e.deriveContent(source, reason)
	newEntry, err := e.log.Append(source.Author, content, models.KindPromotion, source.PromotionDepth+1)
	if err != nil {
		return models.PromotionDecision{}, err
	}
	if _, err := e.store.Upsert(ctx, []models.Entry{newEntry}); err != nil {
		return models.PromotionDecision{}, fmt.Errorf("reproject promoted entry: %w", err)
	}

	decision.NewEntry = &newEntry
	return decision, nil
}

// deriveContent renders the promoted entry body with its provenance.
// The Promotion-Depth marker keeps the depth recoverable on reload.
func (e *Engine) deriveContent(source models.Entry, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s: Promoted - %s\n\n", e.now().Format("2006-01-02"), truncate(reason, 80))
	fmt.Fprintf(&b, "Promoted-From: %s\n", source.ID)
	fmt.Fprintf(&b, "Promotion-Reason: %s\n", reason)
	fmt.Fprintf(&b, "Promotion-Depth: %d\n\n", source.PromotionDepth+1)
	b.WriteString(source.Content)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

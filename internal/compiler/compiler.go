// Package compiler assembles token-bounded context envelopes from the
// vector projection store.
package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/embedding"
	"github.com/fenwick/mnemon/internal/models"
	"github.com/fenwick/mnemon/internal/promotion"
	"github.com/fenwick/mnemon/internal/vecstore"
)

// Querier is the slice of the vector store the compiler needs.
type Querier interface {
	Query(vec []float32, topK int, f vecstore.Filters) ([]vecstore.Candidate, error)
}

// EntryResolver maps candidate ids back to full canonical entries.
type EntryResolver func(id string) (models.Entry, bool)

// Config holds the compilation defaults.
type Config struct {
	TokenBudget  int     // default envelope budget
	TopK         int     // candidate pool size before reweighting
	StrictEntity bool    // restrict results to the requested entity
	DecayK       float64 // sigmoid steepness for the ranking decay
	MaxDepth     int     // linear policy denominator
	RecencyDays  int     // entries younger than this get the boost
	RecencyBoost float64 // multiplier, > 1.0
}

// Request is one compile invocation.
type Request struct {
	Task        string
	EntityID    string
	Scope       []string
	TokenBudget int    // 0 means the configured default
	DecayPolicy string // sigmoid (default) or linear
}

// Compiler reweights vector-store candidates by promotion-depth decay
// and recency, then greedily fills a token budget.
type Compiler struct {
	provider embedding.Provider
	store    Querier
	resolve  EntryResolver
	cfg      Config
	now      func() time.Time
}

// New creates a compiler. resolve is consulted for every candidate the
// store returns; candidates without a resolvable entry are dropped.
func New(provider embedding.Provider, store Querier, resolve EntryResolver, cfg Config) *Compiler {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	return &Compiler{provider: provider, store: store, resolve: resolve, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (c *Compiler) WithClock(now func() time.Time) *Compiler {
	c.now = now
	return c
}

// Compile builds a context envelope for the request. Zero candidates
// yield an empty envelope, not an error. The envelope's total token
// count never exceeds the budget; an entry is either included whole or
// not at all.
func (c *Compiler) Compile(ctx context.Context, req Request) (*models.ContextEnvelope, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, fmt.Errorf("%w: task description is required", apperr.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, fmt.Errorf("%w: entity id is required", apperr.ErrInvalidRequest)
	}

	budget := req.TokenBudget
	if budget <= 0 {
		budget = c.cfg.TokenBudget
	}

	policyName := req.DecayPolicy
	if policyName == "" {
		policyName = promotion.PolicySigmoid
	}
	policy, err := promotion.NewPolicy(policyName, c.cfg.DecayK, c.cfg.MaxDepth)
	if err != nil {
		return nil, err
	}

	envelope := &models.ContextEnvelope{
		EntityID:     req.EntityID,
		Task:         req.Task,
		Scope:        req.Scope,
		Entries:      []models.ContextEntry{},
		TokenBudget:  budget,
		DecayPolicy:  policy.Name(),
		RecencyDays:  c.cfg.RecencyDays,
		RecencyBoost: c.cfg.RecencyBoost,
		StrictEntity: c.cfg.StrictEntity,
		GeneratedAt:  c.now(),
	}

	// Scope keywords ride along as an auxiliary signal in the query text.
	queryText := req.Task
	if len(req.Scope) > 0 {
		queryText += "\n" + strings.Join(req.Scope, " ")
	}
	vec, err := c.provider.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed task: %w", err)
	}

	filters := vecstore.Filters{}
	if c.cfg.StrictEntity {
		filters.Author = req.EntityID
	}
	candidates, err := c.store.Query(vec, c.cfg.TopK, filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return envelope, nil
	}

	scored := c.reweight(candidates, policy)
	c.fill(envelope, scored, budget)
	return envelope, nil
}

// reweight computes final_weight = similarity * decay(depth) * recency
// for each resolvable candidate.
func (c *Compiler) reweight(candidates []vecstore.Candidate, policy promotion.Policy) []models.ContextEntry {
	now := c.now()
	var out []models.ContextEntry
	for _, cand := range candidates {
		entry, ok := c.resolve(cand.EntryID)
		if !ok {
			continue
		}

		recency := 1.0
		if c.cfg.RecencyDays > 0 && c.cfg.RecencyBoost > 1.0 {
			age := now.Sub(entry.Timestamp)
			if age >= 0 && age <= time.Duration(c.cfg.RecencyDays)*24*time.Hour {
				recency = c.cfg.RecencyBoost
			}
		}

		out = append(out, models.ContextEntry{
			EntryID:        entry.ID,
			Content:        entry.Content,
			Similarity:     cand.Similarity,
			FinalWeight:    cand.Similarity * policy.Weight(entry.PromotionDepth) * recency,
			PromotionDepth: entry.PromotionDepth,
			Timestamp:      entry.Timestamp,
			Author:         entry.Author,
			Tokens:         EstimateTokens(entry.Content),
		})
	}

	// Descending by final weight; ties go to the earlier timestamp so
	// compilation is reproducible.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalWeight != out[j].FinalWeight {
			return out[i].FinalWeight > out[j].FinalWeight
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

// fill greedily accepts entries until the budget would be exceeded.
// An entry never enters the envelope truncated mid-content.
func (c *Compiler) fill(envelope *models.ContextEnvelope, scored []models.ContextEntry, budget int) {
	total := 0
	for _, e := range scored {
		if total+e.Tokens > budget {
			continue
		}
		envelope.Entries = append(envelope.Entries, e)
		total += e.Tokens
	}
	envelope.TotalTokens = total

	if len(envelope.Entries) == 0 && len(scored) > 0 {
		smallest := scored[0].Tokens
		for _, e := range scored[1:] {
			if e.Tokens < smallest {
				smallest = e.Tokens
			}
		}
		envelope.Diagnostic = fmt.Sprintf(
			"token budget %d is smaller than the smallest candidate (%d tokens); no entries included", budget, smallest)
	}
}

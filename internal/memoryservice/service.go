// Package memoryservice coordinates the canonical log, the vector
// projection store, the promotion engine, and the context compiler
// behind one service used by every surface (CLI, HTTP, MCP).
package memoryservice

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/models"
	"github.com/fenwick/mnemon/internal/promotion"
	"github.com/fenwick/mnemon/internal/vecstore"
)

// Service is the single entry point into the memory lifecycle engine.
// All state lives in the injected log and store; the service only keeps
// an id -> entry cache so candidates can be resolved without re-reading
// author files on every query.
type Service struct {
	log      *canonlog.Log
	store    *vecstore.Store
	compiler *compiler.Compiler
	engine   *promotion.Engine
	logger   *slog.Logger

	mu      sync.RWMutex
	loaded  bool
	entries map[string]models.Entry
}

// New wires a service from its parts.
func New(log *canonlog.Log, store *vecstore.Store, promoCfg promotion.Config, compileCfg compiler.Config, logger *slog.Logger) *Service {
	s := &Service{
		log:     log,
		store:   store,
		logger:  logger,
		entries: make(map[string]models.Entry),
	}
	s.engine = promotion.New(log, store, promoCfg)
	s.compiler = compiler.New(store.Provider(), store, s.resolve, compileCfg)
	return s
}

// LoadResult reports one load/reindex pass.
type LoadResult struct {
	Entries  int               `json:"entries"`
	Indexed  int               `json:"indexed"`
	Warnings []canonlog.Warning `json:"warnings,omitempty"`
	Rebuilt  bool              `json:"rebuilt"`
}

// Load reads the whole canonical log and brings the vector store up to
// date. With rebuild set, every vector is recomputed from scratch;
// otherwise only entries missing from the store are embedded.
func (s *Service) Load(ctx context.Context, rebuild bool) (*LoadResult, error) {
	entries, warnings, err := s.log.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.logger.Warn("load: skipped block", slog.String("author", w.Author),
			slog.Int("block", w.Block), slog.String("reason", w.Reason))
	}

	result := &LoadResult{Entries: len(entries), Warnings: warnings, Rebuilt: rebuild}
	if rebuild {
		if err := s.store.Rebuild(ctx, entries); err != nil {
			return nil, err
		}
		result.Indexed = len(entries)
	} else {
		n, err := s.store.Upsert(ctx, entries)
		if err != nil {
			return nil, err
		}
		result.Indexed = n
	}

	s.mu.Lock()
	s.loaded = true
	s.entries = make(map[string]models.Entry, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	s.mu.Unlock()

	s.logger.Info("load: complete", slog.Int("entries", result.Entries),
		slog.Int("indexed", result.Indexed), slog.Bool("rebuild", rebuild))
	return result, nil
}

// Resync is Load without a rebuild, used by the serve-mode watcher.
func (s *Service) Resync(ctx context.Context) (*LoadResult, error) {
	return s.Load(ctx, false)
}

// Append writes a new canonical entry and projects it into the vector
// store. Re-appending normalization-equivalent content is a no-op that
// returns the existing entry.
func (s *Service) Append(ctx context.Context, author, content string, kind models.Kind, depth int) (models.Entry, error) {
	entry, err := s.log.Append(author, content, kind, depth)
	if err != nil {
		return models.Entry{}, err
	}
	if _, err := s.store.Upsert(ctx, []models.Entry{entry}); err != nil {
		return models.Entry{}, fmt.Errorf("project appended entry: %w", err)
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()
	return entry, nil
}

// Compile assembles a context envelope for a task.
func (s *Service) Compile(ctx context.Context, req compiler.Request) (*models.ContextEnvelope, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.compiler.Compile(ctx, req)
}

// Evaluate runs the promotion gate for an entry without side effects.
func (s *Service) Evaluate(ctx context.Context, entryID string) (models.PromotionDecision, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return models.PromotionDecision{}, err
	}
	entry, err := s.Read(ctx, entryID)
	if err != nil {
		return models.PromotionDecision{}, err
	}
	return s.engine.Evaluate(entry)
}

// Promote promotes an entry through the engine and refreshes the cache.
func (s *Service) Promote(ctx context.Context, entryID, reason string) (models.PromotionDecision, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return models.PromotionDecision{}, err
	}
	decision, err := s.engine.Promote(ctx, entryID, reason)
	if err != nil {
		return models.PromotionDecision{}, err
	}
	if decision.NewEntry != nil {
		s.mu.Lock()
		s.entries[decision.NewEntry.ID] = *decision.NewEntry
		s.mu.Unlock()
	}
	return decision, nil
}

// Read returns a single entry by id. A unique id prefix of at least
// eight characters also resolves, which keeps CLI usage bearable with
// 64-character content hashes.
func (s *Service) Read(ctx context.Context, id string) (models.Entry, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return models.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.entries[id]; ok {
		return entry, nil
	}
	if len(id) >= 8 {
		var match *models.Entry
		for eid := range s.entries {
			if strings.HasPrefix(eid, id) {
				if match != nil {
					return models.Entry{}, fmt.Errorf("%w: ambiguous entry prefix %s", apperr.ErrInvalidRequest, id)
				}
				e := s.entries[eid]
				match = &e
			}
		}
		if match != nil {
			return *match, nil
		}
	}
	return models.Entry{}, fmt.Errorf("%w: entry %s", apperr.ErrNotFound, id)
}

// Filter lists entries matching the given author, kind, and maximum
// promotion depth (-1 disables the depth filter), sorted by timestamp.
func (s *Service) Filter(ctx context.Context, author string, kind models.Kind, maxDepth int) ([]models.Entry, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalidRequest, kind)
	}

	s.mu.RLock()
	var out []models.Entry
	for _, e := range s.entries {
		if author != "" && e.Author != author {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		if maxDepth >= 0 && e.PromotionDepth > maxDepth {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List lists every entry, optionally restricted to one author.
func (s *Service) List(ctx context.Context, author string) ([]models.Entry, error) {
	return s.Filter(ctx, author, "", -1)
}

// Stats returns vector-store aggregates.
func (s *Service) Stats(ctx context.Context) (*vecstore.Stats, error) {
	return s.store.Stats()
}

// Export returns every vector record for inspection or backup.
func (s *Service) Export(ctx context.Context) ([]models.VectorRecord, error) {
	return s.store.Export()
}

// resolve is the compiler's candidate resolver.
func (s *Service) resolve(id string) (models.Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	return entry, ok
}

// ensureLoaded lazily performs the initial load so that read paths work
// without an explicit load command first. An empty log still counts as
// loaded; only the first call pays for a full pass.
func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := s.Load(ctx, false)
	return err
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/models"
)

// EventPublisher receives memory mutation notifications, typically the
// SSE broker. A nil publisher disables notifications.
type EventPublisher interface {
	PublishMemoryEvent(kind, entryID, author string)
}

// Handler holds API route handlers.
type Handler struct {
	svc    *memoryservice.Service
	events EventPublisher
}

// NewHandler creates a new Handler.
func NewHandler(svc *memoryservice.Service, events EventPublisher) *Handler {
	return &Handler{svc: svc, events: events}
}

func (h *Handler) notify(kind, entryID, author string) {
	if h.events != nil {
		h.events.PublishMemoryEvent(kind, entryID, author)
	}
}

// CompileRequest is the request body for POST /context.
type CompileRequest struct {
	Task        string   `json:"task"`
	EntityID    string   `json:"entity_id"`
	Scope       []string `json:"scope,omitempty"`
	TokenBudget int      `json:"token_budget,omitempty"`
	Decay       string   `json:"decay,omitempty"`
}

// CompileContext handles POST /api/context.
func (h *Handler) CompileContext(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err))
		return
	}

	envelope, err := h.svc.Compile(r.Context(), compiler.Request{
		Task:        req.Task,
		EntityID:    req.EntityID,
		Scope:       req.Scope,
		TokenBudget: req.TokenBudget,
		DecayPolicy: req.Decay,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// AppendRequest is the request body for POST /memories.
type AppendRequest struct {
	EntityID       string `json:"entity_id"`
	Content        string `json:"content"`
	Kind           string `json:"kind,omitempty"`
	PromotionDepth int    `json:"promotion_depth,omitempty"`
}

// AppendMemory handles POST /api/memories.
func (h *Handler) AppendMemory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err))
		return
	}
	if req.EntityID == "" {
		writeError(w, fmt.Errorf("%w: entity_id is required", apperr.ErrInvalidRequest))
		return
	}

	entry, err := h.svc.Append(r.Context(), req.EntityID, req.Content, models.Kind(req.Kind), req.PromotionDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	h.notify("appended", entry.ID, entry.Author)
	writeJSON(w, http.StatusCreated, entry)
}

// PromoteRequest is the request body for POST /promotions.
type PromoteRequest struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// Promote handles POST /api/promotions. With dry_run set, only the
// eligibility is evaluated and nothing is written.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err))
		return
	}

	var decision models.PromotionDecision
	var err error
	if req.DryRun {
		decision, err = h.svc.Evaluate(r.Context(), req.EntryID)
	} else {
		decision, err = h.svc.Promote(r.Context(), req.EntryID, req.Reason)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if decision.NewEntry != nil {
		h.notify("promoted", decision.NewEntry.ID, decision.NewEntry.Author)
	}
	writeJSON(w, http.StatusOK, decision)
}

// ListMemories handles GET /api/memories with optional author, kind,
// and max_depth filters.
func (h *Handler) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxDepth := -1
	if v := q.Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: max_depth must be an integer", apperr.ErrInvalidRequest))
			return
		}
		maxDepth = n
	}

	entries, err := h.svc.Filter(r.Context(), q.Get("author"), models.Kind(q.Get("kind")), maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories": entries,
		"total":    len(entries),
	})
}

// GetMemory handles GET /api/memories/{id}.
func (h *Handler) GetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.svc.Read(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Export handles GET /api/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.VectorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vectors": records,
		"total":   len(records),
	})
}

package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced. The
// broker, if non-nil, is mounted at GET /events inside the auth group
// and receives append/promote notifications.
func NewRouter(svc *memoryservice.Service, authEnabled bool, token string, broker *sse.Broker) chi.Router {
	var events EventPublisher
	if broker != nil {
		events = broker
	}
	h := NewHandler(svc, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/context", h.CompileContext)

	r.Get("/memories", h.ListMemories)
	r.Post("/memories", h.AppendMemory)
	r.Get("/memories/{id}", h.GetMemory)

	r.Post("/promotions", h.Promote)

	r.Get("/stats", h.Stats)
	r.Get("/export", h.Export)

	if broker != nil {
		r.Get("/events", broker.ServeHTTP)
	}

	return r
}

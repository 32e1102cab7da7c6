package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// Handler executes one operation kind. Implementations must be safe for
// concurrent use: a parallel job invokes the same handler from several
// workers at once.
type Handler interface {
	// Kind returns the operation kind this handler serves
	Kind() model.OperationKind

	// Name returns a human-readable handler name
	Name() string

	// Execute runs the operation and returns its result payload
	Execute(ctx context.Context, job *model.Job, op *model.Operation) (map[string]interface{}, error)
}

// HandlerRegistry maps operation kinds to their handlers
type HandlerRegistry interface {
	Register(Handler)
	Get(model.OperationKind) (Handler, bool)
	AvailableKinds() []model.OperationKind
}

// Registry is a central registry for operation handlers
type Registry struct {
	handlers map[model.OperationKind]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the given handlers
func NewRegistry(handlers ...Handler) HandlerRegistry {
	registry := Registry{
		handlers: make(map[model.OperationKind]Handler),
	}

	for _, h := range handlers {
		registry.Register(h)
	}

	return &registry
}

// Register adds a handler to the registry
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[h.Kind()] = h

	log.Info().
		Str("kind", string(h.Kind())).
		Str("handler", h.Name()).
		Msg("Registered operation handler")
}

// Get retrieves a handler by operation kind
func (r *Registry) Get(kind model.OperationKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[kind]
	return h, exists
}

// AvailableKinds returns all registered operation kinds
func (r *Registry) AvailableKinds() []model.OperationKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.OperationKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	return kinds
}

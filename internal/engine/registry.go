package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/lanesync/lanesync/internal/gateway"
)

// UnhandledTypeError reports a change notification whose entity type has
// no registered handler. Acknowledged upstream as a non-fatal
// "unhandled" outcome, never dropped silently.
type UnhandledTypeError struct {
	EntityType string
}

func (e *UnhandledTypeError) Error() string {
	return fmt.Sprintf("no handler registered for entity type %q", e.EntityType)
}

// Handler applies one change notification.
type Handler func(ctx context.Context, change gateway.Change) error

// RepositoryHandler adapts a repository's temporal loader into a
// Handler.
func RepositoryHandler(repo *Repository) Handler {
	return func(ctx context.Context, change gateway.Change) error {
		return repo.TemporalLoad(ctx, change.EntityID, change.Timestamp)
	}
}

// Composite chains handlers: the primary fetch followed by secondary
// fetches (an item's image, a sub-attribute). A failure anywhere stops
// the chain and reports that failure.
func Composite(handlers ...Handler) Handler {
	return func(ctx context.Context, change gateway.Change) error {
		for _, h := range handlers {
			if err := h(ctx, change); err != nil {
				return err
			}
		}
		return nil
	}
}

// Registry is the explicit dispatch table mapping entity-type tags to
// handlers. Built once during engine wiring; the change processor only
// reads it.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds an entity type to a handler. Re-registering a type is
// a wiring bug and panics.
func (r *Registry) Register(entityType string, h Handler) {
	if entityType == "" {
		panic("registry: empty entity type")
	}
	if h == nil {
		panic("registry: nil handler for " + entityType)
	}
	if _, exists := r.handlers[entityType]; exists {
		panic("registry: duplicate handler for " + entityType)
	}
	r.handlers[entityType] = h
}

// Lookup returns the handler for an entity type.
func (r *Registry) Lookup(entityType string) (Handler, bool) {
	h, ok := r.handlers[entityType]
	return h, ok
}

// Types returns the registered entity types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks that every required entity type has a handler.
// Called at startup so a wiring gap fails fast instead of surfacing as
// unhandled notifications in the field.
func (r *Registry) Validate(required []string) error {
	var missing []string
	for _, t := range required {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("registry missing handlers for entity types: %v", missing)
	}
	return nil
}

// internal/functions/registry.go
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownFunction is returned by Invoke for names nobody registered.
var ErrUnknownFunction = errors.New("unknown function")

// RequestError marks a body the function refused to process.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid request: " + e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

// Handler runs one named function. The returned value is encoded as the
// JSON response body.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// Registry maps function names (the last path segment of
// /functions/v1/{name}) to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *Registry) Invoke(ctx context.Context, name string, body json.RawMessage) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return handler(ctx, body)
}

// Names lists registered functions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

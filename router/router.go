// Package router maps verbs to handlers for a single service.
//
// Handlers are registered once, before the service starts, and looked up on
// every request:
//
//	"PING"      ──→ HandlerFunc
//	"PONG/PING" ──→ (*Pong).PongPing via RegisterMethod
//
// Verbs are case-insensitive; the router stores them upper-cased.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"zss/message"
	"zss/rpcerr"
)

var (
	// ErrInvalidHandler is returned when a handler or method cannot be used.
	ErrInvalidHandler = errors.New("router: invalid handler")
	// ErrDuplicateRoute is returned when a verb is registered twice.
	ErrDuplicateRoute = errors.New("router: duplicate route")
)

// Handler answers one request.
type Handler interface {
	Handle(ctx context.Context, payload any, headers message.Values) (any, error)
}

// HandlerFunc is a handler that reads the request headers.
type HandlerFunc func(ctx context.Context, payload any, headers message.Values) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, payload any, headers message.Values) (any, error) {
	return f(ctx, payload, headers)
}

// PayloadFunc is a handler that only needs the payload.
type PayloadFunc func(ctx context.Context, payload any) (any, error)

func (f PayloadFunc) Handle(ctx context.Context, payload any, _ message.Values) (any, error) {
	return f(ctx, payload)
}

type Router struct {
	catalog *rpcerr.Catalog

	mu     sync.RWMutex
	routes map[string]Handler
}

// New creates an empty router whose missing-route errors come from catalog.
func New(catalog *rpcerr.Catalog) *Router {
	if catalog == nil {
		catalog = rpcerr.DefaultCatalog()
	}
	return &Router{
		catalog: catalog,
		routes:  make(map[string]Handler),
	}
}

// Register binds verb to h.
func (r *Router) Register(verb string, h Handler) error {
	verb = strings.ToUpper(strings.TrimSpace(verb))
	if verb == "" {
		return fmt.Errorf("%w: empty verb", ErrInvalidHandler)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidHandler, verb)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[verb]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, verb)
	}
	r.routes[verb] = h
	return nil
}

// Dispatch runs the handler for verb. Handler errors are returned unchanged.
func (r *Router) Dispatch(ctx context.Context, verb string, payload any, headers message.Values) (any, error) {
	verb = strings.ToUpper(verb)

	r.mu.RLock()
	h, ok := r.routes[verb]
	r.mu.RUnlock()
	if !ok {
		return nil, r.catalog.WithMessage(404, fmt.Sprintf("Invalid route %s!", verb))
	}
	return h.Handle(ctx, payload, headers)
}

// Has reports whether verb is routed.
func (r *Router) Has(verb string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[strings.ToUpper(verb)]
	return ok
}

// Verbs lists the registered verbs in order.
func (r *Router) Verbs() []string {
	r.mu.RLock()
	verbs := make([]string, 0, len(r.routes))
	for verb := range r.routes {
		verbs = append(verbs, verb)
	}
	r.mu.RUnlock()
	sort.Strings(verbs)
	return verbs
}

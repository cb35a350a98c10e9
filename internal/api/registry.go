package api

import (
	"net/http"
)

// Middleware wraps a handler.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization;
// limit wraps throttled handlers and may be nil.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware, limit Middleware) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if limit != nil && IsThrottled(ep) {
			handler = limit(handler)
		}
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

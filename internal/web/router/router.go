// Package router wraps chi with route introspection and JSON error handlers.
package router

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/modinspect/modinspect/internal/web/middleware"
)

// MethodAny marks a route that accepts every HTTP method.
const MethodAny = "*"

// Router manages HTTP routing using chi framework
type Router struct {
	mux    chi.Router
	routes []RouteInfo
}

// RouteInfo provides metadata about a route for introspection
type RouteInfo struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}

// NewRouter creates a Router whose 404 and 405 responses are JSON.
func NewRouter() *Router {
	r := &Router{mux: chi.NewRouter()}

	eh := NewErrorHandler(false)
	r.mux.NotFound(eh.NotFoundHandler())
	r.mux.MethodNotAllowed(eh.MethodNotAllowedHandler())
	return r
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Use adds middleware. chi requires all middleware before the first route.
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.mux.Use(m)
	}
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc) {
	r.mux.Get(pattern, handler)
	r.record(http.MethodGet, pattern)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc) {
	r.mux.Post(pattern, handler)
	r.record(http.MethodPost, pattern)
}

// Handle registers handler for every method on pattern.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
	r.record(MethodAny, pattern)
}

// NotFound sets the handler for 404 Not Found
func (r *Router) NotFound(handler http.HandlerFunc) {
	r.mux.NotFound(handler)
}

// Routes returns the registered routes sorted by pattern, then method.
func (r *Router) Routes() []RouteInfo {
	routes := make([]RouteInfo, len(r.routes))
	copy(routes, r.routes)
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Pattern != routes[j].Pattern {
			return routes[i].Pattern < routes[j].Pattern
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

func (r *Router) record(method, pattern string) {
	r.routes = append(r.routes, RouteInfo{Method: method, Pattern: pattern})
}

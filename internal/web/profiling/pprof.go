// Package profiling mounts the net/http/pprof endpoints on the dev server.
//
// The endpoints expose goroutine stacks and heap contents, so they are off
// unless server.pprof is set.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// DefaultPath is where the endpoints are mounted.
const DefaultPath = "/debug/pprof"

// Config holds profiling configuration
type Config struct {
	// Path is the URL prefix, DefaultPath when empty.
	Path string

	// BlockRate is passed to runtime.SetBlockProfileRate; 0 leaves it alone.
	BlockRate int

	// MutexFraction is passed to runtime.SetMutexProfileFraction; 0 leaves it alone.
	MutexFraction int
}

// DefaultConfig returns default profiling configuration
func DefaultConfig() Config {
	return Config{
		Path:          DefaultPath,
		BlockRate:     1,
		MutexFraction: 1,
	}
}

// Pattern is the wildcard route a router should hand to Handler.
func (c Config) Pattern() string {
	return c.path() + "/*"
}

func (c Config) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

// Handler returns the pprof routes under cfg.Path. Requests keep their
// full path, so mount it without stripping the prefix.
func Handler(cfg Config) http.Handler {
	if cfg.BlockRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockRate)
	}
	if cfg.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexFraction)
	}

	r := chi.NewRouter()
	r.Route(cfg.path(), func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
	return r
}

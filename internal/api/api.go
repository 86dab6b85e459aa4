// Package api serves the dev server's HTTP endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/web/middleware"
	"github.com/modinspect/modinspect/internal/web/profiling"
	"github.com/modinspect/modinspect/internal/web/response"
	"github.com/modinspect/modinspect/internal/web/router"
	"go.uber.org/zap"
)

// MetadataPath is the endpoint serving project metadata.
const MetadataPath = "/api/metadata.json"

// Backend is what the handlers need from the connection manager.
type Backend interface {
	CallMetadata(ctx context.Context) (*inspector.Metadata, error)
	State() connection.State
}

// Handler holds the endpoints' dependencies.
type Handler struct {
	backend  Backend
	renderer *response.Renderer
	errors   *router.ErrorHandler
	logger   *zap.Logger
}

// Options configures NewRouter.
type Options struct {
	// CORSOrigins enables CORS for the listed origins when non-empty
	CORSOrigins []string
	// ShowErrors includes error text in 500 responses
	ShowErrors bool
	// PrettyJSON indents JSON bodies
	PrettyJSON bool
	// Profiling mounts the pprof endpoints
	Profiling bool

	Logger *zap.Logger
}

// NewHandler creates a Handler around backend.
func NewHandler(backend Backend, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer := response.NewRenderer()
	if opts.PrettyJSON {
		renderer = response.NewRendererWithPrettyPrint()
	}
	renderer.SetDefaultHeader("Cache-Control", "no-store")

	return &Handler{
		backend:  backend,
		renderer: renderer,
		errors:   router.NewErrorHandler(opts.ShowErrors),
		logger:   logger.Named("api"),
	}
}

// NewRouter mounts the endpoints and middleware on a fresh router.
func NewRouter(backend Backend, opts Options) *router.Router {
	h := NewHandler(backend, opts)

	r := router.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(h.logger, "/healthz"),
		middleware.Recovery(h.logger),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins...))
	}

	r.Handle(MetadataPath, http.HandlerFunc(h.Metadata))
	r.Get("/healthz", h.Health)

	if opts.Profiling {
		pprof := profiling.DefaultConfig()
		r.Handle(pprof.Pattern(), profiling.Handler(pprof))
	}
	return r
}

// Metadata answers any method with a fresh getMetadata from the backend.
// The request waits for the shared connection if it is still being
// established.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.backend.CallMetadata(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.renderer.Negotiate(w, r, http.StatusOK, md); err != nil {
		h.fail(w, r, err)
	}
}

type healthStatus struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
}

// Health reports the connection state without establishing it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.backend.State()
	status := healthStatus{Status: "ok", Connection: state.String()}
	code := http.StatusOK
	if state == connection.StateFailed {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	if err := h.renderer.JSON(w, code, status); err != nil {
		h.logger.Warn("health response failed", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// client went away; nobody reads the response
		h.logger.Debug("request abandoned",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		return
	}

	h.logger.Error("metadata request failed",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err),
	)
	h.errors.InternalServerError(w, r, err)
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/rpc"
	"github.com/modinspect/modinspect/internal/web/middleware"
	"github.com/modinspect/modinspect/internal/web/response"
	"github.com/modinspect/modinspect/internal/web/router"
	"github.com/modinspect/modinspect/internal/web/server"
	"go.uber.org/zap"
)

// RPCPath is where the backend accepts websocket connections.
const RPCPath = "/rpc"

// Server is the inspector backend: an rpc.Server mounted on an HTTP server
// together with a health endpoint.
type Server struct {
	rpc    *rpc.Server
	http   *server.Server
	router *router.Router
	logger *zap.Logger
}

// NewServer builds a backend for svc listening on addr. Nothing is bound
// until Start.
func NewServer(svc *inspector.Service, addr string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("backend")

	rpcConfig := rpc.DefaultServerConfig()
	rpcConfig.Logger = logger
	rpcServer := rpc.NewServer(rpcConfig)
	Register(rpcServer, svc)

	s := &Server{
		rpc:    rpcServer,
		router: router.NewRouter(),
		logger: logger,
	}

	s.router.Use(
		middleware.RequestID(),
		middleware.Logging(logger, "/healthz"),
		middleware.Recovery(logger),
	)
	s.router.Handle(RPCPath, rpcServer)
	s.router.Get("/healthz", s.health)

	config := server.DefaultConfig(s.router)
	config.Address = addr
	httpServer, err := server.New(config)
	if err != nil {
		return nil, err
	}
	s.http = httpServer
	return s, nil
}

// Handler returns the HTTP handler serving RPCPath and /healthz.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	if err := s.http.Listen(); err != nil {
		return fmt.Errorf("failed to start backend: %w", err)
	}
	go func() {
		if err := s.http.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("backend stopped", zap.Error(err))
		}
	}()
	s.logger.Debug("backend listening", zap.String("addr", s.http.Addr()))
	return nil
}

// URL is the websocket URL clients dial.
func (s *Server) URL() string {
	return s.http.URL("ws") + RPCPath
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.http.Addr()
}

// Shutdown closes websocket connections first; http.Server.Shutdown does
// not track hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.rpc.Shutdown(ctx), s.http.Shutdown(ctx))
}

type healthStatus struct {
	Status      string   `json:"status"`
	Connections int      `json:"connections"`
	Methods     []string `json:"methods"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:      "ok",
		Connections: s.rpc.ConnectionCount(),
		Methods:     s.rpc.Methods(),
	}
	if err := response.NewRenderer().JSON(w, http.StatusOK, status); err != nil {
		s.logger.Warn("health response failed", zap.Error(err))
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// HandlerFunc serves one JSON-RPC method.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// ServerConfig holds websocket configuration for a Server
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin filters upgrade requests
	CheckOrigin func(r *http.Request) bool

	Logger *zap.Logger
}

// DefaultServerConfig returns the configuration for a loopback backend.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			// the backend only serves the local dev server and tooling
			return true
		},
	}
}

// Server upgrades HTTP requests to websocket connections and serves
// registered methods on each of them. Calls run concurrently.
type Server struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	connsMu  sync.Mutex
	conns    map[string]jsonrpc2.Conn
	shutdown bool
	active   sync.WaitGroup
}

// NewServer creates a Server with no methods registered.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:   logger.Named("rpc.server"),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[string]jsonrpc2.Conn),
	}
}

// Handle registers fn for method, replacing any previous handler.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Methods lists the registered method names.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// ConnectionCount returns the number of open websocket connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	conn := jsonrpc2.NewConn(NewStream(ws))
	if !s.track(id, conn) {
		conn.Close()
		return
	}
	defer s.untrack(id)

	logger := s.logger.With(zap.String("conn_id", id))
	logger.Debug("client connected", zap.String("remote_addr", r.RemoteAddr))

	conn.Go(r.Context(), s.handler(logger))
	<-conn.Done()

	logger.Debug("client disconnected", zap.NamedError("reason", conn.Err()))
}

// Shutdown closes every connection and waits for them to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connsMu.Lock()
	s.shutdown = true
	conns := make([]jsonrpc2.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(id string, conn jsonrpc2.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[id] = conn
	s.active.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
	s.active.Done()
}

// handler dispatches each request on its own goroutine so a slow call
// (a payload scan) does not hold up cheap ones behind it.
func (s *Server) handler(logger *zap.Logger) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		s.mu.RLock()
		fn, ok := s.handlers[req.Method()]
		s.mu.RUnlock()

		if !ok {
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}

		go func() {
			start := time.Now()
			result, err := invoke(ctx, fn, req.Params())
			logger.Debug("rpc call",
				zap.String("method", req.Method()),
				zap.Duration("took", time.Since(start)),
				zap.Error(err),
			)
			if err := reply(ctx, result, toWireError(err)); err != nil {
				logger.Debug("reply failed", zap.String("method", req.Method()), zap.Error(err))
			}
		}()
		return nil
	}
}

func invoke(ctx context.Context, fn HandlerFunc, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jsonrpc2.Errorf(jsonrpc2.InternalError, "panic: %v", r)
		}
	}()
	return fn(ctx, params)
}

// toWireError keeps coded errors and files everything else as InternalError.
func toWireError(err error) error {
	if err == nil {
		return nil
	}
	var wire *jsonrpc2.Error
	if errors.As(err, &wire) {
		return err
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}

// DecodeParams unmarshals optional params into v; empty params leave v untouched.
func DecodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "invalid params: %v", err)
	}
	return nil
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/rpc"
	"github.com/modinspect/modinspect/internal/storage"
	"go.uber.org/zap"
)

// Options configures a Connector.
type Options struct {
	// URL of a running backend (ws://host:port/rpc). Empty starts an
	// embedded backend per connection.
	URL string
	// ListenAddr of the embedded backend
	ListenAddr string
	// DialTimeout bounds the websocket handshake
	DialTimeout time.Duration
	// Version is reported by an embedded backend
	Version string

	Logger *zap.Logger
}

// DefaultOptions returns options for an embedded loopback backend.
func DefaultOptions() Options {
	return Options{
		ListenAddr:  "127.0.0.1:0",
		DialTimeout: 10 * time.Second,
	}
}

// Connector establishes backend connections. Its Connect method is a
// connection.ConnectFunc.
type Connector struct {
	opts   Options
	logger *zap.Logger
}

// NewConnector creates a Connector.
func NewConnector(opts Options) *Connector {
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Connector{opts: opts, logger: opts.Logger}
}

// Connect dials the configured backend, starting an embedded one first when
// no URL is configured.
func (c *Connector) Connect(ctx context.Context, cfg connection.Config) (connection.Connection, error) {
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}

	url := c.opts.URL
	var embedded *Server
	if url == "" {
		var err error
		embedded, err = c.startEmbedded(cfg)
		if err != nil {
			return nil, err
		}
		url = embedded.URL()
	}

	client, err := rpc.Dial(ctx, url, rpc.DialOptions{
		HandshakeTimeout: c.opts.DialTimeout,
		Logger:           c.logger,
	})
	if err != nil {
		if embedded != nil {
			shutdownEmbedded(embedded)
		}
		return nil, fmt.Errorf("failed to reach backend: %w", err)
	}

	return &remoteConnection{client: client, embedded: embedded}, nil
}

func (c *Connector) startEmbedded(cfg connection.Config) (*Server, error) {
	svc := inspector.NewService(inspector.Config{
		Cwd:     cfg.WorkingDirectory(),
		Mode:    cfg.Mode(),
		Version: c.opts.Version,
		NpmMeta: cfg.Service(storage.NpmMeta),
		Publint: cfg.Service(storage.Publint),
		Logger:  c.logger,
	})

	srv, err := NewServer(svc, c.opts.ListenAddr, c.logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

func shutdownEmbedded(srv *Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// remoteConnection calls the backend over one websocket.
type remoteConnection struct {
	client   *rpc.Client
	embedded *Server

	closeOnce sync.Once
	closeErr  error
}

func (c *remoteConnection) GetPayload(ctx context.Context) (*inspector.Payload, error) {
	var payload inspector.Payload
	if err := c.client.Call(ctx, inspector.MethodGetPayload, inspector.PayloadParams{}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *remoteConnection) GetMetadata(ctx context.Context) (*inspector.Metadata, error) {
	var md inspector.Metadata
	if err := c.client.Call(ctx, inspector.MethodGetMetadata, nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Close closes the socket and stops an embedded backend.
func (c *remoteConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
		if c.embedded != nil {
			c.closeErr = errors.Join(c.closeErr, shutdownEmbedded(c.embedded))
		}
	})
	return c.closeErr
}

package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// DialOptions configures Dial.
type DialOptions struct {
	// HandshakeTimeout bounds the websocket upgrade
	HandshakeTimeout time.Duration
	// Header is sent with the upgrade request
	Header http.Header
	Logger *zap.Logger
}

// Client is the calling side of a JSON-RPC websocket connection.
type Client struct {
	id     string
	url    string
	conn   jsonrpc2.Conn
	logger *zap.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the JSON-RPC endpoint at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  4 * 1024,
	}

	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:     uuid.New().String(),
		url:    url,
		conn:   jsonrpc2.NewConn(NewStream(ws)),
		cancel: cancel,
		closed: make(chan struct{}),
	}
	c.logger = opts.Logger.Named("rpc.client").With(zap.String("conn_id", c.id))

	// The backend never calls back into the client.
	c.conn.Go(runCtx, jsonrpc2.MethodNotFoundHandler)

	c.logger.Debug("websocket connected", zap.String("url", url))
	return c, nil
}

// ID returns the client's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Call invokes method and decodes its result into result, which may be nil.
// A call pending when the connection drops fails with ErrClosed.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.conn.Done():
		return c.lostErr()
	default:
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// jsonrpc2 leaves pending calls waiting when the stream dies
	go func() {
		select {
		case <-c.conn.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()

	if _, err := c.conn.Call(callCtx, method, params, result); err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return c.lostErr()
		}
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	return nil
}

// Done is closed once the underlying connection has stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close shuts the connection down and waits for its read loop to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.conn.Close()
		<-c.conn.Done()
		c.logger.Debug("websocket closed")
	})
	return err
}

func (c *Client) lostErr() error {
	if err := c.conn.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return ErrClosed
}

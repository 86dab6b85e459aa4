// Package rpc carries JSON-RPC 2.0 over websocket connections, one message
// per text frame.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.lsp.dev/jsonrpc2"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Payloads of large
	// dependency trees run into megabytes.
	maxMessageSize = 64 << 20
)

// ErrClosed is returned when using a stream or client after Close.
var ErrClosed = errors.New("rpc: connection closed")

// wsStream adapts a websocket connection to jsonrpc2.Stream.
type wsStream struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps conn so a jsonrpc2.Conn can run on it.
func NewStream(conn *websocket.Conn) jsonrpc2.Stream {
	conn.SetReadLimit(maxMessageSize)
	return &wsStream{conn: conn}
}

// Read implements jsonrpc2.Stream.
func (s *wsStream) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, 0, fmt.Errorf("read websocket frame: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := jsonrpc2.DecodeMessage(data)
		return msg, int64(len(data)), err
	}
}

// Write implements jsonrpc2.Stream.
func (s *wsStream) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshaling message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, fmt.Errorf("write websocket frame: %w", err)
	}
	return int64(len(data)), nil
}

// Close sends a close frame and closes the underlying connection.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

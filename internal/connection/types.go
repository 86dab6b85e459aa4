package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/storage"
	"go.uber.org/zap"
)

// Errors
var (
	ErrConnect = errors.New("connection: establishing backend connection failed")
	ErrClosed  = errors.New("connection: manager closed")
	ErrReset   = errors.New("connection: reset during establishment")
)

// Connection is the remote-callable surface of the inspector backend.
type Connection interface {
	// GetPayload returns the backend's package snapshot.
	GetPayload(ctx context.Context) (*inspector.Payload, error)

	// GetMetadata describes the inspected project.
	GetMetadata(ctx context.Context) (*inspector.Metadata, error)

	// Close releases the connection. Only the Manager calls it.
	Close() error
}

// ConnectFunc establishes a backend connection for cfg.
type ConnectFunc func(ctx context.Context, cfg Config) (Connection, error)

// Config is the immutable description of the backend to connect to.
type Config struct {
	workingDirectory string
	mode             inspector.Mode
	services         map[string]storage.Cache
}

// NewConfig builds a Config. The services map is copied.
func NewConfig(workingDirectory string, mode inspector.Mode, services map[string]storage.Cache) Config {
	copied := make(map[string]storage.Cache, len(services))
	for name, svc := range services {
		copied[name] = svc
	}
	return Config{
		workingDirectory: workingDirectory,
		mode:             mode,
		services:         copied,
	}
}

// WorkingDirectory is the root of the inspected project.
func (c Config) WorkingDirectory() string { return c.workingDirectory }

// Mode is the operating mode handed to the backend.
func (c Config) Mode() inspector.Mode { return c.mode }

// Service returns the storage handle registered under name.
func (c Config) Service(name string) storage.Cache {
	return c.services[name]
}

// FailurePolicy decides what happens to a failed establishment.
type FailurePolicy string

const (
	// FailPermanently keeps the failure; every later Get returns it.
	FailPermanently FailurePolicy = "fail-permanently"
	// RetryOnFailure discards the failure; the next Get connects again.
	RetryOnFailure FailurePolicy = "retry-on-failure"
)

// ParseFailurePolicy validates a policy name.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case FailPermanently, RetryOnFailure:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (expected %s or %s)", s, FailPermanently, RetryOnFailure)
	}
}

// State is the lifecycle position of the Manager's connection cell.
type State int

const (
	StateUnset State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	FailurePolicy FailurePolicy

	// WarmupDelay postpones the priming call after establishment
	WarmupDelay time.Duration
	// WarmupTimeout bounds the priming call; zero means no bound
	WarmupTimeout time.Duration

	Logger *zap.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		FailurePolicy: FailPermanently,
		WarmupDelay:   time.Millisecond,
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown runs a server until a signal or context cancellation and
// then drains it. Shutdown hooks run before the drain, cleanup hooks after.
type GracefulShutdown struct {
	server        *Server
	shutdownHooks []namedHook
	cleanupHooks  []namedHook
	timeout       time.Duration
	signals       []os.Signal
	logger        *zap.Logger
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	shutdownError error
}

// ShutdownHook is a function called during graceful shutdown
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   ShutdownHook
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for shutdown
	Timeout time.Duration

	// Signals to listen for (default: SIGINT, SIGTERM)
	Signals []os.Signal

	Logger *zap.Logger
}

// DefaultShutdownConfig returns default shutdown configuration
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, config *ShutdownConfig) *GracefulShutdown {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if len(config.Signals) == 0 {
		config.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GracefulShutdown{
		server:       server,
		timeout:      config.Timeout,
		signals:      config.Signals,
		logger:       logger.Named("server"),
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook registers a hook run before the HTTP server is drained.
// Hooks run in registration order; a failing hook does not stop the others.
func (gs *GracefulShutdown) RegisterHook(name string, hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdownHooks = append(gs.shutdownHooks, namedHook{name: name, fn: hook})
}

// RegisterCleanup registers a hook run after in-flight requests have been
// drained, for resources those requests still use.
func (gs *GracefulShutdown) RegisterCleanup(name string, hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.cleanupHooks = append(gs.cleanupHooks, namedHook{name: name, fn: hook})
}

// Run serves until ctx is cancelled, a shutdown signal arrives or the server
// fails, then shuts down.
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	if err := gs.server.Listen(); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		gs.logger.Info("listening", zap.String("addr", gs.server.Addr()))
		if err := gs.server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, gs.signals...)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		gs.logger.Info("shutdown signal received", zap.Stringer("signal", sig))
	case <-ctx.Done():
		gs.logger.Info("context cancelled, shutting down")
	case err := <-errChan:
		gs.Shutdown()
		return err
	}
	return gs.Shutdown()
}

// Shutdown runs the shutdown hooks, drains the server and runs the cleanup
// hooks. Only the first call does any work; later calls wait for it and
// return the same error.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		gs.mu.Lock()
		hooks := append([]namedHook(nil), gs.shutdownHooks...)
		cleanups := append([]namedHook(nil), gs.cleanupHooks...)
		gs.mu.Unlock()

		gs.runHooks(ctx, hooks)

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownError = fmt.Errorf("server shutdown error: %w", err)
			gs.logger.Error("server shutdown failed", zap.Error(err))
		} else {
			gs.logger.Info("server stopped")
		}

		gs.runHooks(ctx, cleanups)

		close(gs.shutdownChan)
	})

	<-gs.shutdownChan
	return gs.shutdownError
}

// runHooks runs hooks in order; a failing hook does not stop the others.
func (gs *GracefulShutdown) runHooks(ctx context.Context, hooks []namedHook) {
	for _, hook := range hooks {
		if err := hook.fn(ctx); err != nil {
			gs.logger.Warn("shutdown hook failed", zap.String("hook", hook.name), zap.Error(err))
		}
	}
}

// Wait blocks until shutdown is complete
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownError
}

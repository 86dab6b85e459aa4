package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modinspect/modinspect/internal/inspector"
	"go.uber.org/zap"
)

// establishment is the shared future of one connect attempt. done is closed
// once conn or err is set; neither changes afterwards.
type establishment struct {
	done chan struct{}
	conn Connection
	err  error
}

func (e *establishment) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
	}
	return false
}

// Manager lazily establishes and then shares one backend Connection.
type Manager struct {
	cfg     Config
	connect ConnectFunc
	opts    Options
	logger  *zap.Logger

	// ctx outlives every caller; establishment and warm-up run on it
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cell     *establishment
	attempts int
	closed   bool

	warmups sync.WaitGroup
}

// NewManager creates a Manager. Nothing is connected until the first Get.
func NewManager(cfg Config, connect ConnectFunc, opts Options) *Manager {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = FailPermanently
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		connect: connect,
		opts:    opts,
		logger:  logger.Named("connection"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Get returns the shared connection, starting its establishment if this is
// the first call. Cancelling ctx abandons only this caller's wait.
func (m *Manager) Get(ctx context.Context) (Connection, error) {
	e := m.acquire()

	select {
	case <-e.done:
		return e.conn, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallMetadata issues a fresh getMetadata on the shared connection.
func (m *Manager) CallMetadata(ctx context.Context) (*inspector.Metadata, error) {
	conn, err := m.Get(ctx)
	if err != nil {
		return nil, err
	}
	return conn.GetMetadata(ctx)
}

// acquire performs the check-then-set of the cell. The goroutine it starts
// never touches m.mu before the cell is assigned.
func (m *Manager) acquire() *establishment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		e := &establishment{done: make(chan struct{}), err: ErrClosed}
		close(e.done)
		return e
	}

	if m.cell != nil {
		retry := m.opts.FailurePolicy == RetryOnFailure && m.cell.resolved() && m.cell.err != nil
		if !retry {
			return m.cell
		}
		m.logger.Info("retrying failed backend connection", zap.Int("attempt", m.attempts+1))
	}

	e := &establishment{done: make(chan struct{})}
	m.cell = e
	m.attempts++
	go m.establish(e)
	return e
}

func (m *Manager) establish(e *establishment) {
	start := time.Now()
	conn, err := m.safeConnect()

	if err != nil {
		e.err = fmt.Errorf("%w: %w", ErrConnect, err)
		close(e.done)
		m.logger.Error("backend connection failed",
			zap.String("cwd", m.cfg.WorkingDirectory()),
			zap.String("policy", string(m.opts.FailurePolicy)),
			zap.Error(err),
		)
		return
	}

	// waiters are released only after the cell is re-checked under mu
	m.mu.Lock()
	current := m.cell == e && !m.closed
	if current {
		e.conn = conn
		m.warmups.Add(1)
	} else if m.closed {
		e.err = ErrClosed
	} else {
		e.err = ErrReset
	}
	close(e.done)
	m.mu.Unlock()

	if !current {
		m.logger.Debug("dropping superseded backend connection", zap.Error(e.err))
		conn.Close()
		return
	}

	m.logger.Info("backend connected",
		zap.String("cwd", m.cfg.WorkingDirectory()),
		zap.Duration("took", time.Since(start)),
	)
	go m.warmUp(conn)
}

// safeConnect turns a panicking ConnectFunc into an error so waiters are
// always released.
func (m *Manager) safeConnect() (conn Connection, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, fmt.Errorf("connect panicked: %v", r)
		}
	}()

	conn, err = m.connect(m.ctx, m.cfg)
	if err == nil && conn == nil {
		err = fmt.Errorf("connect returned no connection")
	}
	return conn, err
}

// warmUp issues the priming getPayload. Its payload and error are dropped on
// purpose: the call exists to fill the backend's cache before real traffic.
func (m *Manager) warmUp(conn Connection) {
	defer m.warmups.Done()

	if d := m.opts.WarmupDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			timer.Stop()
			return
		}
	}

	ctx := m.ctx
	if m.opts.WarmupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.WarmupTimeout)
		defer cancel()
	}

	start := time.Now()
	if _, err := conn.GetPayload(ctx); err != nil {
		m.logger.Debug("warm-up failed", zap.Error(err))
		return
	}
	m.logger.Debug("warm-up finished", zap.Duration("took", time.Since(start)))
}

// State reports the lifecycle position of the connection cell.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.cell == nil:
		return StateUnset
	case !m.cell.resolved():
		return StateInitializing
	case m.cell.err != nil:
		return StateFailed
	default:
		return StateReady
	}
}

// Attempts returns how many establishments have been started.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Reset empties the cell so the next Get connects again. A ready connection
// is closed. One still being established is closed when it resolves, and
// its waiters get ErrReset.
func (m *Manager) Reset() {
	m.mu.Lock()
	old := m.cell
	m.cell = nil
	m.mu.Unlock()

	if old != nil && old.resolved() && old.conn != nil {
		old.conn.Close()
	}
}

// Close stops warm-up, waits for it to return and closes the connection.
// Later Gets fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cell := m.cell
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.warmups.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if cell != nil && cell.resolved() && cell.conn != nil {
		return cell.conn.Close()
	}
	return nil
}

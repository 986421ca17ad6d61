package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robopong/slingbot/pkg/logger"
	"github.com/robopong/slingbot/pkg/metrics"
)

// defaultCallTimeout bounds each primitive action; the slow ball-handling
// poses on the physical rig need generous headroom.
const defaultCallTimeout = 30 * time.Second

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithCallTimeout sets the per-invoke timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

// Manager owns the authenticated arm session: login, token lifetime, logoff.
// It is the single owner of the credential; the orchestrator only holds the
// Invoke capability.
type Manager struct {
	arm         Arm
	callTimeout time.Duration
	logger      logger.Logger

	mu        sync.Mutex
	sessionID string
	token     string
	active    bool
}

// NewManager creates a session manager for the given arm.
func NewManager(arm Arm, opts ...Option) *Manager {
	m := &Manager{
		arm:         arm,
		callTimeout: defaultCallTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logger.Get().Named("actuator")
	}

	return m
}

// Login performs the credential exchange. Fails with ErrAuth when the arm
// rejects the exchange; an already-active session is reused.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	token, err := m.arm.Login(ctx)
	if err != nil {
		metrics.RecordSessionError()
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	m.sessionID = uuid.NewString()
	m.token = token
	m.active = true
	metrics.UpdateSessionActive(true)
	m.logger.Info(ctx, "actuator session established",
		logger.String("sessionID", m.sessionID),
	)
	return nil
}

// Invoke executes one primitive action synchronously. Failures classify
// distinctly as ErrTimeout or ErrFault.
func (m *Manager) Invoke(ctx context.Context, a Action) error {
	m.mu.Lock()
	token, active := m.token, m.active
	m.mu.Unlock()

	if !active {
		return ErrNoSession
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	err := m.arm.Do(ctx, token, a)
	elapsed := time.Since(start)
	metrics.RecordActuatorCall(string(a.Name), elapsed, err == nil)

	if err != nil {
		err = classify(err, a)
		m.logger.Warn(ctx, "actuator call failed",
			logger.String("action", string(a.Name)),
			logger.Duration("elapsed", elapsed),
			logger.Error(err),
		)
		return err
	}

	m.logger.Debug(ctx, "actuator call completed",
		logger.String("action", string(a.Name)),
		logger.Duration("elapsed", elapsed),
	)
	return nil
}

// Logoff ends the session. Idempotent: the local state is cleared regardless
// of the remote outcome and the remote call is made at most once per session.
func (m *Manager) Logoff(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}

	token, sessionID := m.token, m.sessionID
	m.token = ""
	m.sessionID = ""
	m.active = false
	metrics.UpdateSessionActive(false)

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	if err := m.arm.Logoff(ctx, token); err != nil {
		// Best effort: the local session is already gone.
		m.logger.Warn(ctx, "remote logoff failed",
			logger.String("sessionID", sessionID),
			logger.Error(err),
		)
		return nil
	}

	m.logger.Info(ctx, "actuator session closed",
		logger.String("sessionID", sessionID),
	)
	return nil
}

// Active reports whether a session is currently established.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// classify maps an arm error to the timeout/fault vocabulary, preserving
// errors already classified by the arm implementation.
func classify(err error, a Action) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrFault):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s did not confirm: %w", ErrTimeout, a.Name, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrFault, a.Name, err)
	}
}

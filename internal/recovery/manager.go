package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Listener observes error records as they enter the recovery chain.
// Listeners are fire-and-forget: a panic or slow listener never affects
// the run outcome.
type Listener func(ctx context.Context, rec *schema.ErrorRecord)

// RetryFunc re-invokes the failed action. The engine closes over the
// original dispatch so strategies stay decoupled from action wiring.
type RetryFunc func(ctx context.Context) *run.Result

// Strategy attempts to recover from a classified failure. Recover
// returns the replacement result on success; a nil result or error
// means the next strategy gets its turn.
type Strategy interface {
	Name() string
	CanRecover(rec *schema.ErrorRecord) bool
	Recover(ctx context.Context, rec *schema.ErrorRecord, rctx *run.Context, retry RetryFunc) (*run.Result, error)
}

// Manager owns the listener set and the ordered strategy chain.
type Manager struct {
	mu         sync.RWMutex
	listeners  []Listener
	strategies []Strategy
	logger     *slog.Logger
}

// NewManager creates an empty recovery manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// AddListener registers an observer for incoming error records.
func (m *Manager) AddListener(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddStrategy appends a strategy to the chain. Order matters: the first
// strategy to recover wins.
func (m *Manager) AddStrategy(s Strategy) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append(m.strategies, s)
}

// Strategies returns the chain in registration order.
func (m *Manager) Strategies() []Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Strategy, len(m.strategies))
	copy(out, m.strategies)
	return out
}

// Handle notifies listeners, then walks the strategy chain in
// registration order. It returns the recovered result and true when a
// strategy succeeds; otherwise (nil, false) and the original record
// stands.
func (m *Manager) Handle(ctx context.Context, rec *schema.ErrorRecord, rctx *run.Context, retry RetryFunc) (*run.Result, bool) {
	if rec == nil {
		return nil, false
	}

	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	strategies := make([]Strategy, len(m.strategies))
	copy(strategies, m.strategies)
	m.mu.RUnlock()

	for _, l := range listeners {
		m.notify(ctx, l, rec)
	}

	for _, s := range strategies {
		if !s.CanRecover(rec) {
			continue
		}
		res, err := s.Recover(ctx, rec, rctx, retry)
		if err != nil {
			m.logger.WarnContext(ctx, "recovery strategy failed",
				"strategy", s.Name(), "action_id", rec.ActionID, "kind", string(rec.Kind), "error", err)
			continue
		}
		if res != nil && res.Success {
			m.logger.InfoContext(ctx, "recovered from failure",
				"strategy", s.Name(), "action_id", rec.ActionID, "kind", string(rec.Kind))
			return res, true
		}
	}
	return nil, false
}

// notify invokes one listener with panic isolation.
func (m *Manager) notify(ctx context.Context, l Listener, rec *schema.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WarnContext(ctx, "error listener panicked",
				"action_id", rec.ActionID, "panic", fmt.Sprint(r))
		}
	}()
	l(ctx, rec)
}

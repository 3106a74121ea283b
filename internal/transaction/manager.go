// Package transaction keeps a stack of named compensations that undo the
// steps of a multi-step operation when a later step fails.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// RollbackFunc reverses one completed step
type RollbackFunc func(ctx context.Context) error

type step struct {
	name string
	fn   RollbackFunc
}

// Manager manages a stack of rollback operations
type Manager struct {
	steps  []step
	mu     sync.Mutex
	logger *zerolog.Logger
}

// NewManager creates a new transaction manager
func NewManager(logger *zerolog.Logger) *Manager {
	return &Manager{
		steps:  make([]step, 0),
		logger: logger,
	}
}

// Add pushes a compensation for a step that just completed
func (m *Manager) Add(name string, fn RollbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Names returns the pending compensations in the order they would run
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.steps))
	for i := len(m.steps) - 1; i >= 0; i-- {
		out = append(out, m.steps[i].name)
	}
	return out
}

// Rollback runs every compensation in reverse order (LIFO). A failing
// compensation does not stop the ones below it. Compensations run detached
// from ctx cancellation so an interrupted session is still fully undone.
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	steps := m.steps
	m.steps = nil
	m.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}

	if m.logger != nil {
		m.logger.Info().Int("steps", len(steps)).Msg("rolling back transaction")
	}

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		op := steps[i]
		if m.logger != nil {
			m.logger.Debug().Str("operation", op.name).Msg("rolling back")
		}

		if err := op.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback %q: %w", op.name, err))
			if m.logger != nil {
				m.logger.Error().Err(err).Str("operation", op.name).Msg("rollback failed")
			}
		}
	}

	return errors.Join(errs...)
}

// Commit clears the rollback stack, confirming the transaction
func (m *Manager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = nil
}

package session

import (
	"context"
	"sync"
)

// MemoryOperators is an OperatorStore for tests and development.
type MemoryOperators struct {
	mu      sync.RWMutex
	byEmail map[string]Operator
}

func NewMemoryOperators() *MemoryOperators {
	return &MemoryOperators{byEmail: make(map[string]Operator)}
}

func (m *MemoryOperators) OperatorByEmail(_ context.Context, email string) (Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.byEmail[email]
	if !ok {
		return Operator{}, ErrOperatorNotFound
	}
	return op, nil
}

func (m *MemoryOperators) SaveOperator(_ context.Context, op Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[op.Email] = op
	return nil
}

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and early development.
// CAS semantics match the Postgres implementation: one mutex-guarded
// read-validate-write per call.
//
// NOTE: This is not intended for production; replace with PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next Status, extra StatusFields) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status != expected {
		return Session{}, ErrConflict
	}

	s.Status = next
	if extra.StartedAt != nil && s.StartedAt == nil {
		t := *extra.StartedAt
		s.StartedAt = &t
	}
	if extra.EndedAt != nil && s.EndedAt == nil {
		t := *extra.EndedAt
		s.EndedAt = &t
	}
	if extra.EndReason != "" {
		s.EndReason = extra.EndReason
	}
	m.sessions[id] = s
	return s, nil
}

func (m *MemoryStore) IncrementBilling(ctx context.Context, id string, secondsDelta int, amountDeltaMinor int64) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return Session{}, ErrTerminal
	}
	s.BilledSeconds += secondsDelta
	s.AmountChargedMinor += amountDeltaMinor
	m.sessions[id] = s
	return s, nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.ReaderID != userID && s.ClientID != userID {
			continue
		}
		if s.RequestedAt.Before(from) || !s.RequestedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

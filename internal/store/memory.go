package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Adapter with the same versioning semantics as the
// Postgres implementation. It backs tests and single-node dev runs.
type Memory struct {
	mu        sync.Mutex
	tickets   map[uuid.UUID]Ticket
	bySession map[string]uuid.UUID

	// failing simulates StoreUnavailable for fault-injection tests.
	failing error
}

func NewMemory() *Memory {
	return &Memory{
		tickets:   make(map[uuid.UUID]Ticket),
		bySession: make(map[string]uuid.UUID),
	}
}

// Fail makes every subsequent call return err; Fail(nil) heals the store.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return Ticket{}, m.failing
	}
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetBySession(ctx context.Context, sessionID string) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return Ticket{}, m.failing
	}
	id, ok := m.bySession[sessionID]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return m.tickets[id], nil
}

func (m *Memory) Create(ctx context.Context, t Ticket) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return Ticket{}, m.failing
	}
	if _, ok := m.bySession[t.SessionID]; ok {
		return Ticket{}, ErrWriteConflict
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
	m.tickets[t.ID] = t
	m.bySession[t.SessionID] = t.ID
	return t, nil
}

func (m *Memory) UpdateVersioned(ctx context.Context, t Ticket) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return Ticket{}, m.failing
	}
	cur, ok := m.tickets[t.ID]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	if cur.Version != t.Version {
		return Ticket{}, ErrWriteConflict
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	m.tickets[t.ID] = t
	return t, nil
}

func (m *Memory) List(ctx context.Context, status Status) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return nil, m.failing
	}
	var out []Ticket
	for _, t := range m.tickets {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Package directory answers whether a user id exists, which role it holds and
// whether the account is active.
package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/breaker"
)

var ErrUserNotFound = apperror.NotFound("USER_NOT_FOUND", "user not found")

type User struct {
	ID     uuid.UUID `json:"id"`
	Role   auth.Role `json:"role"`
	Active bool      `json:"active"`
}

type Directory interface {
	// Lookup returns ErrUserNotFound for unknown ids. Inactive users are
	// returned with Active=false.
	Lookup(ctx context.Context, id uuid.UUID) (*User, error)
	// ActiveOnly filters ids down to existing active users, preserving order.
	ActiveOnly(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// Guarded routes every call through a circuit breaker.
type Guarded struct {
	next    Directory
	breaker *breaker.Breaker
}

func NewGuarded(next Directory, b *breaker.Breaker) *Guarded {
	return &Guarded{next: next, breaker: b}
}

func (g *Guarded) Lookup(ctx context.Context, id uuid.UUID) (*User, error) {
	var u *User
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		u, err = g.next.Lookup(ctx, id)
		return err
	})
	return u, err
}

func (g *Guarded) ActiveOnly(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.ActiveOnly(ctx, ids)
		return err
	})
	return out, err
}

// Memory is an in-process Directory used by tests and local runs.
type Memory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[uuid.UUID]User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *Memory) Put(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SetActive flips a user's active flag; unknown ids are ignored.
func (m *Memory) SetActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Active = active
		m.users[id] = u
	}
}

func (m *Memory) Lookup(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) ActiveOnly(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok && u.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

package notification

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps notifications in a map. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) InsertBatch(_ context.Context, rows []*Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range rows {
		cp := *n
		s.rows[n.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListUnread(_ context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	s.mu.RLock()
	var all []*Notification
	for _, n := range s.rows {
		if n.RecipientID == recipientID && n.Status == StatusSent && !n.Read {
			cp := *n
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// ForRecipient returns every row addressed to id, SENT or FAILED.
func (s *MemoryStore) ForRecipient(id uuid.UUID) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.rows {
		if n.RecipientID == id {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}

// Len is the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

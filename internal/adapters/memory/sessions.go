// Package memory holds in-process adapters used by trailctl and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// SessionRepository implements ports.SessionRepository in memory.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.ProcessingSession
	now      func() time.Time
}

// NewSessionRepository creates an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]domain.ProcessingSession),
		now:      time.Now,
	}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.ProcessingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", domain.ErrSessionConflict, s.ID)
	}
	cp := *s
	cp.SelectedIDs = append([]string(nil), s.SelectedIDs...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.sessions[s.ID] = cp
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.ProcessingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (r *SessionRepository) Transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if s.State != from {
		return nil, fmt.Errorf("%w: session %s is %s, not %s", domain.ErrSessionConflict, id, s.State, from)
	}
	if err := s.Transition(to, reason, r.now().UTC()); err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return &s, nil
}

// List returns the newest sessions first.
func (r *SessionRepository) List(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, error) {
	r.mu.RLock()
	out := make([]domain.ProcessingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return []domain.ProcessingSession{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored sessions.
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

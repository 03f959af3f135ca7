package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

func newRepo(t *testing.T) *SessionRepo {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionRepo(db)
}

func TestSessionRepo_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &domain.ProcessingSession{
		ID: "s1", Workspace: "ws1", SelectedIDs: []string{"1", "R7"},
		State: domain.SessionPending, CreatedAt: created,
	}))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ws1", got.Workspace)
	assert.Equal(t, []string{"1", "R7"}, got.SelectedIDs)
	assert.Equal(t, domain.SessionPending, got.State)
	assert.True(t, got.CreatedAt.Equal(created))

	err = repo.Create(ctx, &domain.ProcessingSession{ID: "s1", Workspace: "ws1", State: domain.SessionPending})
	assert.ErrorIs(t, err, domain.ErrSessionConflict)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepo_Transition(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Create(ctx, &domain.ProcessingSession{ID: "s1", Workspace: "ws1", State: domain.SessionPending}))

	s, err := repo.Transition(ctx, "s1", domain.SessionPending, domain.SessionRunning, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRunning, s.State)

	_, err = repo.Transition(ctx, "s1", domain.SessionPending, domain.SessionRunning, "")
	assert.ErrorIs(t, err, domain.ErrSessionConflict)

	s, err = repo.Transition(ctx, "s1", domain.SessionRunning, domain.SessionFailed, "sample: raster unavailable")
	require.NoError(t, err)
	assert.Equal(t, "sample: raster unavailable", s.Reason)

	s, err = repo.Transition(ctx, "s1", domain.SessionFailed, domain.SessionPending, "ignored")
	require.NoError(t, err)
	assert.Empty(t, s.Reason)

	_, err = repo.Transition(ctx, "s1", domain.SessionPending, domain.SessionDone, "")
	assert.ErrorIs(t, err, domain.ErrSessionConflict)

	_, err = repo.Transition(ctx, "nope", domain.SessionPending, domain.SessionRunning, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepo_ExclusiveRun(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.Create(ctx, &domain.ProcessingSession{ID: "s1", Workspace: "ws1", State: domain.SessionPending}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Transition(ctx, "s1", domain.SessionPending, domain.SessionRunning, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSessionRepo_List(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, &domain.ProcessingSession{
			ID: id, Workspace: "ws", State: domain.SessionPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	one, err := repo.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	page, err := repo.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"b", "a"}, []string{page[0].ID, page[1].ID})

	tail, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "a", tail[0].ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// SessionRepo implements ports.SessionRepository on SQLite.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a SessionRepo.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.ProcessingSession) error {
	ids, err := json.Marshal(s.SelectedIDs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created, updated := s.CreatedAt, s.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace, selected_ids, state, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Workspace, string(ids), string(s.State), s.Reason, formatTime(created), formatTime(updated))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: session %s already exists", domain.ErrSessionConflict, s.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.ProcessingSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workspace, selected_ids, state, reason, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s, err
}

// Transition updates the state only if it still equals from.
func (r *SessionRepo) Transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: session %s cannot go from %s to %s", domain.ErrSessionConflict, id, from, to)
	}
	if to != domain.SessionFailed {
		reason = ""
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, reason = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(to), reason, formatTime(time.Now().UTC()), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: session %s is %s, not %s", domain.ErrSessionConflict, id, current, from)
	}

	s, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT id, workspace, selected_ids, state, reason, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}
	return s, tx.Commit()
}

func (r *SessionRepo) List(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace, selected_ids, state, reason, created_at, updated_at
		FROM sessions ORDER BY created_at DESC, id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SessionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.ProcessingSession, error) {
	var (
		s                domain.ProcessingSession
		ids, state       string
		created, updated string
	)
	if err := row.Scan(&s.ID, &s.Workspace, &ids, &state, &s.Reason, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &s.SelectedIDs); err != nil {
		return nil, fmt.Errorf("session %s: selected_ids: %w", s.ID, err)
	}
	s.State = domain.SessionState(state)
	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, err
	}
	return &s, nil
}

// formatTime renders a fixed-width timestamp so text ordering matches time
// ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

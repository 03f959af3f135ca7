package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

const uniqueViolation = "23505"

// SessionRepo implements ports.SessionRepository with pgx.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, workspace, selected_ids, state, reason, created_at, updated_at`

// Create inserts a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.ProcessingSession) error {
	ids := s.SelectedIDs
	if ids == nil {
		ids = []string{}
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, workspace, selected_ids, state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, s.ID, s.Workspace, ids, string(s.State), s.Reason, created)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: session %s already exists", domain.ErrSessionConflict, s.ID)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.ProcessingSession, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// Transition is a single conditional UPDATE; the row only changes when its
// state still equals from.
func (r *SessionRepo) Transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: session %s cannot go from %s to %s", domain.ErrSessionConflict, id, from, to)
	}
	if to != domain.SessionFailed {
		reason = ""
	}

	row := r.db.Pool.QueryRow(ctx, `
		UPDATE sessions SET state = $3, reason = $4, updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING `+sessionColumns,
		id, string(from), string(to), reason)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition session: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: session %s is %s, not %s", domain.ErrSessionConflict, id, current.State, from)
}

// List returns the newest sessions first.
// A non-positive limit means no limit.
func (r *SessionRepo) List(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, error) {
	var bound *int
	if limit > 0 {
		bound = &limit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, bound, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
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

// Count returns the number of stored sessions.
func (r *SessionRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func scanSession(row pgx.Row) (*domain.ProcessingSession, error) {
	var (
		s     domain.ProcessingSession
		state string
	)
	if err := row.Scan(&s.ID, &s.Workspace, &s.SelectedIDs, &state, &s.Reason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.State = domain.SessionState(state)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

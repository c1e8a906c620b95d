package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/waveline/server/internal/model"
)

// SessionRepo defines the interface for session repository operations
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, userAgent string) (model.Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new valid session for the user.
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, userAgent string) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, user_agent)
		VALUES ($1, $2)
		RETURNING id, user_id, user_agent, valid, created_at
	`, userID, userAgent).Scan(&s.ID, &s.UserID, &s.UserAgent, &s.Valid, &s.CreatedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetByID retrieves a session by ID
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, user_agent, valid, created_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.UserAgent, &s.Valid, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// Invalidate sets valid = false. Idempotent: invalidating an already-invalid
// session succeeds. A session is never re-activated.
func (r *sessionRepo) Invalidate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET valid = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return requireRow(result)
}

// ListActive returns the user's sessions with valid = true.
func (r *sessionRepo) ListActive(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, user_agent, valid, created_at
		FROM sessions
		WHERE user_id = $1 AND valid
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.UserAgent, &s.Valid, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

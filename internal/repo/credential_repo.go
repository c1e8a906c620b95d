package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waveline/server/internal/model"
)

// Purpose selects which single-use credential flow a record belongs to. Each
// purpose maps to its own table; all three share the same shape and the same
// invariant of at most one active record per user.
type Purpose int

const (
	EmailVerification Purpose = iota
	PasswordReset
	EmailChange
)

func (p Purpose) String() string {
	switch p {
	case EmailVerification:
		return "email_verification"
	case PasswordReset:
		return "password_reset"
	case EmailChange:
		return "email_change"
	}
	return "unknown"
}

func (p Purpose) table() string {
	switch p {
	case EmailVerification:
		return "email_verifications"
	case PasswordReset:
		return "password_resets"
	case EmailChange:
		return "email_changes"
	}
	panic(fmt.Sprintf("unknown credential purpose %d", int(p)))
}

// carriesNewEmail reports whether records of this purpose store a payload
// (the requested new address, email-change only).
func (p Purpose) carriesNewEmail() bool {
	return p == EmailChange
}

// CredentialRepo manages single-use expiring token records, one table per
// purpose.
type CredentialRepo interface {
	// Upsert creates the record for the user or, if one exists, overwrites
	// its token and validity window in a single conditional write. Only the
	// newest token for a user+purpose is ever valid.
	Upsert(ctx context.Context, purpose Purpose, userID uuid.UUID, token string, validUntil time.Time, newEmail string) (model.CredentialRecord, error)
	// FindByToken looks a record up by its token.
	FindByToken(ctx context.Context, purpose Purpose, token string) (model.CredentialRecord, error)
	// FindByTokenAndUser looks a record up by token and owning user, used by
	// the email-change confirmation which scopes by both.
	FindByTokenAndUser(ctx context.Context, purpose Purpose, token string, userID uuid.UUID) (model.CredentialRecord, error)
	// DeleteForUser removes the user's record so the token cannot be
	// replayed after the flow completes.
	DeleteForUser(ctx context.Context, purpose Purpose, userID uuid.UUID) error
}

type credentialRepo struct {
	db *sql.DB
}

// NewCredentialRepo creates a new CredentialRepo instance
func NewCredentialRepo(db *sql.DB) CredentialRepo {
	return &credentialRepo{db: db}
}

// Upsert relies on the unique index on user_id: concurrent re-issues resolve
// to one row with the last writer's token, never two rows.
func (r *credentialRepo) Upsert(ctx context.Context, purpose Purpose, userID uuid.UUID, token string, validUntil time.Time, newEmail string) (model.CredentialRecord, error) {
	var (
		row *sql.Row
		rec model.CredentialRecord
		err error
	)
	if purpose.carriesNewEmail() {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO `+purpose.table()+` (user_id, token, valid_until, new_email)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE
			SET token = EXCLUDED.token, valid_until = EXCLUDED.valid_until, new_email = EXCLUDED.new_email
			RETURNING id, user_id, token, valid_until, new_email, created_at
		`, userID, token, validUntil, newEmail)
		err = row.Scan(&rec.ID, &rec.UserID, &rec.Token, &rec.ValidUntil, &rec.NewEmail, &rec.CreatedAt)
	} else {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO `+purpose.table()+` (user_id, token, valid_until)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET token = EXCLUDED.token, valid_until = EXCLUDED.valid_until
			RETURNING id, user_id, token, valid_until, created_at
		`, userID, token, validUntil)
		err = row.Scan(&rec.ID, &rec.UserID, &rec.Token, &rec.ValidUntil, &rec.CreatedAt)
	}
	if err != nil {
		return model.CredentialRecord{}, fmt.Errorf("upsert %s record: %w", purpose, err)
	}
	return rec, nil
}

func (r *credentialRepo) FindByToken(ctx context.Context, purpose Purpose, token string) (model.CredentialRecord, error) {
	return r.find(ctx, purpose, `token = $1`, token)
}

func (r *credentialRepo) FindByTokenAndUser(ctx context.Context, purpose Purpose, token string, userID uuid.UUID) (model.CredentialRecord, error) {
	return r.find(ctx, purpose, `token = $1 AND user_id = $2`, token, userID)
}

func (r *credentialRepo) find(ctx context.Context, purpose Purpose, where string, args ...any) (model.CredentialRecord, error) {
	var (
		rec model.CredentialRecord
		err error
	)
	if purpose.carriesNewEmail() {
		row := r.db.QueryRowContext(ctx, `
			SELECT id, user_id, token, valid_until, new_email, created_at
			FROM `+purpose.table()+` WHERE `+where, args...)
		err = row.Scan(&rec.ID, &rec.UserID, &rec.Token, &rec.ValidUntil, &rec.NewEmail, &rec.CreatedAt)
	} else {
		row := r.db.QueryRowContext(ctx, `
			SELECT id, user_id, token, valid_until, created_at
			FROM `+purpose.table()+` WHERE `+where, args...)
		err = row.Scan(&rec.ID, &rec.UserID, &rec.Token, &rec.ValidUntil, &rec.CreatedAt)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CredentialRecord{}, ErrNotFound
		}
		return model.CredentialRecord{}, fmt.Errorf("find %s record: %w", purpose, err)
	}
	return rec, nil
}

// DeleteForUser is a no-op when no record exists: a consumed record may
// already have been overwritten by a re-issue.
func (r *credentialRepo) DeleteForUser(ctx context.Context, purpose Purpose, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM `+purpose.table()+` WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete %s record: %w", purpose, err)
	}
	return nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/waveline/server/internal/model"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error
	SetEmail(ctx context.Context, id uuid.UUID, email string, verified bool) (model.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role model.Role) (model.User, error)
	Disable(ctx context.Context, id uuid.UUID) error
	AdminExists(ctx context.Context) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, email_verified, disabled, created_at, updated_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.EmailVerified,
		&u.Disabled,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// Create inserts a new user. Email uniqueness is enforced by the database;
// a conflicting insert returns ErrDuplicate.
func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns+`
	`, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role)

	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by email (exact match).
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// SetPassword replaces the stored password hash.
func (r *userRepo) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(result)
}

// SetEmailVerified updates the email verification flag.
func (r *userRepo) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified = $2, updated_at = now() WHERE id = $1
	`, id, verified)
	if err != nil {
		return fmt.Errorf("update email_verified: %w", err)
	}
	return requireRow(result)
}

// SetEmail replaces the email address and verification flag in one update,
// used when an email change is confirmed.
func (r *userRepo) SetEmail(ctx context.Context, id uuid.UUID, email string, verified bool) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET email = $2, email_verified = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, email, verified)
	return scanUser(row)
}

// SetRole updates the user's role.
func (r *userRepo) SetRole(ctx context.Context, id uuid.UUID, role model.Role) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET role = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, role)
	return scanUser(row)
}

// Disable marks the user disabled, clears the verification flag, and
// invalidates all of the user's sessions in the same transaction so a
// disabled user can never retain a live session.
func (r *userRepo) Disable(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET disabled = true, email_verified = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("disable user: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET valid = false WHERE user_id = $1 AND valid
	`, id)
	if err != nil {
		return fmt.Errorf("invalidate sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AdminExists reports whether any admin account exists.
func (r *userRepo) AdminExists(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)
	`, model.RoleAdmin).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin exists: %w", err)
	}
	return exists, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

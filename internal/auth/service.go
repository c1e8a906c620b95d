package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waveline/server/internal/logging"
	"github.com/waveline/server/internal/mail"
	"github.com/waveline/server/internal/model"
	"github.com/waveline/server/internal/repo"
)

// TTLConfig carries the token lifetimes the service issues.
type TTLConfig struct {
	AccessToken     time.Duration
	RefreshToken    time.Duration
	CredentialToken time.Duration
}

// AuthService orchestrates the credential lifecycle: registration, login and
// session issuance, token refresh, and the three single-use token flows.
type AuthService struct {
	users    repo.UserRepo
	sessions repo.SessionRepo
	creds    repo.CredentialRepo
	hasher   *PasswordHasher
	jwt      *JWTService
	mailer   mail.Mailer
	ttl      TTLConfig
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repo.UserRepo,
	sessions repo.SessionRepo,
	creds repo.CredentialRepo,
	hasher *PasswordHasher,
	jwtService *JWTService,
	mailer mail.Mailer,
	ttl TTLConfig,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		creds:    creds,
		hasher:   hasher,
		jwt:      jwtService,
		mailer:   mailer,
		ttl:      ttl,
	}
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *AuthService) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx).With("svc", "auth")
}

func (s *AuthService) createUser(ctx context.Context, input RegisterInput, role model.Role) (model.User, error) {
	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return model.User{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return model.User{}, err
	}

	user, err := s.users.Create(ctx, model.User{
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         role,
	})
	if err != nil {
		// The pre-check races with concurrent registrations; the unique
		// index has the final word.
		if errors.Is(err, repo.ErrDuplicate) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Register creates a user with an unverified email, issues a verification
// token, and sends the welcome email. The email send is best-effort: a
// failure is logged but the created user is still returned, with
// resend-verification as the recovery path.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (model.PublicUser, error) {
	user, err := s.createUser(ctx, input, model.RoleUser)
	if err != nil {
		return model.PublicUser{}, err
	}

	record, err := s.issueCredential(ctx, repo.EmailVerification, user.ID, "")
	if err != nil {
		s.logger(ctx).Error("issue verification token failed", "user_id", user.ID, "error", err)
		return user.Public(), nil
	}
	if err := s.mailer.SendWelcomeEmail(ctx, user.Email, user.FullName(), record.Token); err != nil {
		s.logger(ctx).Error("welcome email failed", "user_id", user.ID, "error", err)
	}

	s.logger(ctx).Info("user created", "user_id", user.ID)
	return user.Public(), nil
}

// CreateAdmin creates an admin account. Callers are responsible for gating
// this behind an admin check.
func (s *AuthService) CreateAdmin(ctx context.Context, input RegisterInput) (model.PublicUser, error) {
	user, err := s.createUser(ctx, input, model.RoleAdmin)
	if err != nil {
		return model.PublicUser{}, err
	}
	s.logger(ctx).Info("admin created", "user_id", user.ID)
	return user.Public(), nil
}

// CreateFirstAdmin is the unauthenticated bootstrap path. It fails once any
// admin exists, closing the bootstrap window after first use.
func (s *AuthService) CreateFirstAdmin(ctx context.Context, input RegisterInput) (model.PublicUser, error) {
	exists, err := s.users.AdminExists(ctx)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("check admin exists: %w", err)
	}
	if exists {
		s.logger(ctx).Warn("first-admin bootstrap attempted with existing admin")
		return model.PublicUser{}, ErrAdminExists
	}

	user, err := s.createUser(ctx, input, model.RoleAdmin)
	if err != nil {
		return model.PublicUser{}, err
	}
	s.logger(ctx).Info("first admin created", "user_id", user.ID)
	return user.Public(), nil
}

// Login validates credentials, creates a session, and signs an access/refresh
// token pair bound to it. Unknown email and wrong password both return
// ErrInvalidCredentials; the unknown-email path still burns a bcrypt
// comparison so the two are indistinguishable by timing.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent string) (TokenPair, error) {
	l := s.logger(ctx).With("email", logging.MaskEmail(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			l.Warn("login failed", "reason", "unknown email")
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		l.Warn("login failed", "reason", "wrong password")
		return TokenPair{}, ErrInvalidCredentials
	}

	if user.Disabled {
		l.Warn("login failed", "reason", "account disabled")
		return TokenPair{}, ErrAccountDisabled
	}

	session, err := s.sessions.Create(ctx, user.ID, userAgent)
	if err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, err := s.jwt.Sign(user, session.ID, PurposeAccess, s.ttl.AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := s.jwt.Sign(user, session.ID, PurposeRefresh, s.ttl.RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	l.Info("login success", "user_id", user.ID, "session_id", session.ID)
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Logout invalidates the caller's session. Idempotent: logging out of an
// already-invalid or missing session succeeds.
func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("invalidate session: %w", err)
	}
	s.logger(ctx).Info("logout", "session_id", sessionID)
	return nil
}

// Sessions lists the user's active sessions.
func (s *AuthService) Sessions(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// ReissueAccessToken redeems a refresh token for a new access token. This is
// a pure read: the refresh token must verify against the refresh key, the
// session it names must still be valid, and the owning user must exist. An
// invalidated session blocks this path permanently regardless of how much
// lifetime the refresh token has left.
func (s *AuthService) ReissueAccessToken(ctx context.Context, refreshToken string) (string, error) {
	result := s.jwt.Verify(refreshToken, PurposeRefresh)
	if !result.Valid {
		return "", ErrRefreshDenied
	}

	session, err := s.sessions.GetByID(ctx, result.Claims.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrRefreshDenied
		}
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if !session.Valid {
		return "", ErrRefreshDenied
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrRefreshDenied
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	return s.jwt.Sign(user, session.ID, PurposeAccess, s.ttl.AccessToken)
}

// issueCredential generates a fresh token and upserts the record, always
// extending a full validity window from now. Any previously issued token for
// the same user and purpose stops working.
func (s *AuthService) issueCredential(ctx context.Context, purpose repo.Purpose, userID uuid.UUID, newEmail string) (model.CredentialRecord, error) {
	token, err := RandomToken(DefaultTokenLength)
	if err != nil {
		return model.CredentialRecord{}, err
	}
	return s.creds.Upsert(ctx, purpose, userID, token, time.Now().Add(s.ttl.CredentialToken), newEmail)
}

// CheckToken resolves a single-use token to its owning user, distinguishing
// an unknown token (ErrInvalidToken) from a known but stale one
// (ErrTokenExpired).
func (s *AuthService) CheckToken(ctx context.Context, purpose repo.Purpose, token string) (model.User, error) {
	record, err := s.creds.FindByToken(ctx, purpose, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrInvalidToken
		}
		return model.User{}, err
	}
	if record.Expired(time.Now()) {
		return model.User{}, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrInvalidToken
		}
		return model.User{}, err
	}
	return user, nil
}

// ForgotPassword issues (or refreshes) a password-reset token and emails the
// reset link. Reveals whether the email is registered; see DESIGN.md.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger(ctx).Warn("password reset for unknown email", "email", logging.MaskEmail(email))
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	record, err := s.issueCredential(ctx, repo.PasswordReset, user.ID, "")
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, user.FullName(), record.Token); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}

	s.logger(ctx).Info("password reset email sent", "user_id", user.ID)
	return nil
}

// ResetPassword hashes and stores a new password for the user. When viaToken
// is set (reset-by-token flow) the consumed reset record is deleted so the
// token cannot be replayed, and a success notification is sent best-effort.
// The authenticated change-password flow passes viaToken=false and skips
// both.
func (s *AuthService) ResetPassword(ctx context.Context, user model.User, newPassword string, viaToken bool) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	if viaToken {
		if err := s.creds.DeleteForUser(ctx, repo.PasswordReset, user.ID); err != nil {
			s.logger(ctx).Error("delete reset record failed", "user_id", user.ID, "error", err)
		}
		if err := s.mailer.SendPasswordResetSuccessEmail(ctx, user.Email, user.FullName()); err != nil {
			s.logger(ctx).Error("reset success email failed", "user_id", user.ID, "error", err)
		}
	}

	s.logger(ctx).Info("password reset", "user_id", user.ID)
	return nil
}

// VerifyEmail marks the user's email verified and removes the consumed
// verification record.
func (s *AuthService) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetEmailVerified(ctx, userID, true); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("set email verified: %w", err)
	}
	if err := s.creds.DeleteForUser(ctx, repo.EmailVerification, userID); err != nil {
		s.logger(ctx).Error("delete verification record failed", "user_id", userID, "error", err)
	}
	s.logger(ctx).Info("email verified", "user_id", userID)
	return nil
}

// ResendVerification re-issues the verification token, discarding the one
// from any earlier email, and re-sends the welcome email.
func (s *AuthService) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	record, err := s.issueCredential(ctx, repo.EmailVerification, user.ID, "")
	if err != nil {
		return err
	}
	if err := s.mailer.SendWelcomeEmail(ctx, user.Email, user.FullName(), record.Token); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	s.logger(ctx).Info("verification email resent", "user_id", user.ID)
	return nil
}

// RequestEmailChange issues an email-change token carrying the requested new
// address and sends the confirmation link to the user's current address. The
// current address must already be verified.
func (s *AuthService) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) (model.PublicUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PublicUser{}, ErrUserNotFound
		}
		return model.PublicUser{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.EmailVerified {
		return model.PublicUser{}, ErrNotVerified
	}

	record, err := s.issueCredential(ctx, repo.EmailChange, user.ID, newEmail)
	if err != nil {
		return model.PublicUser{}, err
	}
	if err := s.mailer.SendEmailChangeEmail(ctx, user.Email, user.FullName(), user.ID.String(), record.Token); err != nil {
		return model.PublicUser{}, fmt.Errorf("send email change email: %w", err)
	}

	s.logger(ctx).Info("email change requested", "user_id", user.ID)
	return user.Public(), nil
}

// ConfirmEmailChange applies the address stored in the email-change record
// looked up by token and user together, marks the new address verified, and
// removes the record.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, userID uuid.UUID, token string) (model.PublicUser, error) {
	record, err := s.creds.FindByTokenAndUser(ctx, repo.EmailChange, token, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PublicUser{}, ErrInvalidToken
		}
		return model.PublicUser{}, err
	}
	if record.Expired(time.Now()) {
		return model.PublicUser{}, ErrTokenExpired
	}

	user, err := s.users.SetEmail(ctx, userID, record.NewEmail, true)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PublicUser{}, ErrUserNotFound
		}
		return model.PublicUser{}, fmt.Errorf("set email: %w", err)
	}
	if err := s.creds.DeleteForUser(ctx, repo.EmailChange, userID); err != nil {
		s.logger(ctx).Error("delete email change record failed", "user_id", userID, "error", err)
	}

	s.logger(ctx).Info("email change confirmed", "user_id", user.ID)
	return user.Public(), nil
}

// ChangeUserRole updates a user's role.
func (s *AuthService) ChangeUserRole(ctx context.Context, userID uuid.UUID, role model.Role) (model.PublicUser, error) {
	user, err := s.users.SetRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PublicUser{}, ErrUserNotFound
		}
		return model.PublicUser{}, fmt.Errorf("set role: %w", err)
	}
	s.logger(ctx).Info("role changed", "user_id", userID, "role", role)
	return user.Public(), nil
}

// DisableUser marks the account disabled and invalidates all of its sessions
// atomically. There is no re-enable operation.
func (s *AuthService) DisableUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.Disable(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("disable user: %w", err)
	}
	s.logger(ctx).Info("user disabled", "user_id", userID)
	return nil
}

// GetUser returns the user's public record.
func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (model.PublicUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PublicUser{}, ErrUserNotFound
		}
		return model.PublicUser{}, fmt.Errorf("lookup user: %w", err)
	}
	return user.Public(), nil
}

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveline/server/internal/model"
	"github.com/waveline/server/internal/repo"
)

// memStore is an in-memory stand-in for the three repositories, faithful to
// their contracts: unique emails, upsert-by-user credential records, and
// disable cascading into session invalidation.
type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	sessions map[uuid.UUID]model.Session
	creds    map[credKey]model.CredentialRecord
}

type credKey struct {
	purpose repo.Purpose
	userID  uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]model.User),
		sessions: make(map[uuid.UUID]model.Session),
		creds:    make(map[credKey]model.CredentialRecord),
	}
}

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, user model.User) (model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == user.Email {
			return model.User{}, repo.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.s.users[user.ID] = user
	return user, nil
}

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	user, ok := m.s.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return user, nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (m memUsers) update(id uuid.UUID, fn func(*model.User)) (model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	user, ok := m.s.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	fn(&user)
	user.UpdatedAt = time.Now()
	m.s.users[id] = user
	return user, nil
}

func (m memUsers) SetPassword(_ context.Context, id uuid.UUID, hash string) error {
	_, err := m.update(id, func(u *model.User) { u.PasswordHash = hash })
	return err
}

func (m memUsers) SetEmailVerified(_ context.Context, id uuid.UUID, verified bool) error {
	_, err := m.update(id, func(u *model.User) { u.EmailVerified = verified })
	return err
}

func (m memUsers) SetEmail(_ context.Context, id uuid.UUID, email string, verified bool) (model.User, error) {
	return m.update(id, func(u *model.User) {
		u.Email = email
		u.EmailVerified = verified
	})
}

func (m memUsers) SetRole(_ context.Context, id uuid.UUID, role model.Role) (model.User, error) {
	return m.update(id, func(u *model.User) { u.Role = role })
}

func (m memUsers) Disable(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	user, ok := m.s.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	user.Disabled = true
	user.EmailVerified = false
	m.s.users[id] = user
	for sid, session := range m.s.sessions {
		if session.UserID == id {
			session.Valid = false
			m.s.sessions[sid] = session
		}
	}
	return nil
}

func (m memUsers) AdminExists(_ context.Context) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Role == model.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

type memSessions struct{ s *memStore }

func (m memSessions) Create(_ context.Context, userID uuid.UUID, userAgent string) (model.Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	session := model.Session{
		ID:        uuid.New(),
		UserID:    userID,
		UserAgent: userAgent,
		Valid:     true,
		CreatedAt: time.Now(),
	}
	m.s.sessions[session.ID] = session
	return session, nil
}

func (m memSessions) GetByID(_ context.Context, id uuid.UUID) (model.Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	session, ok := m.s.sessions[id]
	if !ok {
		return model.Session{}, repo.ErrNotFound
	}
	return session, nil
}

func (m memSessions) Invalidate(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	session, ok := m.s.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	session.Valid = false
	m.s.sessions[id] = session
	return nil
}

func (m memSessions) ListActive(_ context.Context, userID uuid.UUID) ([]model.Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var active []model.Session
	for _, session := range m.s.sessions {
		if session.UserID == userID && session.Valid {
			active = append(active, session)
		}
	}
	return active, nil
}

type memCreds struct{ s *memStore }

func (m memCreds) Upsert(_ context.Context, purpose repo.Purpose, userID uuid.UUID, token string, validUntil time.Time, newEmail string) (model.CredentialRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := credKey{purpose, userID}
	rec, ok := m.s.creds[key]
	if !ok {
		rec = model.CredentialRecord{ID: uuid.New(), UserID: userID, CreatedAt: time.Now()}
	}
	rec.Token = token
	rec.ValidUntil = validUntil
	if purpose == repo.EmailChange {
		rec.NewEmail = newEmail
	}
	m.s.creds[key] = rec
	return rec, nil
}

func (m memCreds) FindByToken(_ context.Context, purpose repo.Purpose, token string) (model.CredentialRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for key, rec := range m.s.creds {
		if key.purpose == purpose && rec.Token == token {
			return rec, nil
		}
	}
	return model.CredentialRecord{}, repo.ErrNotFound
}

func (m memCreds) FindByTokenAndUser(_ context.Context, purpose repo.Purpose, token string, userID uuid.UUID) (model.CredentialRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rec, ok := m.s.creds[credKey{purpose, userID}]
	if !ok || rec.Token != token {
		return model.CredentialRecord{}, repo.ErrNotFound
	}
	return rec, nil
}

func (m memCreds) DeleteForUser(_ context.Context, purpose repo.Purpose, userID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.creds, credKey{purpose, userID})
	return nil
}

// recordingMailer captures sends instead of delivering them.
type recordingMailer struct {
	mu    sync.Mutex
	sends []sentMail
	fail  bool
}

type sentMail struct {
	kind  string
	to    string
	token string
}

func (m *recordingMailer) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sends = append(m.sends, sentMail{kind: kind, to: to, token: token})
	return nil
}

func (m *recordingMailer) SendWelcomeEmail(_ context.Context, to, _, token string) error {
	return m.record("welcome", to, token)
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	return m.record("reset", to, token)
}

func (m *recordingMailer) SendPasswordResetSuccessEmail(_ context.Context, to, _ string) error {
	return m.record("reset-success", to, "")
}

func (m *recordingMailer) SendEmailChangeEmail(_ context.Context, to, _, _, token string) error {
	return m.record("email-change", to, token)
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sends)
	return m.sends[len(m.sends)-1]
}

func newTestService(t *testing.T) (*AuthService, *memStore, *recordingMailer) {
	t.Helper()
	store := newMemStore()
	mailer := &recordingMailer{}
	svc := NewAuthService(
		memUsers{store},
		memSessions{store},
		memCreds{store},
		NewPasswordHasher(4),
		newTestJWTService(t),
		mailer,
		TTLConfig{
			AccessToken:     15 * time.Minute,
			RefreshToken:    365 * 24 * time.Hour,
			CredentialToken: 24 * time.Hour,
		},
	)
	return svc, store, mailer
}

func registerTestUser(t *testing.T, svc *AuthService) model.PublicUser {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "a@x.com",
		Password:  "Passw0rd!",
	})
	require.NoError(t, err)
	return user
}

func TestRegister(t *testing.T) {
	svc, store, mailer := newTestService(t)

	user := registerTestUser(t, svc)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.False(t, user.EmailVerified)
	assert.False(t, user.Disabled)

	stored := store.users[user.ID]
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash, "password must be stored hashed")

	sent := mailer.last(t)
	assert.Equal(t, "welcome", sent.kind)
	assert.Equal(t, "a@x.com", sent.to)
	record := store.creds[credKey{repo.EmailVerification, user.ID}]
	assert.Equal(t, record.Token, sent.token, "emailed token must match the stored record")
	assert.Len(t, record.Token, DefaultTokenLength)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Other", LastName: "Person", Email: "a@x.com", Password: "different1",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_MailFailureDoesNotRollBack(t *testing.T) {
	svc, store, mailer := newTestService(t)
	mailer.fail = true

	user, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ada", LastName: "Lovelace", Email: "a@x.com", Password: "Passw0rd!",
	})
	require.NoError(t, err, "failed welcome email must not fail registration")
	_, exists := store.users[user.ID]
	assert.True(t, exists)
}

func TestLogin(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := registerTestUser(t, svc)

	tokens, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	result := svc.jwt.Verify(tokens.AccessToken, PurposeAccess)
	require.True(t, result.Valid)
	assert.Equal(t, user.ID, result.Claims.UserID)

	session := store.sessions[result.Claims.SessionID]
	assert.True(t, session.Valid)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, "test-agent", session.UserAgent)

	refreshResult := svc.jwt.Verify(tokens.RefreshToken, PurposeRefresh)
	require.True(t, refreshResult.Valid)
	assert.Equal(t, result.Claims.SessionID, refreshResult.Claims.SessionID,
		"both tokens must bind the same session")
}

func TestLogin_BadCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, err := svc.Login(context.Background(), "a@x.com", "wrong-password", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@x.com", "Passw0rd!", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email must yield the same error as a wrong password")
}

func TestLogin_DisabledAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := registerTestUser(t, svc)
	require.NoError(t, svc.DisableUser(context.Background(), user.ID))

	_, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestLogout_Idempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	registerTestUser(t, svc)

	tokens, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "")
	require.NoError(t, err)
	sessionID := svc.jwt.Verify(tokens.AccessToken, PurposeAccess).Claims.SessionID

	require.NoError(t, svc.Logout(context.Background(), sessionID))
	assert.False(t, store.sessions[sessionID].Valid)

	require.NoError(t, svc.Logout(context.Background(), sessionID))
	require.NoError(t, svc.Logout(context.Background(), uuid.New()), "missing session logout must succeed")
}

func TestReissueAccessToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := registerTestUser(t, svc)

	tokens, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "")
	require.NoError(t, err)

	accessToken, err := svc.ReissueAccessToken(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)

	result := svc.jwt.Verify(accessToken, PurposeAccess)
	require.True(t, result.Valid)
	assert.Equal(t, user.ID, result.Claims.UserID)
}

func TestReissueAccessToken_SessionBound(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	tokens, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "")
	require.NoError(t, err)
	sessionID := svc.jwt.Verify(tokens.RefreshToken, PurposeRefresh).Claims.SessionID

	require.NoError(t, svc.Logout(context.Background(), sessionID))

	// The refresh token has nearly a year of life left; the dead session
	// must block it anyway.
	_, err = svc.ReissueAccessToken(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshDenied)
}

func TestReissueAccessToken_RejectsBadTokens(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := registerTestUser(t, svc)

	_, err := svc.ReissueAccessToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrRefreshDenied)

	tokens, err := svc.Login(context.Background(), "a@x.com", "Passw0rd!", "")
	require.NoError(t, err)

	// An access token is signed with the access key and must not pass as a
	// refresh token.
	_, err = svc.ReissueAccessToken(context.Background(), tokens.AccessToken)
	assert.ErrorIs(t, err, ErrRefreshDenied)

	// Deleted owner blocks refresh as well.
	store.mu.Lock()
	delete(store.users, user.ID)
	store.mu.Unlock()
	_, err = svc.ReissueAccessToken(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshDenied)
}

func TestForgotPassword_SingleFlight(t *testing.T) {
	svc, store, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	firstToken := mailer.last(t).token

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	secondToken := mailer.last(t).token
	require.NotEqual(t, firstToken, secondToken)

	// Only one record per user+purpose, holding only the newest token.
	count := 0
	for key := range store.creds {
		if key.purpose == repo.PasswordReset && key.userID == user.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)

	_, err := svc.CheckToken(ctx, repo.PasswordReset, firstToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "re-issuing must discard the earlier token")

	resolved, err := svc.CheckToken(ctx, repo.PasswordReset, secondToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ForgotPassword(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCheckToken_Expired(t *testing.T) {
	svc, store, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	token := mailer.last(t).token

	key := credKey{repo.PasswordReset, user.ID}
	store.mu.Lock()
	rec := store.creds[key]
	rec.ValidUntil = time.Now().Add(-time.Second)
	store.creds[key] = rec
	store.mu.Unlock()

	_, err := svc.CheckToken(ctx, repo.PasswordReset, token)
	assert.ErrorIs(t, err, ErrTokenExpired, "stale token must be distinguishable from an unknown one")
}

func TestResetPassword_ViaToken(t *testing.T) {
	svc, store, mailer := newTestService(t)
	pub := registerTestUser(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "a@x.com"))
	token := mailer.last(t).token

	user, err := svc.CheckToken(ctx, repo.PasswordReset, token)
	require.NoError(t, err)
	require.NoError(t, svc.ResetPassword(ctx, user, "NewPassw0rd!", true))

	_, err = svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "a@x.com", "NewPassw0rd!", "")
	assert.NoError(t, err)

	_, exists := store.creds[credKey{repo.PasswordReset, pub.ID}]
	assert.False(t, exists, "consumed reset record must be deleted")
	assert.Equal(t, "reset-success", mailer.last(t).kind)
}

func TestVerifyEmail(t *testing.T) {
	svc, store, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	token := mailer.last(t).token
	resolved, err := svc.CheckToken(ctx, repo.EmailVerification, token)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyEmail(ctx, resolved.ID))

	assert.True(t, store.users[user.ID].EmailVerified)
	_, exists := store.creds[credKey{repo.EmailVerification, user.ID}]
	assert.False(t, exists)
}

func TestResendVerification_RotatesToken(t *testing.T) {
	svc, _, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	firstToken := mailer.last(t).token
	require.NoError(t, svc.ResendVerification(ctx, user.ID))
	secondToken := mailer.last(t).token
	require.NotEqual(t, firstToken, secondToken)

	_, err := svc.CheckToken(ctx, repo.EmailVerification, firstToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.CheckToken(ctx, repo.EmailVerification, secondToken)
	assert.NoError(t, err)
}

func TestEmailChange(t *testing.T) {
	svc, store, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	// Unverified accounts cannot request a change.
	_, err := svc.RequestEmailChange(ctx, user.ID, "b@x.com")
	assert.ErrorIs(t, err, ErrNotVerified)

	require.NoError(t, svc.VerifyEmail(ctx, user.ID))
	_, err = svc.RequestEmailChange(ctx, user.ID, "b@x.com")
	require.NoError(t, err)

	sent := mailer.last(t)
	assert.Equal(t, "email-change", sent.kind)
	assert.Equal(t, "a@x.com", sent.to, "confirmation goes to the current address")

	// Confirmation is scoped by token and user together.
	_, err = svc.ConfirmEmailChange(ctx, uuid.New(), sent.token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	updated, err := svc.ConfirmEmailChange(ctx, user.ID, sent.token)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", updated.Email)
	assert.True(t, updated.EmailVerified)

	_, exists := store.creds[credKey{repo.EmailChange, user.ID}]
	assert.False(t, exists)

	_, err = svc.ConfirmEmailChange(ctx, user.ID, sent.token)
	assert.ErrorIs(t, err, ErrInvalidToken, "consumed token must not replay")
}

func TestConfirmEmailChange_Expired(t *testing.T) {
	svc, store, mailer := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.VerifyEmail(ctx, user.ID))
	_, err := svc.RequestEmailChange(ctx, user.ID, "b@x.com")
	require.NoError(t, err)
	token := mailer.last(t).token

	key := credKey{repo.EmailChange, user.ID}
	store.mu.Lock()
	rec := store.creds[key]
	rec.ValidUntil = time.Now().Add(-time.Minute)
	store.creds[key] = rec
	store.mu.Unlock()

	_, err = svc.ConfirmEmailChange(ctx, user.ID, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCreateFirstAdmin_Bootstrap(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	admin, err := svc.CreateFirstAdmin(ctx, RegisterInput{
		FirstName: "Root", LastName: "Admin", Email: "admin@x.com", Password: "Sup3rSecret",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)

	_, err = svc.CreateFirstAdmin(ctx, RegisterInput{
		FirstName: "Second", LastName: "Admin", Email: "admin2@x.com", Password: "Sup3rSecret",
	})
	assert.ErrorIs(t, err, ErrAdminExists, "bootstrap window must close after the first admin")
}

func TestChangeUserRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := registerTestUser(t, svc)

	updated, err := svc.ChangeUserRole(context.Background(), user.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, updated.Role)

	_, err = svc.ChangeUserRole(context.Background(), uuid.New(), model.RoleAdmin)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDisableUser_Cascades(t *testing.T) {
	svc, store, _ := newTestService(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	_, err := svc.Login(ctx, "a@x.com", "Passw0rd!", "laptop")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "a@x.com", "Passw0rd!", "phone")
	require.NoError(t, err)

	active, err := svc.Sessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, svc.DisableUser(ctx, user.ID))

	active, err = svc.Sessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, active, "disable must invalidate every session")
	assert.True(t, store.users[user.ID].Disabled)
	assert.False(t, store.users[user.ID].EmailVerified)

	_, err = svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

package auth

import "errors"

// Sentinel errors returned by the auth service. Handlers map these onto HTTP
// statuses with errors.Is; anything else is treated as a server error.
var (
	// ErrEmailTaken is returned on registration with an already-used email.
	ErrEmailTaken = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown email and wrong password so
	// login failures cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountDisabled is returned when a disabled user attempts to log in.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrInvalidToken is returned for unknown or tampered single-use tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for a known single-use token past its
	// validity window. Distinct from ErrInvalidToken so callers can tell a
	// stale link from a bogus one.
	ErrTokenExpired = errors.New("token expired")

	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrAdminExists is returned by the first-admin bootstrap once any admin
	// account exists.
	ErrAdminExists = errors.New("admin user already exists")

	// ErrNotVerified is returned when an email change is requested for an
	// account whose current address was never verified.
	ErrNotVerified = errors.New("email not verified")

	// ErrRefreshDenied is returned when an access token cannot be reissued:
	// bad refresh token, invalidated session, or missing user.
	ErrRefreshDenied = errors.New("refresh denied")
)

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/waveline/server/internal/model"
)

// KeyPurpose selects which RSA keypair signs or verifies a token. Access and
// refresh material is never mixed: compromising one key cannot forge tokens
// of the other kind.
type KeyPurpose int

const (
	PurposeAccess KeyPurpose = iota
	PurposeRefresh
)

// Claims is the signed payload of access and refresh tokens: the user
// identity (minus the password hash) plus the owning session.
type Claims struct {
	UserID        uuid.UUID  `json:"uid"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Role          model.Role `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	SessionID     uuid.UUID  `json:"session"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == model.RoleAdmin
}

// VerifyResult is the outcome of verifying a token. Expired is only
// meaningful when Valid is false: it distinguishes a well-signed but stale
// token from a tampered or malformed one, which is what decides whether a
// refresh attempt is even plausible.
type VerifyResult struct {
	Valid   bool
	Expired bool
	Claims  *Claims
}

// JWTService signs and verifies RS256 tokens with purpose-separate keypairs.
type JWTService struct {
	accessPrivate  *rsa.PrivateKey
	accessPublic   *rsa.PublicKey
	refreshPrivate *rsa.PrivateKey
	refreshPublic  *rsa.PublicKey
}

// NewJWTService creates a token signer/verifier from the two RSA keypairs.
func NewJWTService(accessPrivate *rsa.PrivateKey, accessPublic *rsa.PublicKey, refreshPrivate *rsa.PrivateKey, refreshPublic *rsa.PublicKey) *JWTService {
	return &JWTService{
		accessPrivate:  accessPrivate,
		accessPublic:   accessPublic,
		refreshPrivate: refreshPrivate,
		refreshPublic:  refreshPublic,
	}
}

// Sign creates a token binding the user identity to the session, expiring
// after ttl.
func (s *JWTService) Sign(user model.User, sessionID uuid.UUID, purpose KeyPurpose, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:        user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		SessionID:     sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.signingKey(purpose))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a token against the public key for the given
// purpose. It never returns an error: malformed, tampered, or expired tokens
// all come back as a VerifyResult describing the failure.
func (s *JWTService) Verify(tokenString string, purpose KeyPurpose) VerifyResult {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.verifyingKey(purpose), nil
	})
	if err != nil {
		return VerifyResult{Expired: errors.Is(err, jwt.ErrTokenExpired)}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return VerifyResult{}
	}
	return VerifyResult{Valid: true, Claims: claims}
}

func (s *JWTService) signingKey(purpose KeyPurpose) *rsa.PrivateKey {
	if purpose == PurposeRefresh {
		return s.refreshPrivate
	}
	return s.accessPrivate
}

func (s *JWTService) verifyingKey(purpose KeyPurpose) *rsa.PublicKey {
	if purpose == PurposeRefresh {
		return s.refreshPublic
	}
	return s.accessPublic
}

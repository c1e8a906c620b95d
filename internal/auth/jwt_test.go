package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveline/server/internal/model"
)

func newTestJWTService(t *testing.T) *JWTService {
	t.Helper()
	accessKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	refreshKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewJWTService(accessKey, &accessKey.PublicKey, refreshKey, &refreshKey.PublicKey)
}

func testUser() model.User {
	return model.User{
		ID:            uuid.New(),
		Email:         "a@x.com",
		FirstName:     "Ada",
		LastName:      "Lovelace",
		Role:          model.RoleUser,
		EmailVerified: true,
	}
}

func TestJWTService_SignAndVerify(t *testing.T) {
	svc := newTestJWTService(t)
	user := testUser()
	sessionID := uuid.New()

	token, err := svc.Sign(user, sessionID, PurposeAccess, 15*time.Minute)
	require.NoError(t, err)

	result := svc.Verify(token, PurposeAccess)
	require.True(t, result.Valid)
	assert.False(t, result.Expired)
	require.NotNil(t, result.Claims)
	assert.Equal(t, user.ID, result.Claims.UserID)
	assert.Equal(t, user.Email, result.Claims.Email)
	assert.Equal(t, sessionID, result.Claims.SessionID)
	assert.Equal(t, model.RoleUser, result.Claims.Role)
	assert.True(t, result.Claims.EmailVerified)
	assert.False(t, result.Claims.IsAdmin())
}

func TestJWTService_PurposeKeysNeverMix(t *testing.T) {
	svc := newTestJWTService(t)
	user := testUser()

	accessToken, err := svc.Sign(user, uuid.New(), PurposeAccess, time.Minute)
	require.NoError(t, err)
	refreshToken, err := svc.Sign(user, uuid.New(), PurposeRefresh, time.Minute)
	require.NoError(t, err)

	// A token verified against the other purpose's key fails as invalid,
	// not as expired.
	crossed := svc.Verify(accessToken, PurposeRefresh)
	assert.False(t, crossed.Valid)
	assert.False(t, crossed.Expired)
	assert.Nil(t, crossed.Claims)

	crossed = svc.Verify(refreshToken, PurposeAccess)
	assert.False(t, crossed.Valid)
	assert.False(t, crossed.Expired)
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := newTestJWTService(t)

	token, err := svc.Sign(testUser(), uuid.New(), PurposeAccess, -time.Second)
	require.NoError(t, err)

	result := svc.Verify(token, PurposeAccess)
	assert.False(t, result.Valid)
	assert.True(t, result.Expired, "well-signed stale token must report expired")
	assert.Nil(t, result.Claims)
}

func TestJWTService_MalformedAndTamperedTokens(t *testing.T) {
	svc := newTestJWTService(t)

	for _, tokenString := range []string{"", "garbage", "a.b.c"} {
		result := svc.Verify(tokenString, PurposeAccess)
		assert.False(t, result.Valid)
		assert.False(t, result.Expired)
		assert.Nil(t, result.Claims)
	}

	token, err := svc.Sign(testUser(), uuid.New(), PurposeAccess, time.Minute)
	require.NoError(t, err)
	tampered := token[:len(token)-2] + "xx"
	result := svc.Verify(tampered, PurposeAccess)
	assert.False(t, result.Valid)
	assert.False(t, result.Expired)
}

func TestJWTService_OtherSignerRejected(t *testing.T) {
	svc := newTestJWTService(t)
	other := newTestJWTService(t)

	token, err := other.Sign(testUser(), uuid.New(), PurposeAccess, time.Minute)
	require.NoError(t, err)

	result := svc.Verify(token, PurposeAccess)
	assert.False(t, result.Valid)
	assert.False(t, result.Expired)
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(4) // low cost keeps the test fast

	hash, err := h.Hash("Passw0rd!")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "Passw0rd!", hash)

	assert.True(t, h.Verify("Passw0rd!", hash))
	assert.False(t, h.Verify("passw0rd!", hash))
	assert.False(t, h.Verify("", hash))
}

func TestPasswordHasher_SaltedPerCall(t *testing.T) {
	h := NewPasswordHasher(4)

	h1, err := h.Hash("same-password")
	require.NoError(t, err)
	h2, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "each hash must carry a fresh salt")
	assert.True(t, h.Verify("same-password", h1))
	assert.True(t, h.Verify("same-password", h2))
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	h := NewPasswordHasher(4)
	assert.False(t, h.Verify("anything", "not-a-bcrypt-hash"))
	assert.False(t, h.Verify("anything", ""))
}

func TestPasswordHasher_InvalidCostFallsBack(t *testing.T) {
	h := NewPasswordHasher(99)
	hash, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, h.Verify("pw", hash))
}

func TestPasswordHasher_VerifyDummy(t *testing.T) {
	h := NewPasswordHasher(4)
	assert.False(t, h.VerifyDummy("anything"))
	assert.False(t, h.VerifyDummy(""))
}

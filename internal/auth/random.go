package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultTokenLength is the length of single-use credential tokens.
const DefaultTokenLength = 40

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns an unguessable alphanumeric string of length n drawn
// from crypto/rand. Alphanumeric keeps the token safe to embed in URLs.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	max := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b), nil
}

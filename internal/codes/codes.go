package codes

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

const (
	DefaultCodeLength = 6
	tokenBytes        = 32
)

// GenerateCode returns n decimal digits, each drawn uniformly from crypto/rand.
// Leading zeros are kept: the code is a string, never an integer.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}
	var sb strings.Builder
	sb.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code digit: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

func generateOpaque() (string, error) {
	randomBytes := make([]byte, tokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// GenerateSubmitToken returns 32 random bytes, URL-safe base64 encoded.
// Uniqueness is enforced by the store, which retries on collision.
func GenerateSubmitToken() (string, error) {
	return generateOpaque()
}

func GenerateJoinToken() (string, error) {
	return generateOpaque()
}

package codes

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	for _, n := range []int{1, 4, 6, 10} {
		code, err := GenerateCode(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		assert.Regexp(t, `^[0-9]+$`, code)
	}

	code, err := GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultCodeLength)
}

func TestGenerateCodeUsesAllDigits(t *testing.T) {
	seen := map[rune]bool{}
	for i := 0; i < 200 && len(seen) < 10; i++ {
		code, err := GenerateCode(DefaultCodeLength)
		require.NoError(t, err)
		for _, r := range code {
			seen[r] = true
		}
	}
	assert.Len(t, seen, 10)
}

func TestGenerateSubmitToken(t *testing.T) {
	tokens := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := GenerateSubmitToken()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, tok)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, 32)

		assert.False(t, tokens[tok], "duplicate token")
		tokens[tok] = true
	}

	join, err := GenerateJoinToken()
	require.NoError(t, err)
	assert.Len(t, join, 43)
}

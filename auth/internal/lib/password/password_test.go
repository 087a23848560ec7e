package password

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		algorithm string
		prefix    string
	}{
		{name: "bcrypt", algorithm: AlgorithmBcrypt, prefix: "$2a$"},
		{name: "argon2id", algorithm: AlgorithmArgon2id, prefix: "$argon2id$v=19$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.algorithm, bcrypt.MinCost)
			require.NoError(t, err)

			hash, err := h.Hash(ctx, "pw12345678")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, tt.prefix), hash)

			ok, err := h.Verify(ctx, "pw12345678", hash)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify(ctx, "wrongpw", hash)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVerifyAcrossAlgorithms(t *testing.T) {
	ctx := context.Background()
	argon, err := NewHasher(AlgorithmArgon2id, 0)
	require.NoError(t, err)
	bc, err := NewHasher(AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	legacy, err := bc.Hash(ctx, "secret-pass")
	require.NoError(t, err)

	ok, err := argon.Verify(ctx, "secret-pass", legacy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyMalformed(t *testing.T) {
	h, err := NewHasher("", 0)
	require.NoError(t, err)

	_, err = h.Verify(context.Background(), "x", "$argon2id$v=19$broken")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = h.Verify(context.Background(), "x", "not-a-hash")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestNewHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewHasher("md5", 0)
	assert.Error(t, err)
}

func TestBcryptRejectsLongPasswords(t *testing.T) {
	bc, err := NewHasher(AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	_, err = bc.Hash(context.Background(), strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	argon, err := NewHasher(AlgorithmArgon2id, 0)
	require.NoError(t, err)
	_, err = argon.Hash(context.Background(), strings.Repeat("a", 100))
	assert.NoError(t, err)
}

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHasher() *PasswordHasher {
	return NewPasswordHasher().WithArgon2Params(1, 1024, 1, 32)
}

func TestPasswordHasher_HashFormat(t *testing.T) {
	hash, err := NewPasswordHasher().Hash("t1meMa$heen")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$t=3,m=65536,p=4$"))
	assert.Len(t, strings.Split(hash, "$"), 6)
}

func TestPasswordHasher_WeakPasswordsAccepted(t *testing.T) {
	ph := fastHasher()

	for _, pw := range []string{"a", "password", "12345"} {
		hash, err := ph.Hash(pw)
		require.NoError(t, err, pw)
		ok, err := ph.Verify(pw, hash)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, err := ph.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestPasswordHasher_SaltIsRandom(t *testing.T) {
	ph := fastHasher()
	first, err := ph.Hash("same")
	require.NoError(t, err)
	second, err := ph.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPasswordHasher_Verify(t *testing.T) {
	ph := fastHasher()
	hash, err := ph.Hash("correct horse")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  error
	}{
		{name: "match", password: "correct horse", hash: hash, want: true},
		{name: "mismatch", password: "battery staple", hash: hash, wantErr: ErrPasswordMismatch},
		{name: "bcrypt", password: "x", hash: "$2a$10$abcdefghijklmnopqrstuv", wantErr: ErrInvalidHashFormat},
		{name: "wrong version", password: "x", hash: "$argon2id$v=18$t=1,m=1024,p=1$c2FsdA$aGFzaA", wantErr: ErrInvalidHashFormat},
		{name: "bad params", password: "x", hash: "$argon2id$v=19$t=x,m=1024,p=1$c2FsdA$aGFzaA", wantErr: ErrInvalidHashFormat},
		{name: "zero rounds", password: "x", hash: "$argon2id$v=19$t=0,m=1024,p=1$c2FsdA$aGFzaA", wantErr: ErrInvalidHashFormat},
		{name: "empty", password: "x", hash: "", wantErr: ErrInvalidHashFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := ph.Verify(tt.password, tt.hash)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPasswordHasher_VerifyUsesEncodedParams(t *testing.T) {
	hash, err := fastHasher().Hash("portable")
	require.NoError(t, err)

	// A hasher with different defaults still verifies older hashes
	ok, err := NewPasswordHasher().Verify("portable", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

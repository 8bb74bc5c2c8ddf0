package auth

import (
	"context"
	"crypto"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStaticValidator(t *testing.T) {
	ctx := context.Background()
	v, err := NewStaticValidator([]string{"first-token", "", "second-token"})
	require.NoError(t, err)

	p, err := v.Validate(ctx, "second-token")
	require.NoError(t, err)
	assert.Equal(t, "static", p.Method)
	assert.Equal(t, "static-1", p.Subject)

	_, err = v.Validate(ctx, "second-toke")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = v.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = NewStaticValidator(nil)
	assert.Error(t, err)
	_, err = NewStaticValidator([]string{""})
	assert.Error(t, err)
}

func TestOIDCValidator(t *testing.T) {
	ctx := context.Background()
	key := mustGenerateRSAKey(t)
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := NewOIDCValidatorWithKeySet("https://idp.example.com", "scim-engine", keys)

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	exp := time.Now().Add(time.Hour).Unix()

	p, err := v.Validate(ctx, sign(jwt.MapClaims{
		"iss": "https://idp.example.com",
		"aud": "scim-engine",
		"sub": "entra-provisioning",
		"exp": exp,
	}))
	require.NoError(t, err)
	assert.Equal(t, "entra-provisioning", p.Subject)
	assert.Equal(t, "oidc", p.Method)
	assert.Equal(t, exp, p.ExpiresAt.Unix())

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"wrong issuer", jwt.MapClaims{"iss": "https://evil.example.com", "aud": "scim-engine", "sub": "x", "exp": exp}},
		{"wrong audience", jwt.MapClaims{"iss": "https://idp.example.com", "aud": "crm", "sub": "x", "exp": exp}},
		{"expired", jwt.MapClaims{"iss": "https://idp.example.com", "aud": "scim-engine", "sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ctx, sign(tt.claims))
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}

	t.Run("unknown key", func(t *testing.T) {
		other := mustGenerateRSAKey(t)
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss": "https://idp.example.com", "aud": "scim-engine", "sub": "x", "exp": exp,
		}).SignedString(other)
		require.NoError(t, err)
		_, err = v.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

type countingValidator struct {
	calls     atomic.Int32
	principal *Principal
	err       error
}

func (v *countingValidator) Validate(_ context.Context, _ string) (*Principal, error) {
	v.calls.Add(1)
	if v.err != nil {
		return nil, v.err
	}
	p := *v.principal
	return &p, nil
}

func TestCachingValidator(t *testing.T) {
	ctx := context.Background()

	t.Run("caches successful validations", func(t *testing.T) {
		mr, client := mustCreateTestRedis(t)
		next := &countingValidator{principal: &Principal{Subject: "client", Method: "oidc"}}
		v := NewCachingValidator(next, client, 5*time.Minute, zaptest.NewLogger(t))

		for i := 0; i < 3; i++ {
			p, err := v.Validate(ctx, "token-a")
			require.NoError(t, err)
			assert.Equal(t, "client", p.Subject)
			assert.Equal(t, "oidc", p.Method)
		}
		assert.Equal(t, int32(1), next.calls.Load())

		assert.True(t, mr.Exists(cacheKey("token-a")))
		assert.Equal(t, 5*time.Minute, mr.TTL(cacheKey("token-a")))
		for _, k := range mr.Keys() {
			assert.NotContains(t, k, "token-a")
		}
	})

	t.Run("ttl bounded by expiry", func(t *testing.T) {
		mr, client := mustCreateTestRedis(t)
		next := &countingValidator{principal: &Principal{Subject: "client", ExpiresAt: time.Now().Add(30 * time.Second)}}
		v := NewCachingValidator(next, client, time.Hour, nil)

		_, err := v.Validate(ctx, "token-b")
		require.NoError(t, err)
		ttl := mr.TTL(cacheKey("token-b"))
		assert.True(t, ttl > 0 && ttl <= 30*time.Second, "ttl %s", ttl)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		mr, client := mustCreateTestRedis(t)
		next := &countingValidator{err: ErrTokenInvalid}
		v := NewCachingValidator(next, client, time.Minute, nil)

		for i := 0; i < 2; i++ {
			_, err := v.Validate(ctx, "bad")
			assert.True(t, errors.Is(err, ErrTokenInvalid))
		}
		assert.Equal(t, int32(2), next.calls.Load())
		assert.Empty(t, mr.Keys())
	})

	t.Run("redis outage falls through", func(t *testing.T) {
		mr, client := mustCreateTestRedis(t)
		next := &countingValidator{principal: &Principal{Subject: "client"}}
		v := NewCachingValidator(next, client, time.Minute, zaptest.NewLogger(t))

		mr.Close()
		p, err := v.Validate(ctx, "token-c")
		require.NoError(t, err)
		assert.Equal(t, "client", p.Subject)
	})
}

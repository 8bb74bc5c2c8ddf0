package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/scim-engine/internal/common/config"
)

func TestNewValidator_Static(t *testing.T) {
	_, client := mustCreateTestRedis(t)
	v, err := NewValidator(context.Background(), config.AuthConfig{
		Mode:     "static",
		Tokens:   []string{"secret-token"},
		CacheTTL: time.Minute,
	}, client, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, isStatic := v.(*StaticValidator)
	assert.True(t, isStatic, "static tokens are never cached")

	p, err := v.Validate(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "static", p.Method)
}

func TestNewValidator_JWTWithCache(t *testing.T) {
	_, client := mustCreateTestRedis(t)
	cfg := config.AuthConfig{
		Mode:      "jwt",
		JWTSecret: string(testSecret),
		Issuer:    "scim-engine",
		CacheTTL:  time.Minute,
	}
	v, err := NewValidator(context.Background(), cfg, client, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, isCached := v.(*CachingValidator)
	assert.True(t, isCached)

	ts, err := NewTokenServiceFromConfig(cfg, client, zaptest.NewLogger(t))
	require.NoError(t, err)
	token, err := ts.IssueToken(context.Background(), "okta", time.Hour)
	require.NoError(t, err)

	p, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "okta", p.Subject)

	uncached, err := NewValidator(context.Background(), cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, isService := uncached.(*TokenService)
	assert.True(t, isService)
}

func TestNewTokenServiceFromConfig_PublicKeyFile(t *testing.T) {
	key := mustGenerateRSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	ts, err := NewTokenServiceFromConfig(config.AuthConfig{Mode: "jwt", JWTPublicKeyFile: path, Issuer: "idp"}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "azure",
		Issuer:    "idp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(key)
	require.NoError(t, err)

	p, err := ts.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Subject)

	_, err = NewTokenServiceFromConfig(config.AuthConfig{Mode: "jwt", JWTPublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewValidator_Errors(t *testing.T) {
	_, err := NewValidator(context.Background(), config.AuthConfig{Mode: "basic"}, nil, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown auth mode")

	_, err = NewValidator(context.Background(), config.AuthConfig{Mode: "static"}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

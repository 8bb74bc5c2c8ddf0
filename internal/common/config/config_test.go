package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("scim-service")
	require.NoError(t, err)

	assert.Equal(t, "scim-service", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "static", cfg.Auth.Mode)
	assert.Equal(t, "oauth2", cfg.Auth.MissingToken)
	assert.Equal(t, 5*time.Minute, cfg.Auth.CacheTTL)
	assert.Equal(t, 1000, cfg.Bulk.MaxOperations)
	assert.Equal(t, 1048576, cfg.Bulk.MaxPayloadSize)
	assert.Equal(t, 100, cfg.Filter.MaxResults)
	assert.Equal(t, "scim-audit", cfg.Audit.Index)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SCIM_AUTH_MODE", "jwt")
	t.Setenv("SCIM_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("SCIM_FILTER_MAX_RESULTS", "25")
	t.Setenv("SCIM_BULK_MAX_OPERATIONS", "10")
	t.Setenv("SCIM_AUTH_CACHE_TTL", "30s")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load("scim-service")
	require.NoError(t, err)

	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
	assert.Equal(t, 25, cfg.Filter.MaxResults)
	assert.Equal(t, 10, cfg.Bulk.MaxOperations)
	assert.Equal(t, 30*time.Second, cfg.Auth.CacheTTL)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "70000"}},
		{"bad driver", map[string]string{"SCIM_STORE_DRIVER": "mongo"}},
		{"bad mode", map[string]string{"SCIM_AUTH_MODE": "basic"}},
		{"jwt without keys", map[string]string{"SCIM_AUTH_MODE": "jwt"}},
		{"oidc without issuer", map[string]string{"SCIM_AUTH_MODE": "oidc"}},
		{"bad missing token detail", map[string]string{"SCIM_AUTH_MISSING_TOKEN_DETAIL": "verbose"}},
		{"zero max results", map[string]string{"SCIM_FILTER_MAX_RESULTS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("scim-service")
			assert.Error(t, err)
		})
	}
}

func TestLoad_ValidationReportsEveryProblem(t *testing.T) {
	t.Setenv("PORT", "0")
	t.Setenv("SCIM_STORE_DRIVER", "mongo")

	_, err := Load("scim-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port: must be between 1 and 65535")
	assert.Contains(t, err.Error(), "store.driver: must be one of: memory, postgres (value: mongo)")
}

func TestGetCORSOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, (&Config{CORSAllowedOrigins: "*"}).GetCORSOrigins())
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		(&Config{CORSAllowedOrigins: "https://a.example,https://b.example"}).GetCORSOrigins())
}

func TestProductionWarnings(t *testing.T) {
	insecure := &Config{
		Environment:        "production",
		CORSAllowedOrigins: "*",
		Store:              StoreConfig{Driver: "memory"},
		Auth:               AuthConfig{Mode: "static", Tokens: []string{defaultStaticToken}},
	}
	warnings := insecure.ProductionWarnings()
	assert.Len(t, warnings, 4)

	secure := &Config{
		Environment:        "production",
		CORSAllowedOrigins: "https://admin.example.com",
		DatabaseURL:        "postgres://scim@db/scim?sslmode=verify-full",
		Store:              StoreConfig{Driver: "postgres"},
		Auth:               AuthConfig{Mode: "oidc", Issuer: "https://idp.example.com"},
	}
	assert.Empty(t, secure.ProductionWarnings())

	short := &Config{Store: StoreConfig{Driver: "postgres"}, Auth: AuthConfig{Mode: "jwt", JWTSecret: "short"}}
	assert.Contains(t, short.ProductionWarnings(), "auth.jwt_secret is shorter than 32 bytes")
}

func TestLogSecurityWarnings(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := &Config{Environment: "production", CORSAllowedOrigins: "*", Store: StoreConfig{Driver: "memory"}}
	cfg.LogSecurityWarnings(zap.New(core))
	assert.Equal(t, 3, logs.Len())

	core, logs = observer.New(zap.WarnLevel)
	cfg.Environment = "development"
	cfg.LogSecurityWarnings(zap.New(core))
	assert.Zero(t, logs.Len())
}

package auth

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/config"
)

// NewTokenServiceFromConfig builds the JWT service from the auth settings.
// A public key file enables RS256 verification next to the shared secret.
func NewTokenServiceFromConfig(cfg config.AuthConfig, redisClient *redis.Client, logger *zap.Logger) (*TokenService, error) {
	tc := TokenConfig{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
	if cfg.JWTSecret != "" {
		tc.Secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWTPublicKeyFile != "" {
		data, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		key, err := ParseRSAPublicKey(data)
		if err != nil {
			return nil, err
		}
		tc.PublicKey = key
	}
	return NewTokenService(tc, redisClient, logger), nil
}

// NewValidator selects the bearer token validator for auth.mode and wraps
// it in a CachingValidator when Redis is available and auth.cache_ttl > 0
func NewValidator(ctx context.Context, cfg config.AuthConfig, redisClient *redis.Client, logger *zap.Logger) (Validator, error) {
	var (
		v   Validator
		err error
	)
	switch cfg.Mode {
	case "static":
		v, err = NewStaticValidator(cfg.Tokens)
	case "jwt":
		v, err = NewTokenServiceFromConfig(cfg, redisClient, logger)
	case "oidc":
		v, err = NewOIDCValidator(ctx, cfg.Issuer, cfg.Audience)
	default:
		err = fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if redisClient != nil && cfg.CacheTTL > 0 && cfg.Mode != "static" {
		v = NewCachingValidator(v, redisClient, cfg.CacheTTL, logger)
	}
	logger.Info("Bearer token validation configured",
		zap.String("mode", cfg.Mode),
		zap.Duration("cache_ttl", cfg.CacheTTL))
	return v, nil
}

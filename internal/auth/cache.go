package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/metrics"
)

// cacheKey never embeds the raw token
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:token_cache:" + hex.EncodeToString(sum[:])
}

// CachingValidator remembers successful validations in Redis so repeated
// requests with the same token skip signature checks and provider round
// trips. A Redis failure falls back to the wrapped validator.
type CachingValidator struct {
	next   Validator
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingValidator wraps next. Entries live at most ttl and never
// beyond the token's own expiry.
func NewCachingValidator(next Validator, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *CachingValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingValidator{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

// Validate serves a cached principal or delegates and caches the result
func (v *CachingValidator) Validate(ctx context.Context, token string) (*Principal, error) {
	key := cacheKey(token)

	data, err := v.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Principal
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil && (p.ExpiresAt.IsZero() || time.Now().Before(p.ExpiresAt)) {
			metrics.RecordCacheOperation("auth", "token_validate", "hit")
			return &p, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		v.logger.Warn("Token cache read failed", zap.Error(err))
	}
	metrics.RecordCacheOperation("auth", "token_validate", "miss")

	p, err := v.next.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	ttl := v.ttl
	if !p.ExpiresAt.IsZero() {
		if remaining := time.Until(p.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return p, nil
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	if err := v.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		v.logger.Warn("Token cache write failed", zap.Error(err))
	}
	return p, nil
}

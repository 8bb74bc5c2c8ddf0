// Package auth provides bearer token validation for the SCIM endpoints
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrTokenInvalid is returned when a token is malformed or signature verification fails
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned when a token has passed its expiration time
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenRevoked is returned when a token has been explicitly revoked
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrMissingSigningKey is returned when no HMAC secret is configured for minting
	ErrMissingSigningKey = errors.New("jwt secret is required for signing tokens")

	// ErrMissingVerificationKey is returned when neither a secret nor a public key is configured
	ErrMissingVerificationKey = errors.New("jwt secret or public key is required for verifying tokens")
)

// Claims is the JWT body of a provisioning client token
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig holds the key material and expected registered claims
type TokenConfig struct {
	Secret    []byte         // HS256 shared secret
	PublicKey *rsa.PublicKey // RS256 verification key
	Issuer    string
	Audience  string
}

// TokenService validates, mints and revokes JWT bearer tokens. Revocations
// are kept in Redis until the token would have expired anyway.
type TokenService struct {
	config TokenConfig
	redis  *redis.Client
	logger *zap.Logger
}

// NewTokenService creates a TokenService. redisClient may be nil, in which
// case revocation is unavailable.
func NewTokenService(config TokenConfig, redisClient *redis.Client, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		config: config,
		redis:  redisClient,
		logger: logger,
	}
}

// IssueToken mints an HS256 token for subject valid for ttl
func (ts *TokenService) IssueToken(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if len(ts.config.Secret) == 0 {
		return "", ErrMissingSigningKey
	}

	now := time.Now()
	claims := Claims{
		Scope: "scim",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ts.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{ts.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ts.config.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	ts.logger.Debug("Issued token",
		zap.String("subject", subject),
		zap.Duration("ttl", ttl),
	)
	return tokenString, nil
}

// Validate implements Validator
func (ts *TokenService) Validate(ctx context.Context, tokenString string) (*Principal, error) {
	if len(ts.config.Secret) == 0 && ts.config.PublicKey == nil {
		return nil, ErrMissingVerificationKey
	}

	if ts.redis != nil {
		revoked, err := ts.IsTokenRevoked(ctx, tokenString)
		if err != nil {
			ts.logger.Warn("Failed to check token revocation status", zap.Error(err))
		} else if revoked {
			return nil, ErrTokenRevoked
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(ts.validMethods())}
	if ts.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.config.Issuer))
	}
	if ts.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(ts.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, ts.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	p := &Principal{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Method:  "jwt",
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (ts *TokenService) validMethods() []string {
	var methods []string
	if len(ts.config.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if ts.config.PublicKey != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return methods
}

func (ts *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return ts.config.Secret, nil
	case *jwt.SigningMethodRSA:
		return ts.config.PublicKey, nil
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

// RevokeToken adds a token to the Redis revocation list and evicts any
// cached validation of it
func (ts *TokenService) RevokeToken(ctx context.Context, tokenString string) error {
	if ts.redis == nil {
		return errors.New("redis client not configured")
	}

	// Parse without verification to get the expiration time
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		// Unparseable tokens are rejected by Validate anyway
		return nil
	}

	ttl := 24 * time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			return nil
		}
	}

	pipe := ts.redis.TxPipeline()
	pipe.Set(ctx, ts.blacklistKey(tokenString), "1", ttl)
	pipe.Del(ctx, cacheKey(tokenString))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set token in blacklist: %w", err)
	}

	ts.logger.Debug("Revoked token",
		zap.String("subject", claims.Subject),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// IsTokenRevoked checks if a token has been revoked
func (ts *TokenService) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	if ts.redis == nil {
		return false, nil
	}
	exists, err := ts.redis.Exists(ctx, ts.blacklistKey(tokenString)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// blacklistKey returns the Redis key for a revoked token
func (ts *TokenService) blacklistKey(tokenString string) string {
	return fmt.Sprintf("auth:revoked:%s", tokenString)
}

// ParseRSAPublicKey decodes a PEM encoded RSA public key
func ParseRSAPublicKey(pem []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return key, nil
}

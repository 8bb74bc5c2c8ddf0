package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"
)

// Principal is the authenticated caller of a SCIM request
type Principal struct {
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	// Method is the validator that accepted the token: static, jwt or oidc
	Method string `json:"method"`
}

// Validator checks a bearer token and identifies its holder
type Validator interface {
	Validate(ctx context.Context, token string) (*Principal, error)
}

// StaticValidator accepts a fixed list of shared tokens
type StaticValidator struct {
	digests [][sha256.Size]byte
}

// NewStaticValidator creates a validator for the configured token list
func NewStaticValidator(tokens []string) (*StaticValidator, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("at least one static token is required")
	}
	v := &StaticValidator{digests: make([][sha256.Size]byte, 0, len(tokens))}
	for _, t := range tokens {
		if t == "" {
			continue
		}
		v.digests = append(v.digests, sha256.Sum256([]byte(t)))
	}
	if len(v.digests) == 0 {
		return nil, fmt.Errorf("static tokens must not be empty")
	}
	return v, nil
}

// Validate compares the token against every configured token in constant time
func (v *StaticValidator) Validate(_ context.Context, token string) (*Principal, error) {
	digest := sha256.Sum256([]byte(token))
	matched := 0
	index := -1
	for i := range v.digests {
		if subtle.ConstantTimeCompare(digest[:], v.digests[i][:]) == 1 {
			matched = 1
			index = i
		}
	}
	if matched == 0 {
		return nil, ErrTokenInvalid
	}
	return &Principal{Subject: fmt.Sprintf("static-%d", index), Method: "static"}, nil
}

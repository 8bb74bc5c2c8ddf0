package config

import (
	"strings"

	"go.uber.org/zap"
)

const (
	defaultStaticToken = "change-me-scim-token"
	minSecretLength    = 32
)

// ProductionWarnings lists insecure settings. It is independent of the
// environment so it can be checked in tests.
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	switch c.Auth.Mode {
	case "static":
		warnings = append(warnings, "auth.mode is static; prefer jwt or oidc bearer tokens")
		for _, t := range c.Auth.Tokens {
			if t == defaultStaticToken {
				warnings = append(warnings, "auth.tokens contains the default token")
				break
			}
		}
	case "jwt":
		if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
			warnings = append(warnings, "auth.jwt_secret is shorter than 32 bytes")
		}
		if c.Auth.Issuer == "" || c.Auth.Audience == "" {
			warnings = append(warnings, "auth.issuer and auth.audience should both be set")
		}
	}

	if strings.TrimSpace(c.CORSAllowedOrigins) == "*" {
		warnings = append(warnings, "cors_allowed_origins is '*'")
	}
	if c.Store.Driver == "memory" {
		warnings = append(warnings, "store.driver is memory; resources are lost on restart")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") && c.Store.Driver == "postgres" {
		warnings = append(warnings, "database_url disables TLS")
	}
	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}

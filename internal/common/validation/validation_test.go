package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		value       string
		expectError bool
	}{
		{"Valid value", "userName", "john.doe", false},
		{"Empty string", "userName", "", true},
		{"Whitespace only", "userName", "   ", true},
		{"Valid with spaces", "displayName", "John Doe", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequired(tt.field, tt.value)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "is required")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOneOf(t *testing.T) {
	assert.NoError(t, ValidateOneOf("auth.mode", "jwt", []string{"static", "jwt", "oidc"}))

	err := ValidateOneOf("auth.mode", "basic", []string{"static", "jwt", "oidc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of: static, jwt, oidc")
}

func TestPatternRule(t *testing.T) {
	rule := NewPatternRule("name.givenName", "First name", `^[^&#]{0,10}$`)

	tests := []struct {
		name        string
		value       string
		expectError bool
	}{
		{"Plain", "John", false},
		{"Empty allowed by quantifier", "", false},
		{"Ampersand", "Jo&hn", true},
		{"Hash", "#John", true},
		{"Too long", "Johnathanathan", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Check(tt.value)
			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "name.givenName", verr.Field)
			assert.Equal(t, "First name ["+tt.value+"] is not a valid value", verr.Message)
		})
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "validation failed", errs.Error())

	errs.Append(nil)
	errs.Append(ValidateRequired("userName", ""))
	assert.True(t, errs.HasErrors())
	assert.Equal(t, "userName: is required", errs.Error())

	errs.Add("displayName", "is required")
	assert.Equal(t, "validation failed with 2 errors", errs.Error())
}

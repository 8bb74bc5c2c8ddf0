// Package validation provides attribute validation rules for SCIM resources
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []*ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e.Errors))
}

// Add adds a validation error
func (e *ValidationErrors) Add(field, message string, value ...string) {
	verr := &ValidationError{
		Field:   field,
		Message: message,
	}
	if len(value) > 0 {
		verr.Value = value[0]
	}
	e.Errors = append(e.Errors, verr)
}

// Append records err when it is a *ValidationError and ignores nil
func (e *ValidationErrors) Append(err error) {
	if err == nil {
		return
	}
	if verr, ok := err.(*ValidationError); ok {
		e.Errors = append(e.Errors, verr)
		return
	}
	e.Add("", err.Error())
}

// HasErrors returns true if there are validation errors
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateRequired checks if a string is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateOneOf checks that value is one of the allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
		Value:   value,
	}
}

// PatternRule restricts an attribute to values that fully match a pattern.
// Label is the human name used in error messages, e.g. "First name".
type PatternRule struct {
	Field   string
	Label   string
	pattern *regexp.Regexp
}

// NewPatternRule compiles pattern, panicking when it is invalid. Rules are
// package-level values so a bad pattern is a programming error.
func NewPatternRule(field, label, pattern string) PatternRule {
	return PatternRule{
		Field:   field,
		Label:   label,
		pattern: regexp.MustCompile(pattern),
	}
}

// Check returns a *ValidationError when value does not match the rule
func (r PatternRule) Check(value string) error {
	if r.pattern.MatchString(value) {
		return nil
	}
	return &ValidationError{
		Field:   r.Field,
		Message: fmt.Sprintf("%s [%s] is not a valid value", r.Label, value),
		Value:   value,
	}
}

// Pattern returns the rule's regular expression source
func (r PatternRule) Pattern() string {
	return r.pattern.String()
}

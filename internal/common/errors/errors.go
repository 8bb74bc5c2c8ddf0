// Package errors provides the SCIM error taxonomy and its HTTP rendering
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	ErrInvalidSyntax   ErrorCode = "INVALID_SYNTAX"
	ErrInvalidValue    ErrorCode = "INVALID_VALUE"
	ErrInvalidPath     ErrorCode = "INVALID_PATH"
	ErrNoTarget        ErrorCode = "NO_TARGET"
	ErrMutability      ErrorCode = "MUTABILITY"
	ErrUniqueness      ErrorCode = "UNIQUENESS"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrInternal        ErrorCode = "INTERNAL_ERROR"
)

// SCIM scimType values (RFC 7644 section 3.12)
const (
	ScimTypeInvalidSyntax = "invalidSyntax"
	ScimTypeInvalidValue  = "invalidValue"
	ScimTypeInvalidPath   = "invalidPath"
	ScimTypeNoTarget      = "noTarget"
	ScimTypeMutability    = "mutability"
	ScimTypeUniqueness    = "uniqueness"
)

// ErrorSchema is the message schema carried by every SCIM error body
const ErrorSchema = "urn:ietf:params:scim:api:messages:2.0:Error"

// AppError represents a structured application error. Message is rendered
// verbatim as the SCIM "detail".
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	ScimType   string                 `json:"scimType,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// New creates a new AppError
func New(code ErrorCode, message, scimType string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		ScimType:   scimType,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// InvalidSyntax reports a body, filter or bulk request that cannot be understood
func InvalidSyntax(message string) *AppError {
	return New(ErrInvalidSyntax, message, ScimTypeInvalidSyntax, http.StatusBadRequest)
}

// InvalidValue reports a missing or malformed attribute value
func InvalidValue(message string) *AppError {
	return New(ErrInvalidValue, message, ScimTypeInvalidValue, http.StatusBadRequest)
}

// InvalidPath reports a PATCH path that does not address a known attribute
func InvalidPath(message string) *AppError {
	return New(ErrInvalidPath, message, ScimTypeInvalidPath, http.StatusBadRequest)
}

// NoTarget reports a PATCH path or filter that matched nothing
func NoTarget(message string) *AppError {
	return New(ErrNoTarget, message, ScimTypeNoTarget, http.StatusBadRequest)
}

// Mutability reports an attempt to modify a read-only attribute
func Mutability(message string) *AppError {
	return New(ErrMutability, message, ScimTypeMutability, http.StatusBadRequest)
}

// Uniqueness reports a duplicate userName or displayName
func Uniqueness(message string) *AppError {
	return New(ErrUniqueness, message, ScimTypeUniqueness, http.StatusConflict)
}

// NotFound creates a not found error
func NotFound(message string) *AppError {
	return New(ErrNotFound, message, "", http.StatusNotFound)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message, "", http.StatusUnauthorized)
}

// PayloadTooLarge reports a bulk request over its operation or byte limit
func PayloadTooLarge(message string) *AppError {
	return New(ErrPayloadTooLarge, message, "", http.StatusRequestEntityTooLarge)
}

// TooManyRequests reports a client over its rate limit
func TooManyRequests(message string) *AppError {
	return New(ErrTooManyRequests, message, "", http.StatusTooManyRequests)
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Response is the SCIM error body
type Response struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail"`
}

// As extracts an *AppError from err, wrapping anything else as Internal
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// ToResponse converts an error into its SCIM error body
func ToResponse(err error) Response {
	appErr := As(err)
	return Response{
		Schemas:  []string{ErrorSchema},
		Status:   strconv.Itoa(appErr.StatusCode),
		ScimType: appErr.ScimType,
		Detail:   appErr.Message,
	}
}

// HandleError sends a SCIM error response to the client
func HandleError(c *gin.Context, err error) {
	appErr := As(err)
	if appErr.Code == ErrInternal {
		_ = c.Error(err)
	}
	if appErr.StatusCode == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="scim"`)
	}
	c.Header("Content-Type", "application/scim+json; charset=utf-8")
	c.AbortWithStatusJSON(appErr.StatusCode, ToResponse(appErr))
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				var appErr *AppError

				switch e := r.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", r))
				}

				HandleError(c, appErr)
			}
		}()

		c.Next()
	}
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

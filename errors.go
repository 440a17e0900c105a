package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPError represents an enhanced error with rich context for LDAP operations.
// It wraps underlying errors while providing operation-specific context for debugging.
type LDAPError struct {
	// Op is the operation name (e.g., "Bind", "Search")
	Op string
	// DN is the distinguished name involved in the operation (if applicable)
	DN string
	// Server is the LDAP server URL
	Server string
	// Code is the LDAP result code (if applicable)
	Code int
	// Err is the underlying error
	Err error
	// Context contains additional context information for debugging
	Context map[string]interface{}
	// Timestamp indicates when the error occurred
	Timestamp time.Time
}

// Error implements the error interface, providing a formatted error message.
func (e *LDAPError) Error() string {
	if e.DN != "" {
		return fmt.Sprintf("ldap %s failed for DN %q on server %q: %v", e.Op, e.DN, e.Server, e.Err)
	}
	return fmt.Sprintf("ldap %s failed on server %q: %v", e.Op, e.Server, e.Err)
}

// Unwrap implements the Go 1.13+ error unwrapping interface.
func (e *LDAPError) Unwrap() error {
	return e.Err
}

// Is implements the Go 1.13+ error comparison interface for compatibility with errors.Is.
func (e *LDAPError) Is(target error) bool {
	if ldapErr, ok := target.(*LDAPError); ok {
		return e.Op == ldapErr.Op && e.Code == ldapErr.Code
	}
	return errors.Is(e.Err, target)
}

// Sentinel errors for common LDAP operation failures.
var (
	// Connection errors
	ErrConnectionFailed  = errors.New("ldap: connection failed")
	ErrServerUnavailable = errors.New("ldap: server unavailable")

	// Authentication errors
	ErrInvalidCredentials = errors.New("ldap: invalid credentials")

	// Data validation errors
	ErrInvalidDN = errors.New("ldap: invalid distinguished name")

	// Protocol errors
	ErrTimeout = errors.New("ldap: operation timeout")

	// Context errors
	ErrContextCancelled        = errors.New("ldap: context cancelled")
	ErrContextDeadlineExceeded = errors.New("ldap: context deadline exceeded")
)

// NewLDAPError creates a new enhanced LDAP error with the specified context.
func NewLDAPError(op, server string, err error) *LDAPError {
	return &LDAPError{
		Op:        op,
		Server:    server,
		Err:       err,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithDN adds a distinguished name to the error context.
func (e *LDAPError) WithDN(dn string) *LDAPError {
	e.DN = dn
	return e
}

// WithCode adds an LDAP result code to the error context.
func (e *LDAPError) WithCode(code int) *LDAPError {
	e.Code = code
	return e
}

// WithContext adds additional context information to the error.
func (e *LDAPError) WithContext(key string, value interface{}) *LDAPError {
	e.Context[key] = value
	return e
}

// WrapLDAPError wraps an error with LDAP-specific context information.
// Context errors keep both the package sentinel and the original error in
// the chain; *ldap.Error values are classified by result code.
func WrapLDAPError(op, server string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrContextCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrContextDeadlineExceeded, err)
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return classifyLDAPError(op, server, ldapErr)
	}

	return NewLDAPError(op, server, err)
}

// classifyLDAPError analyzes LDAP result codes and classifies errors appropriately.
// Credential, availability and time limit failures also carry the matching
// package sentinel so callers can test them with errors.Is.
func classifyLDAPError(op, server string, ldapErr *ldap.Error) error {
	ldapError := NewLDAPError(op, server, ldapErr).WithCode(int(ldapErr.ResultCode))
	if ldapErr.MatchedDN != "" {
		ldapError.WithDN(ldapErr.MatchedDN)
	}

	switch ldapErr.ResultCode {
	case ldap.LDAPResultInvalidCredentials:
		ldapError.Err = fmt.Errorf("%w: %w", ErrInvalidCredentials, ldapErr)
		return ldapError.WithContext("error_type", "authentication")
	case ldap.LDAPResultInsufficientAccessRights:
		return ldapError.WithContext("error_type", "authorization")
	case ldap.LDAPResultNoSuchObject:
		return ldapError.WithContext("error_type", "no_such_object")
	case ldap.LDAPResultInvalidDNSyntax:
		return ldapError.WithContext("error_type", "invalid_dn")
	case ldap.LDAPResultFilterError, ldap.ErrorFilterCompile:
		return ldapError.WithContext("error_type", "invalid_filter")
	case ldap.LDAPResultUnavailable, ldap.LDAPResultServerDown, ldap.ErrorNetwork:
		ldapError.Err = fmt.Errorf("%w: %w", ErrServerUnavailable, ldapErr)
		return ldapError.WithContext("error_type", "server_unavailable")
	case ldap.LDAPResultTimeLimitExceeded, ldap.LDAPResultTimeout:
		ldapError.Err = fmt.Errorf("%w: %w", ErrTimeout, ldapErr)
		return ldapError.WithContext("error_type", "timeout")
	case ldap.LDAPResultBusy:
		return ldapError.WithContext("error_type", "server_busy")
	case ldap.LDAPResultSizeLimitExceeded:
		return ldapError.WithContext("error_type", "size_limit")
	default:
		return ldapError.WithContext("error_type", "unknown")
	}
}

// IsAuthenticationError checks if the error is related to authentication failure.
func IsAuthenticationError(err error) bool {
	if errors.Is(err, ErrInvalidCredentials) {
		return true
	}

	switch GetLDAPResultCode(err) {
	case int(ldap.LDAPResultInvalidCredentials),
		int(ldap.LDAPResultInsufficientAccessRights),
		int(ldap.LDAPResultUnwillingToPerform):
		return true
	}
	return false
}

// IsConnectionError checks if the error is related to connection issues.
func IsConnectionError(err error) bool {
	if errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrServerUnavailable) ||
		errors.Is(err, ErrTimeout) {
		return true
	}

	switch GetLDAPResultCode(err) {
	case int(ldap.ErrorNetwork), int(ldap.LDAPResultServerDown), int(ldap.LDAPResultUnavailable):
		return true
	}
	return false
}

// IsContextError checks if the error is related to context cancellation or timeout.
func IsContextError(err error) bool {
	return errors.Is(err, ErrContextCancelled) ||
		errors.Is(err, ErrContextDeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// GetLDAPResultCode extracts the LDAP result code from an error, if available.
// Returns -1 if no LDAP result code is found.
func GetLDAPResultCode(err error) int {
	var enhancedErr *LDAPError
	if errors.As(err, &enhancedErr) && enhancedErr.Code != 0 {
		return enhancedErr.Code
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return int(ldapErr.ResultCode)
	}

	return -1
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (c *ConfigError) Error() string {
	if c.Field != "" {
		return fmt.Sprintf("configuration error in field %q: %s", c.Field, c.Message)
	}
	return fmt.Sprintf("configuration error: %s", c.Message)
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// SourceNotFoundError is returned when the inventory file cannot be opened.
type SourceNotFoundError struct {
	Path string
	Err  error
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("input source %q cannot be opened: %v", e.Path, e.Err)
}

func (e *SourceNotFoundError) Unwrap() error { return e.Err }

// SchemaError is returned when the inventory does not have the expected shape,
// most commonly because the configured column is absent.
type SchemaError struct {
	Column    string
	Available []string
	// Line is the input line of a parse failure, zero otherwise
	Line int
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		if e.Line > 0 {
			return fmt.Sprintf("input is not valid delimited text at line %d: %v", e.Line, e.Err)
		}
		return fmt.Sprintf("input is not valid delimited text: %v", e.Err)
	}
	if len(e.Available) == 0 {
		return fmt.Sprintf("column %q not found: input has no header row", e.Column)
	}
	return fmt.Sprintf("column %q not found (available: %s)", e.Column, strings.Join(e.Available, ", "))
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ConnectionError is returned when a directory session cannot be established.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot establish directory session with %q: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError is returned when the lookup of a single computer name fails.
// It is never a "not found" result: a missing account is reported as a
// successful lookup with zero entries.
type QueryError struct {
	Name   string
	Filter string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("lookup of %q failed: %v", e.Name, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// OutputError is returned when the report cannot be written.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("cannot write report %q: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// ErrorCategory classifies a failure of a verification run.
type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	CategoryConfig
	CategorySourceNotFound
	CategorySchema
	CategoryConnection
	CategoryQuery
	CategoryOutput
	CategoryCancelled
	CategoryUnknown
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryConfig:
		return "config"
	case CategorySourceNotFound:
		return "source_not_found"
	case CategorySchema:
		return "schema"
	case CategoryConnection:
		return "connection"
	case CategoryQuery:
		return "query"
	case CategoryOutput:
		return "output"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Category maps err to the category of the outermost typed error in its chain.
func Category(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}

	var (
		configErr *ConfigError
		sourceErr *SourceNotFoundError
		schemaErr *SchemaError
		connErr   *ConnectionError
		queryErr  *QueryError
		outputErr *OutputError
	)
	switch {
	case errors.As(err, &configErr):
		return CategoryConfig
	case errors.As(err, &sourceErr):
		return CategorySourceNotFound
	case errors.As(err, &schemaErr):
		return CategorySchema
	case errors.As(err, &outputErr):
		return CategoryOutput
	case IsContextError(err):
		return CategoryCancelled
	case errors.As(err, &connErr):
		return CategoryConnection
	case errors.As(err, &queryErr):
		return CategoryQuery
	default:
		return CategoryUnknown
	}
}

// notFoundError creates a standardized not-found error
func notFoundError(objectType, identifier string, baseErr error) error {
	return fmt.Errorf("%s not found: %s: %w", objectType, identifier, baseErr)
}

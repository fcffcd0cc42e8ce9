package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation failed")
)

// Code classifies access-plane failures for API consumers.
type Code string

// Access-plane error codes.
const (
	CodeAuthRequired          Code = "AUTH_REQUIRED"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeInvalidToken          Code = "INVALID_TOKEN"
	CodeForbidden             Code = "FORBIDDEN"
	CodeRoleEscalation        Code = "ROLE_ESCALATION"
	CodeInsufficientPrivilege Code = "INSUFFICIENT_PRIVILEGE"
	CodeLockDenied            Code = "LOCK_DENIED"
)

// Status maps the code to its HTTP status.
func (c Code) Status() int {
	switch c {
	case CodeAuthRequired, CodeTokenExpired, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden, CodeRoleEscalation, CodeInsufficientPrivilege:
		return http.StatusForbidden
	case CodeLockDenied:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// AccessError is a terminal authorization or mutual-exclusion failure. It is
// returned to callers as-is and never retried.
type AccessError struct {
	Code     Code
	Message  string
	Required string
	Role     string
	LockedBy string
}

func (e *AccessError) Error() string {
	if e.Required != "" {
		return fmt.Sprintf("%s: %s (required %s)", e.Code, e.Message, e.Required)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AuthRequired reports a request without credentials.
func AuthRequired() *AccessError {
	return &AccessError{Code: CodeAuthRequired, Message: "authentication required"}
}

// TokenExpired reports a credential past its expiry.
func TokenExpired() *AccessError {
	return &AccessError{Code: CodeTokenExpired, Message: "token expired"}
}

// InvalidToken reports a tampered or malformed credential.
func InvalidToken() *AccessError {
	return &AccessError{Code: CodeInvalidToken, Message: "invalid token"}
}

// Forbidden reports a permission denial for the requested scope.
func Forbidden(required, role string) *AccessError {
	return &AccessError{Code: CodeForbidden, Message: "permission denied", Required: required, Role: role}
}

// RoleEscalation reports an attempt to grant a role at or above the actor's level.
func RoleEscalation(target, role string) *AccessError {
	return &AccessError{Code: CodeRoleEscalation, Message: "cannot assign role " + target, Role: role}
}

// InsufficientPrivilege reports an attempt to manage a principal at or above the actor's level.
func InsufficientPrivilege(role string) *AccessError {
	return &AccessError{Code: CodeInsufficientPrivilege, Message: "cannot manage a user with an equal or higher role", Role: role}
}

// LockDenied reports that another principal holds the edit lock.
func LockDenied(lockedBy string) *AccessError {
	return &AccessError{Code: CodeLockDenied, Message: "resource is locked by another user", LockedBy: lockedBy}
}

// AsAccessError unwraps err into an AccessError when possible.
func AsAccessError(err error) (*AccessError, bool) {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr, true
	}
	return nil, false
}

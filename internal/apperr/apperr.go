// Package apperr defines the error taxonomy shared by the resolver, the RLS enforcer,
// the session manager and both transports. Every error carries a wire code, a class
// that tells callers whether retrying can help, and an optional wrapped cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the machine-readable error code written to clients as {"error": Code}.
type Code string

const (
	CodeTenantNotFound       Code = "TENANT_NOT_FOUND"
	CodeTenantSuspended      Code = "TENANT_SUSPENDED"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeCrossTenantDenied    Code = "CROSS_TENANT_ACCESS_DENIED"
	CodeInvalidTenantContext Code = "INVALID_TENANT_CONTEXT"
	CodeSessionTimeout       Code = "SESSION_TIMEOUT"
	CodeSessionInvalid       Code = "SESSION_INVALID"
	CodeSessionViolation     Code = "SESSION_VIOLATION"
	CodeUnsafeQuery          Code = "UNSAFE_QUERY"
	CodeSuperAdminRequired   Code = "SUPER_ADMIN_REQUIRED"
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeInternal             Code = "INTERNAL"
)

// Class groups codes by how a caller should react.
type Class string

const (
	ClassPermanent Class = "permanent" // will not change on retry
	ClassTransient Class = "transient" // retry may succeed
	ClassTerminal  Class = "terminal"  // tenant disabled; stop
	ClassCaller    Class = "caller"    // programming or request error
	ClassSecurity  Class = "security"  // logged as a violation
	ClassReauth    Class = "reauth"    // client must log in again
)

var classes = map[Code]Class{
	CodeTenantNotFound:       ClassPermanent,
	CodeTenantSuspended:      ClassTerminal,
	CodeServiceUnavailable:   ClassTransient,
	CodeCrossTenantDenied:    ClassSecurity,
	CodeInvalidTenantContext: ClassCaller,
	CodeSessionTimeout:       ClassReauth,
	CodeSessionInvalid:       ClassReauth,
	CodeSessionViolation:     ClassSecurity,
	CodeUnsafeQuery:          ClassSecurity,
	CodeSuperAdminRequired:   ClassCaller,
	CodeInvalidCredentials:   ClassReauth,
	CodeInvalidRequest:       ClassCaller,
	CodeInternal:             ClassTransient,
}

// Error is a coded application error. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Class returns the error's class; unknown codes are treated as transient.
func (e *Error) Class() Class {
	if c, ok := classes[e.Code]; ok {
		return c
	}
	return ClassTransient
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Class() == ClassTransient
}

// HTTPStatus maps the code to the response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeTenantNotFound:
		return http.StatusNotFound
	case CodeTenantSuspended, CodeCrossTenantDenied, CodeSuperAdminRequired:
		return http.StatusForbidden
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidTenantContext, CodeUnsafeQuery, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeSessionTimeout, CodeSessionInvalid, CodeSessionViolation, CodeInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus lets status.FromError and status.Code understand *Error directly.
func (e *Error) GRPCStatus() *status.Status {
	var c codes.Code
	switch e.Code {
	case CodeTenantNotFound:
		c = codes.NotFound
	case CodeTenantSuspended, CodeCrossTenantDenied, CodeSuperAdminRequired:
		c = codes.PermissionDenied
	case CodeServiceUnavailable:
		c = codes.Unavailable
	case CodeInvalidTenantContext, CodeUnsafeQuery, CodeInvalidRequest:
		c = codes.InvalidArgument
	case CodeSessionTimeout, CodeSessionInvalid, CodeSessionViolation, CodeInvalidCredentials:
		c = codes.Unauthenticated
	default:
		c = codes.Internal
	}
	return status.New(c, string(e.Code))
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an Error that wraps cause. Returns nil when cause is nil.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Match is by code, so wrapped variants with other
// messages still match.
var (
	ErrResolutionNotFound       = New(CodeTenantNotFound, "tenant not found")
	ErrResolutionTimeout        = New(CodeServiceUnavailable, "tenant resolution timed out")
	ErrTenantSuspended          = New(CodeTenantSuspended, "tenant suspended")
	ErrContextMissing           = New(CodeInvalidTenantContext, "tenant context missing")
	ErrCrossTenantViolation     = New(CodeCrossTenantDenied, "cross-tenant access denied")
	ErrSessionExpired           = New(CodeSessionTimeout, "session expired")
	ErrSessionInvalid           = New(CodeSessionInvalid, "session invalid")
	ErrSessionViolationCritical = New(CodeSessionViolation, "session terminated after critical violation")
	ErrUnsafeQuery              = New(CodeUnsafeQuery, "query contains operator syntax")
	ErrSuperAdminRequired       = New(CodeSuperAdminRequired, "super admin required")
	ErrInvalidCredentials       = New(CodeInvalidCredentials, "invalid credentials")
	ErrUnavailable              = New(CodeServiceUnavailable, "dependency unavailable")
	ErrInvalidRequest           = New(CodeInvalidRequest, "malformed request")
)

// From extracts an *Error from err's chain. Errors without one become CodeInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "internal error")
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if e := From(err); e != nil {
		return e.Code
	}
	return ""
}

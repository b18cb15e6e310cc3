package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, CodeServiceUnavailable, "directory lookup")
	if !errors.Is(err, ErrResolutionTimeout) {
		t.Fatal("wrapped unavailable error should match ErrResolutionTimeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("cause should stay reachable through Unwrap")
	}
	if errors.Is(err, ErrResolutionNotFound) {
		t.Fatal("different codes must not match")
	}
	outer := fmt.Errorf("resolve: %w", err)
	if !errors.Is(outer, ErrUnavailable) {
		t.Fatal("fmt wrapping should preserve the code match")
	}
}

func TestError_HTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrResolutionNotFound, http.StatusNotFound},
		{ErrTenantSuspended, http.StatusForbidden},
		{ErrResolutionTimeout, http.StatusServiceUnavailable},
		{ErrCrossTenantViolation, http.StatusForbidden},
		{ErrContextMissing, http.StatusBadRequest},
		{ErrSessionExpired, http.StatusUnauthorized},
		{ErrSessionViolationCritical, http.StatusUnauthorized},
		{New(CodeInternal, "x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Code), func(t *testing.T) {
			if got := tc.err.HTTPStatus(); got != tc.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestError_GRPCStatus(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrTenantSuspended)
	if got := status.Code(err); got != codes.PermissionDenied {
		t.Errorf("status.Code = %v, want %v", got, codes.PermissionDenied)
	}
	if got := status.Code(ErrSessionExpired); got != codes.Unauthenticated {
		t.Errorf("status.Code = %v, want %v", got, codes.Unauthenticated)
	}
}

func TestError_Retryable(t *testing.T) {
	if !ErrResolutionTimeout.Retryable() {
		t.Error("timeout should be retryable")
	}
	if ErrResolutionNotFound.Retryable() {
		t.Error("not found is permanent")
	}
	if ErrTenantSuspended.Retryable() {
		t.Error("suspended is terminal")
	}
	if ErrTenantSuspended.Class() != ClassTerminal {
		t.Errorf("Class = %q, want %q", ErrTenantSuspended.Class(), ClassTerminal)
	}
}

func TestFrom(t *testing.T) {
	if From(nil) != nil {
		t.Fatal("From(nil) should be nil")
	}
	plain := errors.New("boom")
	e := From(plain)
	if e.Code != CodeInternal {
		t.Errorf("Code = %q, want %q", e.Code, CodeInternal)
	}
	if !errors.Is(e, plain) {
		t.Error("From should wrap the original error")
	}
	if CodeOf(fmt.Errorf("x: %w", ErrSessionInvalid)) != CodeSessionInvalid {
		t.Error("CodeOf should find a wrapped code")
	}
}

func TestWrap_NilCause(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

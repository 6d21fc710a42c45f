package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Credential errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRegistrationFailed = errors.New("registration failed")
	ErrAgreementRequired  = errors.New("legal agreement acceptance required")

	// Token errors
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrNoRefreshToken     = errors.New("no refresh token available")
	ErrTransientRefresh   = errors.New("transient refresh failure")
	ErrTerminalRefresh    = errors.New("refresh token invalid or revoked")
	ErrStaleRefreshResult = errors.New("refresh result from ended session")
	ErrPairConflict       = errors.New("token pair rotated by another writer")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionEnded     = errors.New("session ended")

	// Tenant errors
	ErrConsultantRequired = errors.New("consultant capability required")
	ErrNotImpersonating   = errors.New("no tenant switch active")
	ErrInvalidTenant      = errors.New("invalid tenant")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

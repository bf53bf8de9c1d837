// Package autherr defines the error taxonomy shared by the sign-in flows.
//
// Errors fall into three categories:
//
//   - Security: the client presented parameters inconsistent with the ones
//     the server issued (ErrInvalidState, ErrCodeVerifierNotFound).
//   - Provider: the identity provider failed or answered with an unexpected
//     shape (ErrInvalidTokenAcquisitionRequest, ErrInvalidUserInfoAccessRequest,
//     ErrSchemaValidation).
//   - Token: key configuration or session token failures (ErrWrongKeyLength,
//     ErrSessionTampering, ErrEncoding).
//
// Callers match with errors.Is against the sentinels and use Category to pick
// a response class.
package autherr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState         = errors.New("invalid state")
	ErrCodeVerifierNotFound = errors.New("code verifier not found")

	ErrInvalidTokenAcquisitionRequest = errors.New("invalid token acquisition request")
	ErrInvalidUserInfoAccessRequest   = errors.New("invalid user info access request")
	ErrSchemaValidation               = errors.New("provider response failed schema validation")

	ErrWrongKeyLength   = errors.New("wrong key length")
	ErrSessionTampering = errors.New("session token tampering")
	ErrEncoding         = errors.New("session token encoding failed")
)

// Kind is the category of an auth error.
type Kind int

const (
	KindUnknown Kind = iota
	KindSecurity
	KindProvider
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindSecurity:
		return "security"
	case KindProvider:
		return "provider"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// Category reports which family err belongs to.
func Category(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrCodeVerifierNotFound):
		return KindSecurity
	case errors.Is(err, ErrInvalidTokenAcquisitionRequest),
		errors.Is(err, ErrInvalidUserInfoAccessRequest),
		errors.Is(err, ErrSchemaValidation):
		return KindProvider
	case errors.Is(err, ErrWrongKeyLength),
		errors.Is(err, ErrSessionTampering),
		errors.Is(err, ErrEncoding):
		return KindToken
	}
	return KindUnknown
}

// ResponseError carries the raw upstream response that caused a provider
// failure, for diagnostics in debug mode.
type ResponseError struct {
	// Err is one of the provider sentinels.
	Err        error
	StatusCode int
	Body       []byte
	Cause      error
}

func (e *ResponseError) Error() string {
	if e == nil {
		return "autherr: <nil>"
	}
	msg := e.Err.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ResponseError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{e.Err}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Wrapf wraps sentinel with a formatted message and an optional cause.
func Wrapf(sentinel, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, cause)
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies authentication and authorization failures
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingCredential
	KindMalformedCredential
	KindExpiredCredential
	KindUnverifiableSignature
	KindRevokedCredential
	KindPermissionDenied
	KindUpstreamUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindMissingCredential:     "missing_credential",
	KindMalformedCredential:   "malformed_credential",
	KindExpiredCredential:     "expired_credential",
	KindUnverifiableSignature: "unverifiable_signature",
	KindRevokedCredential:     "revoked_credential",
	KindPermissionDenied:      "permission_denied",
	KindUpstreamUnavailable:   "upstream_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// HTTPStatus maps the kind to the response status used at the request boundary
func (k Kind) HTTPStatus() int {
	switch k {
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Error is the error type returned by the auth core. Err carries internal
// detail for logs only; clients get Public().
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is comparisons by kind
var (
	ErrMissingCredential     = &Error{Kind: KindMissingCredential}
	ErrMalformedCredential   = &Error{Kind: KindMalformedCredential}
	ErrExpiredCredential     = &Error{Kind: KindExpiredCredential}
	ErrUnverifiableSignature = &Error{Kind: KindUnverifiableSignature}
	ErrRevokedCredential     = &Error{Kind: KindRevokedCredential}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrUpstreamUnavailable   = &Error{Kind: KindUpstreamUnavailable}
)

// E builds an *Error
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the request later.
// Only upstream failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable
}

// Public returns the message safe to send to clients
func (e *Error) Public() string {
	switch e.Kind {
	case KindMissingCredential:
		return "authentication required"
	case KindPermissionDenied:
		return "insufficient permissions"
	case KindUpstreamUnavailable:
		return "service temporarily unavailable"
	case KindMalformedCredential, KindExpiredCredential, KindUnverifiableSignature, KindRevokedCredential:
		return "invalid or expired credentials"
	default:
		return "internal error"
	}
}

// KindOf extracts the Kind from err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

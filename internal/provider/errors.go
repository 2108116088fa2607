package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind int

const (
	// KindUnknown covers failures that match no other class.
	KindUnknown ErrorKind = iota
	// KindThrottled is a rate-limit or quota error, recoverable by backoff.
	KindThrottled
	// KindBilling is a payment or credit failure, fatal for the provider.
	KindBilling
	// KindAuth is an API key or permission failure, fatal for the provider.
	KindAuth
	// KindServer is a 5xx-class upstream failure.
	KindServer
)

// String returns the wire name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindBilling:
		return "billing"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Provider ID
	Kind     ErrorKind
	Status   int
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same provider is worth retrying after backoff.
// Only throttling is retryable; everything else fails over immediately.
func (e *Error) Retryable() bool { return e.Kind == KindThrottled }

// KindOf extracts the classification from an error chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// classify wraps a raw provider error with a kind derived from the HTTP
// status when known, falling back to message sniffing the way the upstream
// SDKs surface their failures.
func classify(provider ID, status int, err error) *Error {
	kind := KindUnknown
	msg := strings.ToLower(err.Error())

	switch {
	case status == 429,
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "overloaded"):
		kind = KindThrottled
	case status == 402,
		strings.Contains(msg, "billing"),
		strings.Contains(msg, "credit"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "insufficient"):
		kind = KindBilling
	case status == 401, status == 403,
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "permission"):
		kind = KindAuth
	case status >= 500:
		kind = KindServer
	}

	return &Error{Provider: provider, Kind: kind, Status: status, Err: err}
}

// Summary returns a short operator-facing description of a provider error.
func Summary(err error) string {
	switch KindOf(err) {
	case KindThrottled:
		return "provider throttled (rate limit)"
	case KindBilling:
		return "billing or credit problem"
	case KindAuth:
		return "API key rejected"
	case KindServer:
		return "provider server error"
	default:
		msg := err.Error()
		if len(msg) > 100 {
			msg = msg[:100]
		}
		return msg
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the fixed taxonomy every raw provider failure is translated
// into. The values double as persisted message error codes.
type ErrorKind string

const (
	KindInvalidCredential   ErrorKind = "invalid_credential"
	KindRateLimited         ErrorKind = "rate_limited"
	KindContextTooLarge     ErrorKind = "context_too_large"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindUnknown             ErrorKind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the taxonomy kind from err, or KindUnknown when err is not
// a classified provider error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Classify translates a raw provider failure into the fixed taxonomy.
// Providers speak different error dialects, so this leans on the few stable
// signals: context sentinel errors, HTTP status fragments and the common
// wording the SDKs use.
func Classify(provider string, err error) *Error {
	kind := KindUnknown

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "api key", "unauthorized", "authentication", "status code: 401", "status code: 403", "permission denied"):
			kind = KindInvalidCredential
		case containsAny(msg, "rate limit", "status code: 429", "too many requests", "quota exceeded", "resource exhausted"):
			kind = KindRateLimited
		case containsAny(msg, "context length", "context_length_exceeded", "maximum context", "too many tokens", "prompt is too long", "input is too long"):
			kind = KindContextTooLarge
		case containsAny(msg, "timeout", "deadline exceeded"):
			kind = KindTimeout
		case containsAny(msg, "connection refused", "connection reset", "no such host", "status code: 502", "status code: 503", "status code: 529", "service unavailable", "overloaded", "unexpected eof"):
			kind = KindProviderUnavailable
		}
	}

	return &Error{Kind: kind, Provider: provider, Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

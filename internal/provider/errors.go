package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNotFound  Kind = "not_found"
	KindMalformed Kind = "malformed"
	KindTransport Kind = "transport"
	KindUpstream  Kind = "upstream"
)

// Error is the canonical failure of every adapter. Provider specific error
// payloads are translated into it at the adapter boundary.
type Error struct {
	Provider string
	Kind     Kind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error.
func Errorf(provider string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: provider, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a lower level error.
func Wrap(provider string, kind Kind, msg string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindUpstream for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUpstream
}

// IsAuth reports whether err denotes a bad or missing credential. Messages
// are inspected too since some upstreams only signal this in text.
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindAuth {
		return true
	}
	return LooksLikeAuth(err.Error())
}

// LooksLikeAuth reports whether an upstream message talks about the API key.
func LooksLikeAuth(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"invalid api key", "apikey is invalid", "api key is invalid", "invalid token", "unauthorized", "parameter is incorrect or not specified"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// StatusError maps a non-2xx HTTP status to an *Error.
func StatusError(provider string, status int, body string) *Error {
	kind := KindUpstream
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusNotFound:
		kind = KindNotFound
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Errorf(provider, kind, "unexpected status code: %d", status)
	}
	return Errorf(provider, kind, "unexpected status code: %d: %s", status, body)
}

// Package apperr defines the error kinds shared by the generation pipeline and the API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for retry decisions and HTTP mapping
type Kind string

const (
	KindValidation          Kind = "REQUEST_VALIDATION"
	KindUpstreamRateLimited Kind = "UPSTREAM_RATE_LIMITED"
	KindUpstreamCall        Kind = "UPSTREAM_CALL"
	KindResponseParse       Kind = "RESPONSE_PARSE"
	KindCustomFormat        Kind = "CUSTOM_FORMAT"
	KindUnsupportedProvider Kind = "UNSUPPORTED_PROVIDER"
	KindNotFound            Kind = "NOT_FOUND"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error is a classified error with an optional cause
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindUnsupportedProvider:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func RateLimited(err error) *Error {
	return Wrap(err, KindUpstreamRateLimited, "upstream rate limited")
}

var rateLimitPhrases = []string{"rate limit", "rate_limit", "ratelimit", "too many requests"}

// MentionsRateLimit reports whether an upstream message describes a rate
// limit. Words that merely contain "rate", like "generate", do not count.
func MentionsRateLimit(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func UpstreamCall(err error) *Error {
	return Wrap(err, KindUpstreamCall, "upstream call failed")
}

func UnsupportedProvider(name string) *Error {
	return New(KindUnsupportedProvider, fmt.Sprintf("unsupported API provider: %s", name))
}

func NotFound(what string) *Error {
	return New(KindNotFound, what+" not found")
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HasKind reports whether err or anything it wraps is of kind k
func HasKind(err error, k Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}

// Status returns the HTTP status for err
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

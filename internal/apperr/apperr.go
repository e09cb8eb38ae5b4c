// Package apperr classifies failures so every transport can turn them into a
// status code and a structured body without inspecting provider internals.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindValidation
	KindAuth
	KindUpstream
	KindUnavailable
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration_error"
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "authentication_error"
	case KindUpstream:
		return "invalid_request"
	case KindUnavailable:
		return "provider_unavailable"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// Error carries a Kind plus the provider-supplied type and code when there is one.
type Error struct {
	Kind    Kind
	Message string
	Type    string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Config(msg string) *Error     { return New(KindConfig, msg) }
func Validation(msg string) *Error { return New(KindValidation, msg) }
func Auth(msg string) *Error       { return New(KindAuth, msg) }

// KindOf returns KindInternal for errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a classified error onto the status code the API promises.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfig:
		return http.StatusInternalServerError
	case KindValidation, KindUpstream:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message that is safe to show a caller. Internal errors
// are reduced to their top-level message, never the wrapped cause.
func Public(err error) (msg, typ, code string) {
	var e *Error
	if errors.As(err, &e) {
		typ = e.Type
		if typ == "" && e.Kind != KindInternal {
			typ = e.Kind.String()
		}
		return e.Message, typ, e.Code
	}
	return "internal error", "", ""
}

// Package gwerrors implements the gateway's error taxonomy (spec §7): a
// single typed error carries enough structure to be rendered either as an
// admin-plane HTTP response or a JSON-RPC error object, so the two surfaces
// never drift out of sync.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error along the taxonomy the gateway surfaces to
// callers. Each Kind maps to exactly one HTTP status and one JSON-RPC code.
type Kind string

const (
	KindConfigParse        Kind = "ConfigParse"
	KindValidationFailed   Kind = "ValidationFailed"
	KindNotFound           Kind = "NotFound"
	KindAlreadyExists      Kind = "AlreadyExists"
	KindInUse              Kind = "InUse"
	KindNoRoute            Kind = "NoRoute"
	KindNoHealthyUpstream  Kind = "NoHealthyUpstream"
	KindUpstreamTimeout    Kind = "UpstreamTimeout"
	KindUpstreamConnect    Kind = "UpstreamConnect"
	KindUpstreamBadResp    Kind = "UpstreamBadResponse"
	KindSessionExpired     Kind = "SessionExpired"
	KindCancelledByClient  Kind = "CancelledByClient"
	KindToolNotFound       Kind = "ToolNotFound"
	KindInvalidParams      Kind = "InvalidParams"
	KindInternal           Kind = "Internal"
)

// Error is the gateway's single error type. Field carries the offending
// field for ValidationFailed; References carries referrer IDs for InUse.
type Error struct {
	Kind       Kind
	Message    string
	Field      string
	Detail     string
	References []string
	Cause      error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s: %s)", e.Kind, e.Message, e.Field, e.Detail)
	}
	if len(e.References) > 0 {
		return fmt.Sprintf("%s: %s (references=%v)", e.Kind, e.Message, e.References)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(resourceType, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", resourceType, id)
}

func AlreadyExists(resourceType, id string) *Error {
	return Newf(KindAlreadyExists, "%s %q already exists", resourceType, id)
}

func InUse(resourceType, id string, references []string) *Error {
	return &Error{
		Kind:       KindInUse,
		Message:    fmt.Sprintf("%s %q is referenced by other resources", resourceType, id),
		References: references,
	}
}

func ValidationFailed(field, detail string) *Error {
	return &Error{Kind: KindValidationFailed, Message: "validation failed", Field: field, Detail: detail}
}

// As retrieves a *Error from err, following the standard errors.As protocol.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else KindInternal.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return KindInternal
}

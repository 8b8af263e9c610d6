package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure so callers can distinguish upstream
// outages from model misbehaviour.
type Kind string

const (
	// KindTransport covers network failures and non-success API statuses.
	KindTransport Kind = "transport"
	// KindParse covers model output that is not valid JSON.
	KindParse Kind = "parse"
	// KindSchema covers valid JSON that violates the expected output shape.
	KindSchema Kind = "schema"
)

// Error is a classified extraction failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction %s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("extraction %s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the failure kind, or an empty Kind for non-extraction errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

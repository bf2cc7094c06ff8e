package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	AIUnavailable
	NotFound
	ResolutionPrecondition
	MalformedAIOutput
	Storage
	Conflict
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case AIUnavailable:
		return "ai_unavailable"
	case NotFound:
		return "not_found"
	case ResolutionPrecondition:
		return "resolution_precondition"
	case MalformedAIOutput:
		return "malformed_ai_output"
	case Storage:
		return "storage"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error carries a Kind, a dotted code for logs, and a message that may be shown
// to the caller for client-facing kinds.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Kind == e.Kind
}

var (
	ErrValidation             = &Error{Kind: Validation}
	ErrAIUnavailable          = &Error{Kind: AIUnavailable}
	ErrNotFound               = &Error{Kind: NotFound}
	ErrResolutionPrecondition = &Error{Kind: ResolutionPrecondition}
	ErrMalformedAIOutput      = &Error{Kind: MalformedAIOutput}
	ErrStorage                = &Error{Kind: Storage}
	ErrConflict               = &Error{Kind: Conflict}
	ErrUnauthorized           = &Error{Kind: Unauthorized}
)

func New(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func NewValidation(code, msg string) *Error {
	return New(Validation, code, msg, nil)
}

func NewAIUnavailable(code string, err error) *Error {
	return New(AIUnavailable, code, "AI service is temporarily unavailable", err)
}

func NewNotFound(code, msg string) *Error {
	return New(NotFound, code, msg, nil)
}

func NewResolutionPrecondition(code, msg string) *Error {
	return New(ResolutionPrecondition, code, msg, nil)
}

func NewMalformedAIOutput(code string, err error) *Error {
	return New(MalformedAIOutput, code, "AI service returned an unexpected response", err)
}

func NewStorage(code string, err error) *Error {
	return New(Storage, code, "", err)
}

func NewConflict(code, msg string) *Error {
	return New(Conflict, code, msg, nil)
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the client-facing message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}

package hub

import "fmt"

// Kind classifies a handler failure for internal branching. The wire only
// ever carries the human-readable message.
type Kind string

const (
	KindInvalid        Kind = "invalid"
	KindAuthRequired   Kind = "auth_required"
	KindAuthRejected   Kind = "auth_rejected"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindAlreadyClaimed Kind = "already_claimed"
	KindExhausted      Kind = "exhausted"
	KindInconsistent   Kind = "inconsistent"
	KindInternal       Kind = "internal"
)

// Error is the tagged outcome of a handler. The dispatcher converts it to
// a single outbound error frame and never drops the connection for it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errf builds a handler error.
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// asError normalizes any failure into an *Error, mapping unexpected
// values to Internal with a generic message so storage details never
// reach the wire.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*Error); ok {
		return he
	}
	return &Error{Kind: KindInternal, Message: "internal server error"}
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why handling an event failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidEvent
	KindImageRetrieval
	KindStorage
	KindRepublish
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidEvent:
		return "invalid_event"
	case KindImageRetrieval:
		return "image_retrieval"
	case KindStorage:
		return "storage"
	case KindRepublish:
		return "republish"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidEvent   = &Error{Kind: KindInvalidEvent}
	ErrImageRetrieval = &Error{Kind: KindImageRetrieval}
	ErrStorage        = &Error{Kind: KindStorage}
	ErrRepublish      = &Error{Kind: KindRepublish}
)

// Error is a pipeline failure tagged with its kind. errors.Is matches any
// two Errors of the same kind, so callers can test against the sentinels.
type Error struct {
	Kind     ErrorKind
	RecordID string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.RecordID != "" {
		msg += " record_id=" + e.RecordID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first pipeline Error in err's chain.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, recordID string, format string, args ...any) *Error {
	return &Error{Kind: kind, RecordID: recordID, Err: fmt.Errorf(format, args...)}
}

package classify

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Kind is the fixed vocabulary of classified failures.
type Kind string

const (
	KindNetwork    Kind = "NETWORK"
	KindValidation Kind = "VALIDATION"
	KindAuth       Kind = "AUTH"
	KindNotFound   Kind = "NOT_FOUND"
	KindServer     Kind = "SERVER"
	KindGeneric    Kind = "GENERIC"
	KindUnknown    Kind = "UNKNOWN"
)

// Error is a normalized failure record. It is never mutated after creation;
// all accessors return copies.
type Error struct {
	kind      Kind
	message   string
	status    int // 0 = no status
	context   map[string]any
	timestamp time.Time
	cause     error
}

func newError(kind Kind, message string, status int, ctx map[string]any, cause error) *Error {
	return &Error{
		kind:      kind,
		message:   message,
		status:    status,
		context:   ctx,
		timestamp: time.Now(),
		cause:     cause,
	}
}

// Validation builds a VALIDATION error. The rule set never infers this kind
// from a raw message, so callers that validate input construct it directly.
func Validation(message string, annotations map[string]any) *Error {
	ctx := make(map[string]any, len(annotations))
	maps.Copy(ctx, annotations)
	return newError(KindValidation, message, 400, ctx, nil)
}

func (e *Error) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.kind, e.status, e.message)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the raw failure, if it was an error.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the classified kind.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable message.
func (e *Error) Message() string { return e.message }

// Status returns the numeric status and whether one is set.
func (e *Error) Status() (int, bool) { return e.status, e.status != 0 }

// Timestamp returns when the error was classified.
func (e *Error) Timestamp() time.Time { return e.timestamp }

// Context returns a copy of the annotation and diagnostic fields.
func (e *Error) Context() map[string]any {
	out := make(map[string]any, len(e.context))
	maps.Copy(out, e.context)
	return out
}

// WithContext returns a copy of e whose context also holds annotations.
// Annotation keys replace existing ones. e itself is unchanged, and is
// returned as is when there is nothing to add.
func (e *Error) WithContext(annotations map[string]any) *Error {
	if len(annotations) == 0 {
		return e
	}
	ctx := make(map[string]any, len(e.context)+len(annotations))
	maps.Copy(ctx, e.context)
	maps.Copy(ctx, annotations)
	cp := *e
	cp.context = ctx
	return &cp
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

// Package smartchat holds the primitives shared by the retrieval engine, the
// model switcher and the HTTP surface: a context-aware error type with a
// failure taxonomy, context-scoped structured logging, and request metadata.
package smartchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an error so callers can map it to a response without
// string matching.
type Kind string

// Error kinds.
const (
	KindInternal           Kind = "internal"
	KindValidation         Kind = "validation"
	KindConfig             Kind = "config"
	KindNotFound           Kind = "not_found"
	KindNoEligibleProvider Kind = "no_eligible_provider"
	KindProvider           Kind = "provider"
	KindExhausted          Kind = "exhausted"
	KindBackend            Kind = "backend"
)

// Error is a context-aware error that carries a Kind plus metadata for logging.
//
// It supports errors.Is, errors.As and errors.Unwrap. The trace ID and request
// ID are captured from the context at construction time.
//
// Example:
//
//	return smartchat.NewKindErr(ctx, smartchat.KindValidation, "message is required").
//	    Tag(slog.String("agent_id", agentID))
type Error struct {
	kind      Kind
	msg       string
	cause     error
	traceID   string
	requestID string
	attrs     []slog.Attr
}

// NewErr creates an internal error with no cause.
func NewErr(ctx context.Context, msg string) *Error {
	return NewKindErr(ctx, KindInternal, msg)
}

// WrapErr wraps err with a message. The kind is inherited from err when err is
// itself an *Error, otherwise it is KindInternal.
func WrapErr(ctx context.Context, err error, msg string) *Error {
	return WrapKindErr(ctx, KindOf(err), err, msg)
}

// NewKindErr creates an error of the given kind.
func NewKindErr(ctx context.Context, kind Kind, msg string) *Error {
	return &Error{
		kind:      kind,
		msg:       msg,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
	}
}

// WrapKindErr wraps err and overrides its kind.
func WrapKindErr(ctx context.Context, kind Kind, err error, msg string) *Error {
	e := NewKindErr(ctx, kind, msg)
	e.cause = err
	return e
}

// Tag adds a slog.Attr to the error and returns it for chaining.
func (e *Error) Tag(attr slog.Attr) *Error {
	e.attrs = append(e.attrs, attr)
	return e
}

// Tags adds several attributes at once.
func (e *Error) Tags(attrs ...slog.Attr) *Error {
	e.attrs = append(e.attrs, attrs...)
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the message without the cause.
func (e *Error) Message() string { return e.msg }

// TraceID returns the trace ID captured at construction.
func (e *Error) TraceID() string { return e.traceID }

// RequestID returns the request ID captured at construction.
func (e *Error) RequestID() string { return e.requestID }

// Attrs returns the tags attached to the error.
func (e *Error) Attrs() []slog.Attr { return e.attrs }

// LogAttrs returns every attribute worth logging, including the kind, the
// cause and the request metadata.
func (e *Error) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+4)
	attrs = append(attrs, slog.String("kind", string(e.kind)))
	if e.cause != nil {
		attrs = append(attrs, slog.Any("error", e.cause))
	}
	if e.traceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.traceID))
	}
	if e.requestID != "" {
		attrs = append(attrs, slog.String("request_id", e.requestID))
	}
	return append(attrs, e.attrs...)
}

// Log writes the error at error level using the logger in ctx.
func (e *Error) Log(ctx context.Context) {
	logAttrs(ctx, slog.LevelError, e.msg, e.LogAttrs()...)
}

// Is reports whether target is an *Error with the same kind and message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.kind == t.kind && e.msg == t.msg
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal. Context cancellation maps to KindProvider so a timed-out call
// is treated like any other provider failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProvider
	}
	return KindInternal
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

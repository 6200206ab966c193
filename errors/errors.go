// Package errors defines the structured error taxonomy used across
// Wasmgrind's host-side packages, plus the closed guest-facing errno
// enumeration exposed through the wasm_threadlink panic import.
package errors

import (
	"errors"
	"fmt"
)

// Phase identifies which stage of the pipeline produced an error.
type Phase int

const (
	PhaseTransform Phase = iota
	PhaseInstrument
	PhaseCompile
	PhaseLink
	PhaseHost
	PhaseEncode
	PhaseGuest
)

func (p Phase) String() string {
	switch p {
	case PhaseTransform:
		return "transform"
	case PhaseInstrument:
		return "instrument"
	case PhaseCompile:
		return "compile"
	case PhaseLink:
		return "link"
	case PhaseHost:
		return "host"
	case PhaseEncode:
		return "encode"
	case PhaseGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// Kind classifies the nature of the failure within a Phase.
type Kind int

const (
	KindMissingSymbol Kind = iota
	KindLayoutRefused
	KindAlreadyTransformed
	KindAlreadyInstrumented
	KindUnknownThread
	KindThreadCreateFailed
	KindJoinFailed
	KindAllocFailed
	KindTraceLockPoisoned
	KindTraceTooLarge
	KindInternalInvariantViolation
	KindInvalidModule
)

func (k Kind) String() string {
	switch k {
	case KindMissingSymbol:
		return "missing_symbol"
	case KindLayoutRefused:
		return "layout_refused"
	case KindAlreadyTransformed:
		return "already_transformed"
	case KindAlreadyInstrumented:
		return "already_instrumented"
	case KindUnknownThread:
		return "unknown_thread"
	case KindThreadCreateFailed:
		return "thread_create_failed"
	case KindJoinFailed:
		return "join_failed"
	case KindAllocFailed:
		return "alloc_failed"
	case KindTraceLockPoisoned:
		return "trace_lock_poisoned"
	case KindTraceTooLarge:
		return "trace_too_large"
	case KindInternalInvariantViolation:
		return "internal_invariant_violation"
	case KindInvalidModule:
		return "invalid_module"
	default:
		return "unknown"
	}
}

// Errno is the closed, guest-visible abort-reason enumeration passed to
// the wasm_threadlink panic(errno) import.
type Errno int32

const (
	ErrnoNone Errno = iota
	ErrnoThreadCreateFailed
	ErrnoJoinFailed
	ErrnoUnknownThread
	ErrnoAllocFailed
	ErrnoTraceLockPoisoned
	ErrnoInternalInvariantViolation
)

func (e Errno) String() string {
	switch e {
	case ErrnoNone:
		return "none"
	case ErrnoThreadCreateFailed:
		return "thread_create_failed"
	case ErrnoJoinFailed:
		return "join_failed"
	case ErrnoUnknownThread:
		return "unknown_thread"
	case ErrnoAllocFailed:
		return "alloc_failed"
	case ErrnoTraceLockPoisoned:
		return "trace_lock_poisoned"
	case ErrnoInternalInvariantViolation:
		return "internal_invariant_violation"
	default:
		return fmt.Sprintf("errno(%d)", int32(e))
	}
}

// ToErrno maps the host-side Kind taxonomy onto the narrower guest-visible
// Errno enumeration. Kinds with no guest-observable analogue (transformer
// and instrumenter failures, which never reach a running guest) map to
// ErrnoInternalInvariantViolation.
func (k Kind) ToErrno() Errno {
	switch k {
	case KindThreadCreateFailed:
		return ErrnoThreadCreateFailed
	case KindJoinFailed:
		return ErrnoJoinFailed
	case KindUnknownThread:
		return ErrnoUnknownThread
	case KindAllocFailed:
		return ErrnoAllocFailed
	case KindTraceLockPoisoned:
		return ErrnoTraceLockPoisoned
	default:
		return ErrnoInternalInvariantViolation
	}
}

// Error is the structured error type returned by Wasmgrind's host-side
// packages; binutil's parser returns plain errors, which callers wrap.
type Error struct {
	Phase  Phase
	Kind   Kind
	Detail string
	Cause  error
	Symbol string
	TID    uint32
	hasTID bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Phase, e.Kind)
	if e.Symbol != "" {
		msg += fmt.Sprintf(" (symbol=%s)", e.Symbol)
	}
	if e.hasTID {
		msg += fmt.Sprintf(" (tid=%d)", e.TID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder assembles an *Error fluently around the Phase+Kind convention.
type Builder struct {
	err Error
}

// New starts a Builder for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

func (b *Builder) TID(tid uint32) *Builder {
	b.err.TID = tid
	b.err.hasTID = true
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Convenience constructors for each Kind in the taxonomy above.

func MissingSymbol(phase Phase, symbol string) *Error {
	return New(phase, KindMissingSymbol).Symbol(symbol).Build()
}

func LayoutRefused(phase Phase, detail string) *Error {
	return New(phase, KindLayoutRefused).Detail(detail).Build()
}

func AlreadyTransformed() *Error {
	return New(PhaseTransform, KindAlreadyTransformed).Build()
}

func AlreadyInstrumented() *Error {
	return New(PhaseInstrument, KindAlreadyInstrumented).Build()
}

func UnknownThread(tid uint32) *Error {
	return New(PhaseHost, KindUnknownThread).TID(tid).Build()
}

func ThreadCreateFailed(cause error) *Error {
	return New(PhaseHost, KindThreadCreateFailed).Cause(cause).Build()
}

func JoinFailed(tid uint32, cause error) *Error {
	return New(PhaseHost, KindJoinFailed).TID(tid).Cause(cause).Build()
}

func AllocFailed(phase Phase, detail string) *Error {
	return New(phase, KindAllocFailed).Detail(detail).Build()
}

func TraceLockPoisoned() *Error {
	return New(PhaseHost, KindTraceLockPoisoned).Build()
}

func TraceTooLarge(field string, limit, got int64) *Error {
	return New(PhaseEncode, KindTraceTooLarge).
		Detail("field %s exceeds limit %d (got %d)", field, limit, got).Build()
}

func InternalInvariantViolation(detail string) *Error {
	return New(PhaseHost, KindInternalInvariantViolation).Detail(detail).Build()
}

func InvalidModule(phase Phase, detail string) *Error {
	return New(phase, KindInvalidModule).Detail(detail).Build()
}

// Is exposes errors.Is from the standard library for callers that only
// import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

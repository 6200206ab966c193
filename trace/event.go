// Package trace implements Wasmgrind's concurrent trace recorder and its
// RapidBin binary encoding: a mutex-guarded append-only event log, and the
// packed-binary/JSON-metadata serialization a hook-injected module's
// read_hook/write_hook/ABI calls feed into at runtime.
//
// Grounded on original_source/crates/race-detection: event.go mirrors
// generic.rs's Operation/Event shape, rapidbin.go mirrors
// rapidbin/encoder.rs's bit-packing and rapidbin.rs's field layout,
// metadata.go mirrors tracing/metadata.rs's sidecar record shape, and
// interner.go mirrors tracing/converter.rs's first-seen interning scheme.
package trace

import wasmerr "github.com/AFKoffee/wasmgrind/errors"

// OpKind is the 4-bit operation tag packed into a RapidBin event:
// {Read, Write, Acquire, Request, Release, Fork, Join}.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
	OpAcquire
	OpRequest
	OpRelease
	OpFork
	OpJoin
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpAcquire:
		return "acquire"
	case OpRequest:
		return "request"
	case OpRelease:
		return "release"
	case OpFork:
		return "fork"
	case OpJoin:
		return "join"
	default:
		return "unknown"
	}
}

// Operation is the tagged union of traceable actions. Only the fields
// relevant to Kind are populated; the constructors below are the intended
// way to build one.
type Operation struct {
	Kind     OpKind
	Addr     uint32 // Read, Write
	N        uint32 // Read, Write
	Lock     uint32 // Acquire, Request, Release
	ChildTID uint32 // Fork, Join
}

func Read(addr, n uint32) Operation     { return Operation{Kind: OpRead, Addr: addr, N: n} }
func Write(addr, n uint32) Operation    { return Operation{Kind: OpWrite, Addr: addr, N: n} }
func Acquire(lock uint32) Operation     { return Operation{Kind: OpAcquire, Lock: lock} }
func Request(lock uint32) Operation     { return Operation{Kind: OpRequest, Lock: lock} }
func Release(lock uint32) Operation     { return Operation{Kind: OpRelease, Lock: lock} }
func Fork(childTID uint32) Operation    { return Operation{Kind: OpFork, ChildTID: childTID} }
func Join(childTID uint32) Operation    { return Operation{Kind: OpJoin, ChildTID: childTID} }

// Location identifies a point in the instrumented module's code.
type Location struct {
	FuncIdx  uint32
	InstrIdx uint32
}

// Event is a single append to the trace: which thread did what, where.
// Order within a Recorder's log equals wall-clock order of append.
type Event struct {
	TID uint32
	Op  Operation
	Loc Location
}

func invalidOperation(kind OpKind) error {
	return wasmerr.InternalInvariantViolation("unrecognized operation kind " + kind.String())
}

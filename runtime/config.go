package runtime

import (
	"go.uber.org/zap"
)

// Config configures a Runtime, mirroring engine.Config's
// {MemoryLimitPages, EnableThreads} shape widened to cover Wasmgrind's
// threading and tracing knobs.
type Config struct {
	// StackSize records the per-thread stack size Threadify reserved when
	// producing the module New is given — informational only, since New
	// takes already-transformed bytes and never invokes Threadify itself.
	// Zero means the caller used threadify.DefaultStackSize.
	StackSize uint32
	// Tracing installs the instrumenter's memory-access hooks and the lock
	// lifecycle hooks, and wires a trace.Recorder to receive them. False
	// runs a standalone configuration where only panic/thread_create/
	// thread_join are registered.
	Tracing bool
	// MemoryLimitPages bounds the shared linear memory's maximum size in
	// 64KiB pages. Zero defers to the module's own declared maximum.
	MemoryLimitPages uint32
	// MaxThreads bounds the number of live guest threads. Zero means
	// unbounded.
	MaxThreads uint32
	// Logger, if set, is installed as this package's (and tmgmt's and
	// trace's) logger via SetLogger before the Runtime starts.
	Logger *zap.Logger
}

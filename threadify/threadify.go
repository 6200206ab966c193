// Package threadify implements Wasmgrind's Threadify transform: it
// rewrites a single-threaded, shared-memory-enabled WebAssembly module
// so each new thread bootstraps its own stack and thread-local-storage
// block at start-up, and can tear them down again through a synthesized
// __wasmgrind_thread_destroy export.
//
// The algorithm is grounded on wasm-threadify's run()/inject_start()/
// inject_destroy()/with_temp_stack() (original_source/crates/
// wasm-threadify/src/lib.rs), reworked from walrus's IR-builder API onto
// wasmgrind's own binutil.Module byte-level editor.
package threadify

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/tetratelabs/wazero/api"
)

const (
	// PageSize is the WebAssembly linear-memory page size.
	PageSize = 1 << 16
	// DefaultStackSize is the per-thread stack reservation used when
	// Options.StackSize is left at zero. The original transform hard-codes
	// this; wasmgrind keeps it as a configurable default instead.
	DefaultStackSize = 1 << 21
	// TempStackPages is the number of pages reserved for the thread
	// counter, temp-stack lock and bootstrap stack used before a thread
	// has allocated its own.
	TempStackPages = 1
	// StaticDataAlign is the alignment Threadify uses for the static data
	// it reserves out of __heap_base.
	StaticDataAlign = 4
)

// Options configures a single Transform call.
type Options struct {
	// StackSize is the number of bytes malloc'd for each new thread's
	// private stack. Zero means DefaultStackSize.
	StackSize uint32
}

func (o Options) stackSize() uint32 {
	if o.StackSize == 0 {
		return DefaultStackSize
	}
	return o.StackSize
}

// Transform parses wasm, threadifies it, and returns the rewritten module
// bytes. It is idempotent-checked: a module that already exports
// __wasmgrind_thread_destroy is rejected rather than threadified twice.
func Transform(wasm []byte, opts Options) ([]byte, error) {
	m, err := binutil.Parse(wasm)
	if err != nil {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseTransform, err.Error())
	}

	if _, ok := m.FindExport("__wasmgrind_thread_destroy"); ok {
		return nil, wasmerr.AlreadyTransformed()
	}

	if err := validateSharedMemory(m); err != nil {
		return nil, err
	}

	sym, err := discoverSymbols(m)
	if err != nil {
		return nil, err
	}

	aux, err := reserveAuxPage(m, sym.heapBaseGlobal)
	if err != nil {
		return nil, err
	}

	stackSizeGlobal := m.AddGlobal(binutil.Global{
		ValType: api.ValueTypeI32, Mutable: true, InitExpr: i32ConstExpr(int32(opts.stackSize())),
	})
	stackAllocGlobal := m.AddGlobal(binutil.Global{
		ValType: api.ValueTypeI32, Mutable: true, InitExpr: i32ConstExpr(0),
	})
	m.SetExport("__stack_alloc", binutil.KindGlobal, stackAllocGlobal)

	prevStart, hadPrevStart := m.ClearStart()

	if err := injectStart(m, sym, aux, stackSizeGlobal, stackAllocGlobal, prevStart, hadPrevStart); err != nil {
		return nil, err
	}
	if err := injectDestroy(m, sym, aux, stackSizeGlobal, stackAllocGlobal, opts.stackSize()); err != nil {
		return nil, err
	}

	Logger().Sugar().Debugw("threadify transform complete",
		"stackSize", opts.stackSize(),
		"threadCounterAddr", aux.threadCounterAddr,
		"tempStackTop", aux.tempStackTop,
	)

	return m.Encode(), nil
}

// Package abi codifies Wasmgrind's runtime ABI contract: the namespace and
// function names a guest module must import to get threading and tracing
// support, their non-tracing/tracing signatures, and the exports every
// guest module must provide in return. runtime imports this package to
// register the host side of the contract; guestfixture.go builds synthetic
// guest modules satisfying it for runtime's own test suite, since no guest
// source toolchain is available to compile a real one.
package abi

import "github.com/tetratelabs/wazero/api"

// Namespace is the module name guests import panic/thread_create/
// thread_join and the lock lifecycle hooks under.
const Namespace = "wasm_threadlink"

// WasabiNamespace is the module name guests import the memory-access hooks
// under. Tracing mode only.
const WasabiNamespace = "wasabi"

// EnvNamespace is the module name the shared linear memory is imported
// under.
const EnvNamespace = "env"

// MemoryExportName is the name of the shared memory within EnvNamespace.
const MemoryExportName = "memory"

// Function names under Namespace.
const (
	FuncPanic        = "panic"
	FuncThreadCreate = "thread_create"
	FuncThreadJoin   = "thread_join"
	FuncStartLock    = "start_lock"
	FuncFinishLock   = "finish_lock"
	FuncStartUnlock  = "start_unlock"
	FuncFinishUnlock = "finish_unlock"
)

// Function names under WasabiNamespace.
const (
	FuncReadHook  = "read_hook"
	FuncWriteHook = "write_hook"
)

// Exports every guest module must provide.
const (
	ExportThreadStart   = "thread_start"
	ExportMalloc        = "__wasmgrind_malloc"
	ExportFree          = "__wasmgrind_free"
	ExportThreadDestroy = "__wasmgrind_thread_destroy"
)

// lockHookNames are the four lock-lifecycle imports, tracing mode only.
// start_unlock never produces a trace event, but the guest still calls it
// symmetrically with the other three, so the host still imports it under
// the same widened signature.
var lockHookNames = [...]string{FuncStartLock, FuncFinishLock, FuncStartUnlock, FuncFinishUnlock}

// FuncDef pairs a wasm_threadlink/wasabi import with the parameter and
// result types the host must register it with.
type FuncDef struct {
	Namespace string
	Name      string
	Params    []api.ValueType
	Results   []api.ValueType
}

func widen(tracing bool, base ...api.ValueType) []api.ValueType {
	if !tracing {
		return base
	}
	// Trailing (fn, instr) call-site location pair.
	return append(append([]api.ValueType{}, base...), api.ValueTypeI32, api.ValueTypeI32)
}

// CoreFuncs returns the wasm_threadlink (and, in tracing mode, wasabi)
// import definitions the host must register. Tracing widens
// thread_create/thread_join/the lock hooks by two trailing i32 parameters;
// panic is never widened.
func CoreFuncs(tracing bool) []FuncDef {
	i32 := api.ValueTypeI32
	defs := []FuncDef{
		{Namespace: Namespace, Name: FuncPanic, Params: []api.ValueType{i32}},
		{Namespace: Namespace, Name: FuncThreadCreate, Params: widen(tracing, i32, i32), Results: []api.ValueType{i32}},
		{Namespace: Namespace, Name: FuncThreadJoin, Params: widen(tracing, i32), Results: []api.ValueType{i32}},
	}
	if !tracing {
		return defs
	}
	for _, name := range lockHookNames {
		defs = append(defs, FuncDef{Namespace: Namespace, Name: name, Params: widen(tracing, i32)})
	}
	hookParams := []api.ValueType{i32, i32, i32, i32} // addr, n, fn, instr
	defs = append(defs,
		FuncDef{Namespace: WasabiNamespace, Name: FuncReadHook, Params: hookParams},
		FuncDef{Namespace: WasabiNamespace, Name: FuncWriteHook, Params: hookParams},
	)
	return defs
}

package threadify

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/tetratelabs/wazero/api"
)

// symbols holds the linker-provided globals and functions that Transform
// locates before it mutates a module. Mirrors the Tls/Stack lookups at the
// top of the original run() pass.
type symbols struct {
	mallocIdx  uint32
	freeIdx    uint32
	tlsInitIdx uint32

	tlsBaseGlobal      uint32
	stackPointerGlobal uint32
	heapBaseGlobal     uint32

	tlsSize  uint32
	tlsAlign uint32
}

func findExportedFunc(m *binutil.Module, name string) (uint32, bool) {
	e, ok := m.FindExport(name)
	if !ok || e.Kind != binutil.KindFunc {
		return 0, false
	}
	return e.Idx, true
}

func findExportedGlobal(m *binutil.Module, name string) (uint32, bool) {
	e, ok := m.FindExport(name)
	if !ok || e.Kind != binutil.KindGlobal {
		return 0, false
	}
	return e.Idx, true
}

// findExportedConstGlobal resolves an exported, locally defined, immutable
// i32 global to its constant value (e.g. __tls_size, __tls_align,
// __heap_base).
func findExportedConstGlobal(m *binutil.Module, name string) (idx uint32, val int32, ok bool) {
	idx, found := findExportedGlobal(m, name)
	if !found {
		return 0, 0, false
	}
	local := int(idx) - m.NumImportedGlobals()
	if local < 0 || local >= len(m.Globals) {
		return 0, 0, false
	}
	g := m.Globals[local]
	if g.ValType != api.ValueTypeI32 {
		return 0, 0, false
	}
	v, ok := decodeI32Const(g.InitExpr)
	if !ok {
		return 0, 0, false
	}
	return idx, v, true
}

// findStackPointer locates __stack_pointer. The linker usually keeps this
// internal (no export), so absent an explicit export wasmgrind falls back
// to the heuristic the original transform uses: the first mutable i32
// global carrying a nonzero constant initializer.
func findStackPointer(m *binutil.Module) (uint32, bool) {
	if idx, ok := findExportedGlobal(m, "__stack_pointer"); ok {
		return idx, true
	}

	base := uint32(m.NumImportedGlobals())
	candidate := uint32(0)
	found := false
	for i, g := range m.Globals {
		if !g.Mutable || g.ValType != api.ValueTypeI32 {
			continue
		}
		v, ok := decodeI32Const(g.InitExpr)
		if !ok || v == 0 {
			continue
		}
		if found {
			// ambiguous: keep the first match, matching "pick first"
			// behavior rather than failing outright.
			continue
		}
		candidate = base + uint32(i)
		found = true
	}
	return candidate, found
}

func removeExport(m *binutil.Module, name string) {
	out := m.Exports[:0]
	for _, e := range m.Exports {
		if e.Name != name {
			out = append(out, e)
		}
	}
	m.Exports = out
}

// discoverSymbols resolves every linker-provided symbol Transform needs and
// strips the purely-internal TLS bootstrap exports (__wasm_init_tls,
// __tls_size, __tls_align) once their values have been captured, since
// after Transform nothing outside the synthesized start/destroy functions
// calls them directly.
func discoverSymbols(m *binutil.Module) (*symbols, error) {
	malloc, ok := findExportedFunc(m, "__wasmgrind_malloc")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__wasmgrind_malloc")
	}
	free, ok := findExportedFunc(m, "__wasmgrind_free")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__wasmgrind_free")
	}
	tlsInit, ok := findExportedFunc(m, "__wasm_init_tls")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__wasm_init_tls")
	}

	tlsBase, ok := findExportedGlobal(m, "__tls_base")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__tls_base")
	}

	_, tlsSize, ok := findExportedConstGlobal(m, "__tls_size")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__tls_size")
	}
	_, tlsAlign, ok := findExportedConstGlobal(m, "__tls_align")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__tls_align")
	}

	heapBase, ok := findExportedGlobal(m, "__heap_base")
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__heap_base")
	}

	sp, ok := findStackPointer(m)
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__stack_pointer")
	}

	removeExport(m, "__wasm_init_tls")
	removeExport(m, "__tls_size")
	removeExport(m, "__tls_align")

	return &symbols{
		mallocIdx:          malloc,
		freeIdx:             free,
		tlsInitIdx:          tlsInit,
		tlsBaseGlobal:       tlsBase,
		stackPointerGlobal:  sp,
		heapBaseGlobal:      heapBase,
		tlsSize:             uint32(tlsSize),
		tlsAlign:            uint32(tlsAlign),
	}, nil
}

// validateSharedMemory checks the precondition both Threadify and the
// Instrumenter rely on: memory 0 exists, is declared shared, and has an
// explicit maximum (wazero and every other wasm32-threads host require a
// maximum to reserve the shared backing buffer up front). It does not check
// the number of memories or their index width.
func validateSharedMemory(m *binutil.Module) error {
	lim, ok := m.MemoryLimits()
	if !ok {
		return wasmerr.MissingSymbol(wasmerr.PhaseTransform, "memory")
	}
	if !lim.Shared {
		return wasmerr.InvalidModule(wasmerr.PhaseTransform, "memory is not declared shared")
	}
	if !lim.HasMax {
		return wasmerr.InvalidModule(wasmerr.PhaseTransform, "shared memory has no declared maximum")
	}
	return nil
}

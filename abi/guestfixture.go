package abi

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	"github.com/tetratelabs/wazero/api"
)

// asm accumulates raw instruction bytes for a synthesized function body,
// mirroring threadify's and instrument's own tiny bytecode assemblers —
// each package that synthesizes wasm keeps a minimal private copy rather
// than sharing one, since none of them needs more than a handful of
// opcodes.
type asm struct{ buf []byte }

func newAsm() *asm { return &asm{} }

func (a *asm) raw(b ...byte) *asm { a.buf = append(a.buf, b...); return a }

func (a *asm) i32Const(v int32) *asm {
	a.buf = append(a.buf, binutil.OpI32Const)
	a.buf = append(a.buf, binutil.EncodeSLEB128(v)...)
	return a
}

func (a *asm) globalSet(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpGlobalSet)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) call(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpCall)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) i32Load() *asm { return a.raw(binutil.OpI32Load, 0x02, 0x00) }

func (a *asm) drop() *asm { return a.raw(binutil.OpDrop) }
func (a *asm) end() *asm  { return a.raw(binutil.OpEnd) }
func (a *asm) bytes() []byte { return a.buf }

// withNoLocals prepends the empty local-declaration vector a code-section
// entry needs when the function declares no locals of its own.
func withNoLocals(body *asm) []byte {
	return append([]byte{0x00}, body.bytes()...)
}

// FixtureOptions configures a module built by BuildGuestFixture.
type FixtureOptions struct {
	// Tracing selects the tracing signature widths for CoreFuncs and adds
	// the wasabi hook imports.
	Tracing bool
	// MemMin/MemMax are the shared memory's declared page limits. Zero
	// means a small default (2/16 pages).
	MemMin, MemMax uint32
}

func (o FixtureOptions) memMin() uint32 {
	if o.MemMin == 0 {
		return 2
	}
	return o.MemMin
}

func (o FixtureOptions) memMax() uint32 {
	if o.MemMax == 0 {
		return 16
	}
	return o.MemMax
}

// GuestFixture is a synthetic module built by BuildGuestFixture, plus the
// indices of the pieces runtime's tests need to reach into directly.
type GuestFixture struct {
	Module *binutil.Module

	// GVarGlobal is the index of the exported "g_var" global the "main"
	// export writes 42 into.
	GVarGlobal uint32

	// ImportIdx maps "namespace.name" to a wasm_threadlink/wasabi import's
	// function index.
	ImportIdx map[string]uint32
}

// BuildGuestFixture assembles a minimal but structurally complete guest
// module satisfying the runtime ABI contract: it imports env.memory
// (shared, bounded) and every function CoreFuncs(opts.Tracing) lists, and
// exports thread_start/__wasmgrind_malloc/__wasmgrind_free/
// __wasmgrind_thread_destroy plus two entry points runtime's tests drive
// directly: "main" (writes 42 to the exported global "g_var") and
// "spawn_and_join" (calls thread_create then thread_join on its result).
//
// Grounded on threadify's and instrument's own test-only
// buildGuestModule/buildInstrumentableModule helpers, generalized into an
// exported, cross-package fixture since runtime needs the same shape and
// no guest source toolchain is available to compile a real one.
func BuildGuestFixture(opts FixtureOptions) *GuestFixture {
	m := &binutil.Module{}

	m.Imports = append(m.Imports, binutil.Import{
		Module: EnvNamespace, Name: MemoryExportName, Kind: binutil.KindMemory,
		Limits: binutil.Limits{Min: opts.memMin(), Max: opts.memMax(), HasMax: true, Shared: true},
	})

	importIdx := make(map[string]uint32)
	for _, def := range CoreFuncs(opts.Tracing) {
		typeIdx := m.AddType(binutil.FuncType{Params: def.Params, Results: def.Results})
		m.Imports = append(m.Imports, binutil.Import{
			Module: def.Namespace, Name: def.Name, Kind: binutil.KindFunc, TypeIdx: typeIdx,
		})
		importIdx[def.Namespace+"."+def.Name] = uint32(m.NumImportedFuncs() - 1)
	}

	gVarIdx := m.AddGlobal(binutil.Global{
		ValType: api.ValueTypeI32, Mutable: true,
		InitExpr: []byte{binutil.OpI32Const, 0x00, binutil.OpEnd},
	})
	m.SetExport("g_var", binutil.KindGlobal, gVarIdx)

	voidType := m.AddType(binutil.FuncType{})
	threadStartType := m.AddType(binutil.FuncType{Params: []api.ValueType{api.ValueTypeI32}})
	mallocType := m.AddType(binutil.FuncType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	})
	freeType := m.AddType(binutil.FuncType{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	})
	destroyType := m.AddType(binutil.FuncType{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	})

	threadStartIdx := m.AddFunc(threadStartType, withNoLocals(newAsm().end()))
	m.SetExport(ExportThreadStart, binutil.KindFunc, threadStartIdx)

	mallocIdx := m.AddFunc(mallocType, withNoLocals(newAsm().i32Const(0).end()))
	m.SetExport(ExportMalloc, binutil.KindFunc, mallocIdx)

	freeIdx := m.AddFunc(freeType, withNoLocals(newAsm().end()))
	m.SetExport(ExportFree, binutil.KindFunc, freeIdx)

	destroyIdx := m.AddFunc(destroyType, withNoLocals(newAsm().end()))
	m.SetExport(ExportThreadDestroy, binutil.KindFunc, destroyIdx)

	mainIdx := m.AddFunc(voidType, withNoLocals(newAsm().i32Const(42).globalSet(gVarIdx).end()))
	m.SetExport("main", binutil.KindFunc, mainIdx)

	createIdx := importIdx[Namespace+"."+FuncThreadCreate]
	joinIdx := importIdx[Namespace+"."+FuncThreadJoin]
	spawn := newAsm().i32Const(0).i32Const(int32(threadStartIdx))
	if opts.Tracing {
		spawn.i32Const(0).i32Const(0)
	}
	spawn.call(createIdx).drop()
	spawn.i32Const(0).i32Load() // read the tid thread_create wrote to out_tid_ptr == 0
	if opts.Tracing {
		spawn.i32Const(0).i32Const(0)
	}
	spawn.call(joinIdx).drop().end()
	spawnIdx := m.AddFunc(voidType, withNoLocals(spawn))
	m.SetExport("spawn_and_join", binutil.KindFunc, spawnIdx)

	return &GuestFixture{Module: m, GVarGlobal: gVarIdx, ImportIdx: importIdx}
}

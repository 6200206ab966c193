package threadify

import (
	"testing"

	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/tetratelabs/wazero/api"
)

// buildGuestModule assembles a minimal but structurally complete guest
// module exposing the linker symbols Threadify depends on: a shared,
// bounded memory; malloc/free/__wasm_init_tls funcs; and the __tls_base/
// __tls_size/__tls_align/__heap_base globals a wasm32-threads toolchain
// would emit.
func buildGuestModule(shared, hasMax bool) *binutil.Module {
	m := &binutil.Module{}
	m.Imports = append(m.Imports, binutil.Import{
		Module: "env", Name: "memory", Kind: binutil.KindMemory,
		Limits: binutil.Limits{Min: 2, Max: 16, HasMax: hasMax, Shared: shared},
	})

	i32i32i32 := m.AddType(binutil.FuncType{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	})
	mallocIdx := m.AddFunc(i32i32i32, []byte{0x00, binutil.OpEnd})
	m.SetExport("__wasmgrind_malloc", binutil.KindFunc, mallocIdx)

	freeType := m.AddType(binutil.FuncType{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	})
	freeIdx := m.AddFunc(freeType, []byte{0x00, binutil.OpEnd})
	m.SetExport("__wasmgrind_free", binutil.KindFunc, freeIdx)

	voidType := m.AddType(binutil.FuncType{})
	tlsInitParamType := m.AddType(binutil.FuncType{Params: []api.ValueType{api.ValueTypeI32}})
	tlsInitIdx := m.AddFunc(tlsInitParamType, []byte{0x00, binutil.OpEnd})
	m.SetExport("__wasm_init_tls", binutil.KindFunc, tlsInitIdx)

	tlsBaseIdx := m.AddGlobal(binutil.Global{ValType: api.ValueTypeI32, Mutable: true, InitExpr: i32ConstExpr(0)})
	m.SetExport("__tls_base", binutil.KindGlobal, tlsBaseIdx)

	tlsSizeIdx := m.AddGlobal(binutil.Global{ValType: api.ValueTypeI32, Mutable: false, InitExpr: i32ConstExpr(64)})
	m.SetExport("__tls_size", binutil.KindGlobal, tlsSizeIdx)

	tlsAlignIdx := m.AddGlobal(binutil.Global{ValType: api.ValueTypeI32, Mutable: false, InitExpr: i32ConstExpr(8)})
	m.SetExport("__tls_align", binutil.KindGlobal, tlsAlignIdx)

	heapBaseIdx := m.AddGlobal(binutil.Global{ValType: api.ValueTypeI32, Mutable: false, InitExpr: i32ConstExpr(1024)})
	m.SetExport("__heap_base", binutil.KindGlobal, heapBaseIdx)

	spIdx := m.AddGlobal(binutil.Global{ValType: api.ValueTypeI32, Mutable: true, InitExpr: i32ConstExpr(1024)})
	_ = spIdx // discovered heuristically, not exported

	entryIdx := m.AddFunc(voidType, []byte{0x00, binutil.OpEnd})
	m.SetExport("_start", binutil.KindFunc, entryIdx)
	m.SetStart(entryIdx)

	return m
}

func TestTransformHappyPath(t *testing.T) {
	m := buildGuestModule(true, true)
	out, err := Transform(m.Encode(), Options{})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	parsed, err := binutil.Parse(out)
	if err != nil {
		t.Fatalf("failed to re-parse transformed module: %v", err)
	}

	if _, ok := parsed.FindExport("__wasmgrind_thread_destroy"); !ok {
		t.Error("expected __wasmgrind_thread_destroy to be exported")
	}
	if _, ok := parsed.FindExport("__stack_alloc"); !ok {
		t.Error("expected __stack_alloc to be exported")
	}
	if _, ok := parsed.FindExport("__wasm_init_tls"); ok {
		t.Error("expected __wasm_init_tls export to be removed")
	}
	if _, ok := parsed.FindExport("__tls_size"); ok {
		t.Error("expected __tls_size export to be removed")
	}

	lim, ok := parsed.MemoryLimits()
	if !ok || lim.Min < 3 {
		t.Errorf("expected memory minimum to grow by the aux page, got %+v ok=%v", lim, ok)
	}

	if !parsed.HasStart {
		t.Fatal("expected a start function to be installed")
	}
}

func TestTransformRejectsAlreadyTransformed(t *testing.T) {
	m := buildGuestModule(true, true)
	once, err := Transform(m.Encode(), Options{})
	if err != nil {
		t.Fatalf("first transform failed: %v", err)
	}

	_, err = Transform(once, Options{})
	if err == nil {
		t.Fatal("expected second transform to be rejected")
	}
	if !wasmerr.Is(err, wasmerr.AlreadyTransformed()) {
		t.Errorf("expected AlreadyTransformed, got %v", err)
	}
}

func TestTransformRejectsNonSharedMemory(t *testing.T) {
	m := buildGuestModule(false, true)
	_, err := Transform(m.Encode(), Options{})
	if err == nil {
		t.Fatal("expected rejection of non-shared memory")
	}
}

func TestTransformRejectsMissingMaximum(t *testing.T) {
	m := buildGuestModule(true, false)
	_, err := Transform(m.Encode(), Options{})
	if err == nil {
		t.Fatal("expected rejection of a memory with no declared maximum")
	}
}

func TestTransformRejectsMissingMalloc(t *testing.T) {
	m := &binutil.Module{}
	m.Imports = append(m.Imports, binutil.Import{
		Module: "env", Name: "memory", Kind: binutil.KindMemory,
		Limits: binutil.Limits{Min: 2, Max: 16, HasMax: true, Shared: true},
	})
	_, err := Transform(m.Encode(), Options{})
	if err == nil {
		t.Fatal("expected rejection of a module missing __wasmgrind_malloc")
	}
	if !wasmerr.Is(err, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "__wasmgrind_malloc")) {
		t.Errorf("expected MissingSymbol(__wasmgrind_malloc), got %v", err)
	}
}

func TestTransformUsesConfiguredStackSize(t *testing.T) {
	m := buildGuestModule(true, true)
	out, err := Transform(m.Encode(), Options{StackSize: 4096})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	parsed, err := binutil.Parse(out)
	if err != nil {
		t.Fatalf("failed to re-parse transformed module: %v", err)
	}
	found := false
	for _, g := range parsed.Globals {
		if v, ok := decodeI32Const(g.InitExpr); ok && g.Mutable && v == 4096 {
			found = true
		}
	}
	if !found {
		t.Error("expected a mutable global initialized to the configured stack size 4096")
	}
}

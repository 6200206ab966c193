package binutil

import (
	"bytes"
	"testing"

	"github.com/tetratelabs/wazero/api"
)

func TestLEB128RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF}
	for _, v := range values {
		enc := EncodeULEB128(v)
		got, n := DecodeULEB128(enc)
		if got != v || n != len(enc) {
			t.Errorf("ULEB128 round trip failed for %d: got %d (n=%d, want n=%d)", v, got, n, len(enc))
		}
	}

	signed := []int32{0, -1, 127, -128, 1000000, -1000000}
	for _, v := range signed {
		enc := EncodeSLEB128(v)
		got, n := DecodeSLEB128(enc)
		if got != v || n != len(enc) {
			t.Errorf("SLEB128 round trip failed for %d: got %d (n=%d, want n=%d)", v, got, n, len(enc))
		}
	}
}

func TestValTypeRoundTrip(t *testing.T) {
	types := []api.ValueType{api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64}
	for _, vt := range types {
		b := ValTypeToWasm(vt)
		if got := ParseValType(b); got != vt {
			t.Errorf("ValType round trip failed for %v: got %v", vt, got)
		}
	}
}

// buildMinimalModule hand-assembles a tiny module with one imported shared
// memory, one local i32 global, and one empty exported function that is
// also the start function — enough surface for Threadify/Instrumenter to operate on.
func buildMinimalModule() *Module {
	m := &Module{}
	m.Imports = append(m.Imports, Import{
		Module: "env", Name: "memory", Kind: KindMemory,
		Limits: Limits{Min: 2, Max: 16, HasMax: true, Shared: true},
	})
	m.AddGlobal(Global{ValType: api.ValueTypeI32, Mutable: true, InitExpr: []byte{0x41, 0x00, 0x0B}})

	voidType := m.AddType(FuncType{})
	body := []byte{0x00, 0x0B} // no locals, end
	fnIdx := m.AddFunc(voidType, body)

	m.SetExport("__tls_base", KindGlobal, 0)
	m.SetExport("run", KindFunc, fnIdx)
	m.SetStart(fnIdx)
	return m
}

func TestModuleEncodeParseRoundTrip(t *testing.T) {
	m := buildMinimalModule()
	encoded := m.Encode()

	if !bytes.HasPrefix(encoded, magicVersion) {
		t.Fatal("expected encoded module to start with the wasm magic/version header")
	}

	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("failed to parse encoded module: %v", err)
	}

	if len(parsed.Globals) != 1 {
		t.Fatalf("expected 1 global, got %d", len(parsed.Globals))
	}
	if parsed.Globals[0].ValType != api.ValueTypeI32 || !parsed.Globals[0].Mutable {
		t.Errorf("global round-trip mismatch: %+v", parsed.Globals[0])
	}

	exp, ok := parsed.FindExport("run")
	if !ok || exp.Kind != KindFunc {
		t.Fatalf("expected export 'run' to round-trip, got %+v ok=%v", exp, ok)
	}

	if !parsed.HasStart || parsed.StartIdx != exp.Idx {
		t.Fatalf("expected start function to round-trip to %d, got %+v", exp.Idx, parsed)
	}

	lim, ok := parsed.MemoryLimits()
	if !ok || lim.Min != 2 || lim.Max != 16 || !lim.Shared {
		t.Fatalf("memory limits did not round-trip: %+v ok=%v", lim, ok)
	}
}

func TestModuleAddFuncExtendsIndexSpace(t *testing.T) {
	m := buildMinimalModule()
	before := m.NumImportedFuncs() + len(m.FuncTypeIdx)

	voidType := m.AddType(FuncType{})
	idx := m.AddFunc(voidType, []byte{0x00, 0x0B})

	if int(idx) != before {
		t.Errorf("expected new func index %d, got %d", before, idx)
	}
	ft, ok := m.FuncType(idx)
	if !ok || len(ft.Params) != 0 || len(ft.Results) != 0 {
		t.Errorf("unexpected signature for new func: %+v ok=%v", ft, ok)
	}
}

func TestGrowMemoryMinRespectsExistingMax(t *testing.T) {
	m := buildMinimalModule()
	if !m.GrowMemoryMin(4) {
		t.Fatal("expected a memory to be found")
	}
	lim, _ := m.MemoryLimits()
	if lim.Min != 4 {
		t.Errorf("expected min to grow to 4, got %d", lim.Min)
	}
	if lim.Max != 16 {
		t.Errorf("expected max to remain 16, got %d", lim.Max)
	}

	if !m.GrowMemoryMin(32) {
		t.Fatal("expected a memory to be found")
	}
	lim, _ = m.MemoryLimits()
	if lim.Max != 32 {
		t.Errorf("expected max to grow alongside min to 32, got %d", lim.Max)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse([]byte{0, 1, 2, 3, 4, 5, 6, 7}); err == nil {
		t.Fatal("expected an error for bad magic/version header")
	}
}

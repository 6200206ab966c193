package instrument

import (
	"testing"

	"github.com/AFKoffee/wasmgrind/binutil"
	"github.com/tetratelabs/wazero/api"
)

// buildInstrumentableModule assembles a minimal guest module already past
// Threadify: a shared bounded memory, one wasm_threadlink ABI import, and a
// local function that performs a load, a store, and an ABI call — enough
// to exercise every remap path without needing a real Threadify output.
func buildInstrumentableModule() *binutil.Module {
	m := &binutil.Module{}
	m.Imports = append(m.Imports, binutil.Import{
		Module: "env", Name: "memory", Kind: binutil.KindMemory,
		Limits: binutil.Limits{Min: 2, Max: 16, HasMax: true, Shared: true},
	})

	createType := m.AddType(binutil.FuncType{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	})
	m.Imports = append(m.Imports, binutil.Import{
		Module: "wasm_threadlink", Name: "thread_create", Kind: binutil.KindFunc, TypeIdx: createType,
	})
	const createIdx = 0 // sole function import, occupies index 0

	runType := m.AddType(binutil.FuncType{Params: []api.ValueType{api.ValueTypeI32}})

	instrs := newAsm()
	instrs.localGet(0)
	instrs.raw(binutil.OpI32Load, 0x02, 0x00) // align=2, offset=0
	instrs.raw(binutil.OpDrop)
	instrs.localGet(0)
	instrs.i32Const(7)
	instrs.raw(binutil.OpI32Store, 0x02, 0x00)
	instrs.localGet(0)
	instrs.call(createIdx)
	instrs.raw(binutil.OpDrop)
	instrs.raw(binutil.OpEnd)

	body := append([]byte{0x00}, instrs.bytes()...) // 0x00: no declared locals
	runIdx := m.AddFunc(runType, body)
	m.SetExport("run", binutil.KindFunc, runIdx)

	return m
}

func TestTransformAddsHookImports(t *testing.T) {
	m := buildInstrumentableModule()
	out, err := Transform(m.Encode())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	parsed, err := binutil.Parse(out)
	if err != nil {
		t.Fatalf("failed to re-parse instrumented module: %v", err)
	}

	if _, ok := parsed.FindImportFunc("wasabi", "read_hook"); !ok {
		t.Error("expected wasabi.read_hook import")
	}
	if _, ok := parsed.FindImportFunc("wasabi", "write_hook"); !ok {
		t.Error("expected wasabi.write_hook import")
	}

	createIdx, ok := parsed.FindImportFunc("wasm_threadlink", "thread_create")
	if !ok {
		t.Fatal("expected thread_create import to survive")
	}
	ft, ok := parsed.FuncType(createIdx)
	if !ok {
		t.Fatal("expected thread_create to resolve a type")
	}
	if len(ft.Params) != 3 {
		t.Errorf("expected thread_create to gain 2 trailing i32 params, got %d total params", len(ft.Params))
	}

	if _, ok := parsed.FindExport("run"); !ok {
		t.Error("expected run export to survive")
	}
}

func TestTransformRejectsAlreadyInstrumented(t *testing.T) {
	m := buildInstrumentableModule()
	once, err := Transform(m.Encode())
	if err != nil {
		t.Fatalf("first Transform failed: %v", err)
	}
	_, err = Transform(once)
	if err == nil {
		t.Fatal("expected second Transform to be rejected")
	}
}

// buildAtomicModule assembles a module whose "run" export executes a single
// atomic instruction (sub, under the 0xFE prefix) against address local 0.
// isCmpxchg controls whether a second value operand is pushed, giving a
// cmpxchg its (expected, replacement) pair where an rmw takes one operand.
func buildAtomicModule(sub byte, is64Op, isCmpxchg bool) *binutil.Module {
	m := &binutil.Module{}
	m.Imports = append(m.Imports, binutil.Import{
		Module: "env", Name: "memory", Kind: binutil.KindMemory,
		Limits: binutil.Limits{Min: 2, Max: 16, HasMax: true, Shared: true},
	})

	runType := m.AddType(binutil.FuncType{Params: []api.ValueType{api.ValueTypeI32}})

	instrs := newAsm()
	instrs.localGet(0) // addr
	if is64Op {
		instrs.raw(binutil.OpI64Const, 0x01)
		if isCmpxchg {
			instrs.raw(binutil.OpI64Const, 0x02)
		}
	} else {
		instrs.i32Const(1)
		if isCmpxchg {
			instrs.i32Const(2)
		}
	}
	align := byte(0x02)
	if is64Op {
		align = 0x03
	}
	instrs.raw(binutil.OpAtomicPrefix, sub, align, 0x00)
	instrs.raw(binutil.OpDrop)
	instrs.raw(binutil.OpEnd)

	body := append([]byte{0x00}, instrs.bytes()...)
	runIdx := m.AddFunc(runType, body)
	m.SetExport("run", binutil.KindFunc, runIdx)

	return m
}

// hookCall records one decoded read_hook/write_hook call site: the target
// import index, the (width, funcIdx, instrIdx) trailing i32.const arguments
// emitHookCall pushes ahead of it, and whether it sits inside the
// cmpxchg-only conditional emitAtomicCmpxchg wraps the write hook in.
type hookCall struct {
	target                   uint32
	width, funcIdx, instrIdx int32
	guarded                  bool
}

// decodeHookCalls walks an already-instrumented function body and returns
// every call instruction found, in encounter order, alongside the three
// i32.const values immediately preceding it and whether it is nested
// inside an unclosed if-block.
func decodeHookCalls(t *testing.T, body []byte) []hookCall {
	t.Helper()
	_, _, instrStart := parseLocalDecls(body)

	var consts []int32
	var calls []hookCall
	ifDepth := 0
	pos := instrStart
	for pos < len(body) {
		op := body[pos]
		end := instrLen(body, pos)
		switch op {
		case binutil.OpI32Const:
			v, _ := binutil.DecodeSLEB128(body[pos+1:])
			consts = append(consts, v)
		case binutil.OpIf:
			ifDepth++
		case binutil.OpEnd:
			if ifDepth > 0 {
				ifDepth--
			}
		case binutil.OpCall:
			idx, _ := binutil.DecodeULEB128(body[pos+1:])
			var w, f, i int32
			if n := len(consts); n >= 3 {
				w, f, i = consts[n-3], consts[n-2], consts[n-1]
			}
			calls = append(calls, hookCall{target: idx, width: w, funcIdx: f, instrIdx: i, guarded: ifDepth > 0})
		}
		pos = end
	}
	return calls
}

// instrumentAtomic instruments m and returns the read/write hook import
// indices plus the decoded calls inside its "run" export's body.
func instrumentAtomic(t *testing.T, m *binutil.Module) (readHook, writeHook uint32, calls []hookCall) {
	t.Helper()
	out, err := Transform(m.Encode())
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	parsed, err := binutil.Parse(out)
	if err != nil {
		t.Fatalf("failed to re-parse instrumented module: %v", err)
	}
	readHook, ok := parsed.FindImportFunc("wasabi", "read_hook")
	if !ok {
		t.Fatal("expected wasabi.read_hook import")
	}
	writeHook, ok = parsed.FindImportFunc("wasabi", "write_hook")
	if !ok {
		t.Fatal("expected wasabi.write_hook import")
	}
	exp, ok := parsed.FindExport("run")
	if !ok {
		t.Fatal("expected run export to survive")
	}
	body := parsed.Codes[int(exp.Idx)-parsed.NumImportedFuncs()].Body
	return readHook, writeHook, decodeHookCalls(t, body)
}

func TestTransformInstrumentsAtomicRmw(t *testing.T) {
	cases := []struct {
		name      string
		sub       byte
		is64      bool
		wantWidth int32
	}{
		{"i32.atomic.rmw.add", binutil.AtomicI32RmwAdd, false, 4},
		{"i64.atomic.rmw.xchg", binutil.AtomicI64RmwXchg, true, 8},
		{"i32.atomic.rmw8.add_u", binutil.AtomicI32Rmw8AddU, false, 1},
		{"i32.atomic.rmw16.or_u", binutil.AtomicI32Rmw16OrU, false, 2},
		{"i64.atomic.rmw8.and_u", binutil.AtomicI64Rmw8AndU, true, 1},
		{"i64.atomic.rmw16.sub_u", binutil.AtomicI64Rmw16SubU, true, 2},
		{"i64.atomic.rmw32.xor_u", binutil.AtomicI64Rmw32XorU, true, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := buildAtomicModule(c.sub, c.is64, false)
			readHook, writeHook, calls := instrumentAtomic(t, m)

			var reads, writes []hookCall
			for _, call := range calls {
				switch call.target {
				case readHook:
					reads = append(reads, call)
				case writeHook:
					writes = append(writes, call)
				}
			}

			if len(reads) != 1 {
				t.Fatalf("expected exactly 1 read_hook call, got %d", len(reads))
			}
			if len(writes) != 1 {
				t.Fatalf("expected exactly 1 write_hook call, got %d", len(writes))
			}
			if reads[0].guarded || writes[0].guarded {
				t.Error("rmw hook calls must not be conditional")
			}
			if reads[0].width != c.wantWidth {
				t.Errorf("read_hook width = %d, want %d", reads[0].width, c.wantWidth)
			}
			if writes[0].width != c.wantWidth {
				t.Errorf("write_hook width = %d, want %d", writes[0].width, c.wantWidth)
			}
		})
	}
}

func TestTransformInstrumentsAtomicCmpxchg(t *testing.T) {
	cases := []struct {
		name      string
		sub       byte
		is64      bool
		wantWidth int32
	}{
		{"i32.atomic.rmw.cmpxchg", binutil.AtomicI32RmwCmpxchg, false, 4},
		{"i64.atomic.rmw.cmpxchg", binutil.AtomicI64RmwCmpxchg, true, 8},
		{"i32.atomic.rmw8.cmpxchg_u", binutil.AtomicI32Rmw8CmpxchgU, false, 1},
		{"i64.atomic.rmw16.cmpxchg_u", binutil.AtomicI64Rmw16CmpxchgU, true, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := buildAtomicModule(c.sub, c.is64, true)
			readHook, writeHook, calls := instrumentAtomic(t, m)

			var reads, writes []hookCall
			for _, call := range calls {
				switch call.target {
				case readHook:
					reads = append(reads, call)
				case writeHook:
					writes = append(writes, call)
				}
			}

			if len(reads) != 1 {
				t.Fatalf("expected exactly 1 read_hook call, got %d", len(reads))
			}
			if reads[0].guarded {
				t.Error("cmpxchg always fires its read hook, unconditionally")
			}
			if reads[0].width != c.wantWidth {
				t.Errorf("read_hook width = %d, want %d", reads[0].width, c.wantWidth)
			}

			if len(writes) != 1 {
				t.Fatalf("expected exactly 1 write_hook call site, got %d", len(writes))
			}
			if !writes[0].guarded {
				t.Error("cmpxchg's write hook must only fire when the exchange took effect")
			}
			if writes[0].width != c.wantWidth {
				t.Errorf("write_hook width = %d, want %d", writes[0].width, c.wantWidth)
			}
		})
	}
}

// Package instrument implements Wasmgrind's Instrumenter transform: it
// walks every function body of an already-Threadify'd module, surrounds
// each memory access with calls into wasabi.read_hook/write_hook, and
// appends the call site's (function index, instruction index) to every
// wasm_threadlink ABI synchronization call, so a host-side tracer can
// observe both without the guest needing to cooperate.
//
// The per-instruction rewrite rules (what gets hooked, with what address
// and width, before or after the real access) are grounded on wasabi's own
// instrumentation passes; nothing in original_source/ implements this
// directly, since race-detection there works from a pre-recorded trace
// rather than live instrumentation. The operand-reordering-through-locals
// technique used to keep every hook call side-effect-free with respect to
// the original instruction's stack effect is this package's own, built to
// avoid needing any expression-tree analysis over binutil's flat byte
// model.
package instrument

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
)

// Transform rewrites wasm, a Threadify'd module, adding wasabi read/write
// hook calls around every memory access and two trailing (function index,
// instruction index) arguments to every call of a widened ABI import.
func Transform(wasm []byte) ([]byte, error) {
	m, err := binutil.Parse(wasm)
	if err != nil {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseInstrument, err.Error())
	}

	if _, ok := m.FindImportFunc("wasabi", "read_hook"); ok {
		return nil, wasmerr.AlreadyInstrumented()
	}

	abiTargets := widenABITypes(m)
	oldFuncImportCount := uint32(m.NumImportedFuncs())
	readHook, writeHook := addHookImports(m)
	shift := uint32(2)

	remap := func(idx uint32) uint32 {
		if idx >= oldFuncImportCount {
			return idx + shift
		}
		return idx
	}

	if m.HasStart {
		m.StartIdx = remap(m.StartIdx)
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == binutil.KindFunc {
			m.Exports[i].Idx = remap(m.Exports[i].Idx)
		}
	}
	remappedTargets := make(map[uint32]bool, len(abiTargets))
	for idx := range abiTargets {
		remappedTargets[remap(idx)] = true
	}

	newFuncImportCount := oldFuncImportCount + shift
	for i := range m.Codes {
		funcIdx := newFuncImportCount + uint32(i)
		ft, _ := m.FuncType(funcIdx)
		body, err := instrumentFunc(m.Codes[i].Body, funcIdx, uint32(len(ft.Params)), readHook, writeHook, oldFuncImportCount, shift, remappedTargets)
		if err != nil {
			return nil, err
		}
		m.Codes[i].Body = body
	}

	Logger().Sugar().Debugw("instrumented module",
		"functions", len(m.Codes), "read_hook", readHook, "write_hook", writeHook)

	return m.Encode(), nil
}

// instrumentFunc rewrites a single function body: count the scratch locals
// every instruction it contains will need, declare them, then emit the
// rewritten instruction stream.
func instrumentFunc(body []byte, funcIdx, paramCount, readHook, writeHook, oldFuncImportCount, shift uint32, abiTargets map[uint32]bool) ([]byte, error) {
	groups, declared, instrStart := parseLocalDecls(body)

	if containsSIMD(body, instrStart) {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseInstrument, "vector (SIMD) instructions are not supported")
	}

	// Params aren't present in the code section's own local-decl vector,
	// but occupy the lowest local indices, so scratch locals start after
	// both params and declared locals.
	i32n, i64n, f32n, f64n := countScratch(body, instrStart, abiTargets)
	bases := newLocalBases(paramCount+declared, i32n, i64n, f32n)

	cfg := &rewriteConfig{
		readHook:           readHook,
		writeHook:          writeHook,
		funcIdx:            funcIdx,
		funcImportShift:    shift,
		oldFuncImportCount: oldFuncImportCount,
		abiTargets:         abiTargets,
	}
	instrs := rewriteBody(body, instrStart, bases, cfg)

	out := encodeLocalDecls(groups, i32n, i64n, f32n, f64n)
	return append(out, instrs...), nil
}

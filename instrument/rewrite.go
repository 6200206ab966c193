package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// instrKind classifies a memory or ABI instruction this package rewrites.
type instrKind int

const (
	kindNone instrKind = iota
	kindPlainLoad
	kindPlainStore
	kindAtomicLoad
	kindAtomicStore
	kindAtomicRmw
	kindAtomicCmpxchg
	kindAtomicWait
	kindAtomicNotify
	kindMemFill
	kindMemCopy
	kindMemInit
	kindABICall
)

// classify identifies the instruction at pos, returning its kind and (for
// the misc/atomic-prefixed forms) the sub-opcode, and (for calls) the
// callee function index.
func classify(code []byte, pos int, abiTargets map[uint32]bool) (kind instrKind, sub byte, callee uint32) {
	op := code[pos]
	switch {
	case binutil.IsPlainLoad(op):
		return kindPlainLoad, 0, 0
	case binutil.IsPlainStore(op):
		return kindPlainStore, 0, 0
	case op == binutil.OpCall:
		idx, _ := binutil.DecodeULEB128(code[pos+1:])
		if abiTargets[idx] {
			return kindABICall, 0, idx
		}
		return kindNone, 0, idx
	case op == binutil.OpMiscPrefix:
		s := code[pos+1]
		switch s {
		case binutil.MiscMemoryFill:
			return kindMemFill, s, 0
		case binutil.MiscMemoryCopy:
			return kindMemCopy, s, 0
		case binutil.MiscMemoryInit:
			return kindMemInit, s, 0
		}
	case op == binutil.OpAtomicPrefix:
		s := code[pos+1]
		switch {
		case s == binutil.AtomicWait32 || s == binutil.AtomicWait64:
			return kindAtomicWait, s, 0
		case s == binutil.AtomicNotify:
			return kindAtomicNotify, s, 0
		case binutil.IsAtomicLoad(s):
			return kindAtomicLoad, s, 0
		case binutil.IsAtomicStore(s):
			return kindAtomicStore, s, 0
		case binutil.IsAtomicCmpxchg(s):
			return kindAtomicCmpxchg, s, 0
		case binutil.IsAtomicRmw(s):
			return kindAtomicRmw, s, 0
		}
	}
	return kindNone, 0, 0
}

// scratchTypesFor returns the ordered list of scratch-local value types an
// instruction of the given kind needs, in push (operand) order. Both the
// counting and emitting passes call this so the two stay in lockstep.
func scratchTypesFor(kind instrKind, op, sub byte) []byte {
	switch kind {
	case kindPlainLoad, kindAtomicLoad:
		return []byte{0x7f}
	case kindPlainStore:
		return []byte{0x7f, storeValueType(op)}
	case kindAtomicStore, kindAtomicRmw:
		vt := byte(0x7f)
		if is64(sub) {
			vt = 0x7e
		}
		return []byte{0x7f, vt}
	case kindAtomicCmpxchg:
		vt := byte(0x7f)
		if is64(sub) {
			vt = 0x7e
		}
		return []byte{0x7f, vt, vt, vt} // addr, expected, replacement, result
	case kindAtomicWait:
		vt := byte(0x7f)
		if sub == binutil.AtomicWait64 {
			vt = 0x7e
		}
		return []byte{0x7f, vt, 0x7e} // addr, expected, timeout(i64)
	case kindAtomicNotify:
		return []byte{0x7f, 0x7f}
	case kindMemFill, kindMemCopy, kindMemInit:
		return []byte{0x7f, 0x7f, 0x7f}
	default:
		return nil
	}
}

func tally(counts *[4]uint32, types []byte) {
	for _, t := range types {
		switch t {
		case 0x7f:
			counts[0]++
		case 0x7e:
			counts[1]++
		case 0x7d:
			counts[2]++
		case 0x7c:
			counts[3]++
		}
	}
}

// countScratch performs the dry-run pass: walk the function body once,
// tallying how many fresh locals of each type the emitting pass will need.
func countScratch(body []byte, instrStart int, abiTargets map[uint32]bool) (i32n, i64n, f32n, f64n uint32) {
	var counts [4]uint32
	pos := instrStart
	for pos < len(body) {
		kind, sub, _ := classify(body, pos, abiTargets)
		if kind != kindNone && kind != kindABICall {
			tally(&counts, scratchTypesFor(kind, body[pos], sub))
		}
		pos = instrLen(body, pos)
	}
	return counts[0], counts[1], counts[2], counts[3]
}

// rewriteConfig bundles the indices the emitting pass needs beyond what it
// discovers by walking the body.
type rewriteConfig struct {
	readHook, writeHook uint32
	funcIdx             uint32
	funcImportShift     uint32
	oldFuncImportCount  uint32
	abiTargets          map[uint32]bool
}

func (c *rewriteConfig) remapCallee(idx uint32) uint32 {
	if idx >= c.oldFuncImportCount {
		return idx + c.funcImportShift
	}
	return idx
}

// rewriteBody performs the emitting pass, producing the fully rewritten
// instruction stream (the locals declaration vector is prepended
// separately by the caller via encodeLocalDecls).
func rewriteBody(body []byte, instrStart int, bases localBases, cfg *rewriteConfig) []byte {
	alloc := &scratchAllocator{bases: bases}
	out := newAsm()
	pos := instrStart
	var instrIdx int32

	for pos < len(body) {
		kind, sub, callee := classify(body, pos, cfg.abiTargets)
		end := instrLen(body, pos)
		op := body[pos]
		instr := body[pos:end]

		switch kind {
		case kindABICall:
			emitABICall(out, cfg.remapCallee(callee), cfg.funcIdx, instrIdx)
		case kindPlainLoad:
			addr := emitLoad(out, alloc, instr)
			emitHookCall(out, cfg.readHook, addr, memargOffset(instr), plainAccessWidth(op), cfg.funcIdx, instrIdx)
		case kindAtomicLoad:
			addr := emitLoad(out, alloc, instr)
			emitHookCall(out, cfg.readHook, addr, memargOffsetAtomic(instr), atomicAccessWidth(sub), cfg.funcIdx, instrIdx)
		case kindPlainStore:
			addr := emitStore(out, alloc, instr, storeValueType(op))
			emitHookCall(out, cfg.writeHook, addr, memargOffset(instr), plainAccessWidth(op), cfg.funcIdx, instrIdx)
		case kindAtomicStore:
			vt := byte(0x7f)
			if is64(sub) {
				vt = 0x7e
			}
			addr := emitStore(out, alloc, instr, vt)
			emitHookCall(out, cfg.writeHook, addr, memargOffsetAtomic(instr), atomicAccessWidth(sub), cfg.funcIdx, instrIdx)
		case kindAtomicRmw:
			addr := emitAtomicRmw(out, alloc, instr, sub)
			off := memargOffsetAtomic(instr)
			w := atomicAccessWidth(sub)
			emitHookCall(out, cfg.readHook, addr, off, w, cfg.funcIdx, instrIdx)
			emitHookCall(out, cfg.writeHook, addr, off, w, cfg.funcIdx, instrIdx)
		case kindAtomicCmpxchg:
			emitAtomicCmpxchg(out, alloc, instr, sub, cfg, instrIdx)
		case kindAtomicWait:
			emitAtomicWait(out, alloc, instr, sub, cfg, instrIdx)
		case kindAtomicNotify:
			emitAtomicNotify(out, alloc, instr, cfg, instrIdx)
		case kindMemFill:
			emitMemFill(out, alloc, instr, cfg, instrIdx)
		case kindMemCopy:
			emitMemCopy(out, alloc, instr, cfg, instrIdx)
		case kindMemInit:
			emitMemInit(out, alloc, instr, cfg, instrIdx)
		default:
			if op == binutil.OpCall {
				out.raw(binutil.OpCall).raw(binutil.EncodeULEB128(cfg.remapCallee(callee))...)
			} else {
				out.raw(instr...)
			}
		}

		pos = end
		instrIdx++
	}
	return out.bytes()
}

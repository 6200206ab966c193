package threadify

import "github.com/AFKoffee/wasmgrind/binutil"

// asm accumulates raw instruction bytes for a synthesized function body. It
// mirrors the fluent, chainable style of a walrus-backed synthetic module
// builder, but emits WASM bytecode directly since wasmgrind edits existing
// guest modules rather than building host shims from scratch.
type asm struct {
	buf []byte
}

func newAsm() *asm {
	return &asm{}
}

func (a *asm) raw(b ...byte) *asm {
	a.buf = append(a.buf, b...)
	return a
}

func (a *asm) append(other *asm) *asm {
	a.buf = append(a.buf, other.buf...)
	return a
}

func (a *asm) i32Const(v int32) *asm {
	a.buf = append(a.buf, binutil.OpI32Const)
	a.buf = append(a.buf, binutil.EncodeSLEB128(v)...)
	return a
}

func (a *asm) i64Const(v int64) *asm {
	a.buf = append(a.buf, binutil.OpI64Const)
	a.buf = append(a.buf, binutil.EncodeSLEB128(v)...)
	return a
}

func (a *asm) localGet(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpLocalGet)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) localSet(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpLocalSet)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) localTee(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpLocalTee)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) globalGet(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpGlobalGet)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
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

func (a *asm) drop() *asm {
	return a.raw(binutil.OpDrop)
}

func (a *asm) selectOp() *asm {
	return a.raw(binutil.OpSelect)
}

func (a *asm) i32Add() *asm {
	return a.raw(binutil.OpI32Add)
}

func (a *asm) br(depth uint32) *asm {
	a.buf = append(a.buf, binutil.OpBr)
	a.buf = append(a.buf, binutil.EncodeULEB128(depth)...)
	return a
}

// ifElse emits `if (void) then.. [else else..] end`. Either branch may be
// nil for an empty sequence.
func (a *asm) ifElse(then, els *asm) *asm {
	a.buf = append(a.buf, binutil.OpIf, binutil.BlockTypeVoid)
	if then != nil {
		a.buf = append(a.buf, then.buf...)
	}
	if els != nil {
		a.buf = append(a.buf, binutil.OpElse)
		a.buf = append(a.buf, els.buf...)
	}
	a.buf = append(a.buf, binutil.OpEnd)
	return a
}

// loop emits `loop (void) body.. end`.
func (a *asm) loop(body *asm) *asm {
	a.buf = append(a.buf, binutil.OpLoop, binutil.BlockTypeVoid)
	if body != nil {
		a.buf = append(a.buf, body.buf...)
	}
	a.buf = append(a.buf, binutil.OpEnd)
	return a
}

func (a *asm) atomicMemArg(sub byte, alignLog2, offset uint32) *asm {
	a.buf = append(a.buf, binutil.OpAtomicPrefix, sub)
	a.buf = append(a.buf, binutil.EncodeULEB128(alignLog2)...)
	a.buf = append(a.buf, binutil.EncodeULEB128(offset)...)
	return a
}

func (a *asm) atomicRmwAdd32() *asm {
	return a.atomicMemArg(binutil.AtomicI32RmwAdd, 2, 0)
}

func (a *asm) atomicCmpxchg32() *asm {
	return a.atomicMemArg(binutil.AtomicI32RmwCmpxchg, 2, 0)
}

func (a *asm) atomicStore32() *asm {
	return a.atomicMemArg(binutil.AtomicI32Store, 2, 0)
}

func (a *asm) atomicWait32() *asm {
	return a.atomicMemArg(binutil.AtomicWait32, 2, 0)
}

func (a *asm) atomicNotify32() *asm {
	return a.atomicMemArg(binutil.AtomicNotify, 2, 0)
}

func (a *asm) end() *asm {
	return a.raw(binutil.OpEnd)
}

func (a *asm) bytes() []byte {
	return a.buf
}

// localDeclI32 encodes a function body's local-variable declaration vector for
// a single run of i32 locals, per the code-section format.
func localDeclI32(count uint32) []byte {
	if count == 0 {
		return binutil.EncodeULEB128(0)
	}
	out := binutil.EncodeULEB128(1)
	out = append(out, binutil.EncodeULEB128(count)...)
	out = append(out, 0x7f)
	return out
}

func i32ConstExpr(v int32) []byte {
	out := []byte{binutil.OpI32Const}
	out = append(out, binutil.EncodeSLEB128(v)...)
	return append(out, binutil.OpEnd)
}

// decodeI32Const extracts the literal from an `i32.const V end` init
// expression, as produced by the linker for __heap_base, __tls_size and
// __tls_align.
func decodeI32Const(expr []byte) (int32, bool) {
	if len(expr) < 2 || expr[0] != binutil.OpI32Const {
		return 0, false
	}
	v, _ := binutil.DecodeSLEB128(expr[1:])
	return v, true
}

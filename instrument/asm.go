package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// asm accumulates raw instruction bytes for the hook calls and operand
// shuffling this package injects around memory instructions. Mirrors
// threadify's builder of the same name; kept as a separate, smaller copy
// here since the two packages' instruction vocabularies barely overlap.
type asm struct {
	buf []byte
}

func newAsm() *asm { return &asm{} }

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

func (a *asm) call(idx uint32) *asm {
	a.buf = append(a.buf, binutil.OpCall)
	a.buf = append(a.buf, binutil.EncodeULEB128(idx)...)
	return a
}

func (a *asm) i32Add() *asm { return a.raw(binutil.OpI32Add) }
func (a *asm) i32Eq() *asm  { return a.raw(0x46) }
func (a *asm) i64Eq() *asm  { return a.raw(0x51) }

// ifVoid emits `if (void) then.. end`.
func (a *asm) ifVoid(then *asm) *asm {
	a.buf = append(a.buf, binutil.OpIf, binutil.BlockTypeVoid)
	if then != nil {
		a.buf = append(a.buf, then.buf...)
	}
	a.buf = append(a.buf, binutil.OpEnd)
	return a
}

func (a *asm) bytes() []byte { return a.buf }

package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// memargOffset decodes the static offset immediate of a plain load/store
// instruction: opcode, align (ULEB), offset (ULEB).
func memargOffset(instr []byte) uint32 {
	pos := 1
	_, n := binutil.DecodeULEB128(instr[pos:])
	pos += n
	off, _ := binutil.DecodeULEB128(instr[pos:])
	return off
}

// memargOffsetAtomic decodes the static offset immediate of an
// atomic-prefixed instruction: 0xFE, sub-opcode (ULEB), align (ULEB),
// offset (ULEB). atomic.wait/notify share this layout.
func memargOffsetAtomic(instr []byte) uint32 {
	pos := 1
	_, n := binutil.DecodeULEB128(instr[pos:])
	pos += n
	_, n = binutil.DecodeULEB128(instr[pos:])
	pos += n
	off, _ := binutil.DecodeULEB128(instr[pos:])
	return off
}

// emitHookCall emits a call to a read/write hook for a fixed-width memory
// access at addrLocal+offset.
func emitHookCall(out *asm, hook uint32, addrLocal, offset, width, funcIdx uint32, instrIdx int32) {
	out.localGet(addrLocal)
	if offset != 0 {
		out.i32Const(int32(offset)).i32Add()
	}
	out.i32Const(int32(width))
	out.i32Const(int32(funcIdx))
	out.i32Const(instrIdx)
	out.call(hook)
}

// emitHookCallDynamic emits a call to a read/write hook whose access length
// is only known at runtime (the bulk-memory instructions).
func emitHookCallDynamic(out *asm, hook uint32, addrLocal, nLocal, funcIdx uint32, instrIdx int32) {
	out.localGet(addrLocal)
	out.localGet(nLocal)
	out.i32Const(int32(funcIdx))
	out.i32Const(instrIdx)
	out.call(hook)
}

func emitABICall(out *asm, calleeIdx, funcIdx uint32, instrIdx int32) {
	out.i32Const(int32(funcIdx))
	out.i32Const(instrIdx)
	out.call(calleeIdx)
}

// emitLoad saves the address operand (already on top of the stack) into a
// fresh local via tee, then emits the original load unchanged — loads have
// a single operand so no reordering is needed.
func emitLoad(out *asm, alloc *scratchAllocator, instr []byte) uint32 {
	addr := alloc.alloc(0x7f)
	out.localTee(addr)
	out.raw(instr...)
	return addr
}

// emitStore pops the value then the address operand into fresh locals and
// pushes them back in original order before the real store, so the hook
// call afterwards can still read the address.
func emitStore(out *asm, alloc *scratchAllocator, instr []byte, valType byte) uint32 {
	addr := alloc.alloc(0x7f)
	val := alloc.alloc(valType)
	out.localSet(val)
	out.localSet(addr)
	out.localGet(addr)
	out.localGet(val)
	out.raw(instr...)
	return addr
}

// emitAtomicRmw mirrors emitStore's reordering — address then operand — but
// leaves the rmw's result value on the stack for whatever follows.
func emitAtomicRmw(out *asm, alloc *scratchAllocator, instr []byte, sub byte) uint32 {
	vt := byte(0x7f)
	if is64(sub) {
		vt = 0x7e
	}
	addr := alloc.alloc(0x7f)
	val := alloc.alloc(vt)
	out.localSet(val)
	out.localSet(addr)
	out.localGet(addr)
	out.localGet(val)
	out.raw(instr...)
	return addr
}

// emitAtomicCmpxchg reorders the three operands through locals, executes
// the real cmpxchg, always fires the read hook, and fires the write hook
// only when the exchange actually took effect (result == expected).
func emitAtomicCmpxchg(out *asm, alloc *scratchAllocator, instr []byte, sub byte, cfg *rewriteConfig, instrIdx int32) {
	vt := byte(0x7f)
	if is64(sub) {
		vt = 0x7e
	}
	addr := alloc.alloc(0x7f)
	expected := alloc.alloc(vt)
	replacement := alloc.alloc(vt)
	result := alloc.alloc(vt)

	out.localSet(replacement)
	out.localSet(expected)
	out.localSet(addr)
	out.localGet(addr)
	out.localGet(expected)
	out.localGet(replacement)
	out.raw(instr...)
	out.localTee(result)

	off := memargOffsetAtomic(instr)
	w := atomicAccessWidth(sub)
	emitHookCall(out, cfg.readHook, addr, off, w, cfg.funcIdx, instrIdx)

	out.localGet(result)
	out.localGet(expected)
	if is64(sub) {
		out.i64Eq()
	} else {
		out.i32Eq()
	}
	then := newAsm()
	emitHookCall(then, cfg.writeHook, addr, off, w, cfg.funcIdx, instrIdx)
	out.ifVoid(then)
}

// emitAtomicWait fires the read hook before the wait, since the wait can
// block indefinitely and a hook call after it might never run.
func emitAtomicWait(out *asm, alloc *scratchAllocator, instr []byte, sub byte, cfg *rewriteConfig, instrIdx int32) {
	vt := byte(0x7f)
	if sub == binutil.AtomicWait64 {
		vt = 0x7e
	}
	addr := alloc.alloc(0x7f)
	expected := alloc.alloc(vt)
	timeout := alloc.alloc(0x7e)

	out.localSet(timeout)
	out.localSet(expected)
	out.localSet(addr)

	emitHookCall(out, cfg.readHook, addr, memargOffsetAtomic(instr), atomicAccessWidth(sub), cfg.funcIdx, instrIdx)

	out.localGet(addr)
	out.localGet(expected)
	out.localGet(timeout)
	out.raw(instr...)
}

func emitAtomicNotify(out *asm, alloc *scratchAllocator, instr []byte, cfg *rewriteConfig, instrIdx int32) {
	addr := alloc.alloc(0x7f)
	count := alloc.alloc(0x7f)

	out.localSet(count)
	out.localSet(addr)
	out.localGet(addr)
	out.localGet(count)
	out.raw(instr...)

	emitHookCall(out, cfg.readHook, addr, memargOffsetAtomic(instr), atomicAccessWidth(binutil.AtomicNotify), cfg.funcIdx, instrIdx)
}

func emitMemFill(out *asm, alloc *scratchAllocator, instr []byte, cfg *rewriteConfig, instrIdx int32) {
	dst := alloc.alloc(0x7f)
	val := alloc.alloc(0x7f)
	n := alloc.alloc(0x7f)

	out.localSet(n)
	out.localSet(val)
	out.localSet(dst)
	out.localGet(dst)
	out.localGet(val)
	out.localGet(n)
	out.raw(instr...)

	emitHookCallDynamic(out, cfg.writeHook, dst, n, cfg.funcIdx, instrIdx)
}

func emitMemCopy(out *asm, alloc *scratchAllocator, instr []byte, cfg *rewriteConfig, instrIdx int32) {
	dst := alloc.alloc(0x7f)
	src := alloc.alloc(0x7f)
	n := alloc.alloc(0x7f)

	out.localSet(n)
	out.localSet(src)
	out.localSet(dst)
	out.localGet(dst)
	out.localGet(src)
	out.localGet(n)
	out.raw(instr...)

	emitHookCallDynamic(out, cfg.readHook, src, n, cfg.funcIdx, instrIdx)
	emitHookCallDynamic(out, cfg.writeHook, dst, n, cfg.funcIdx, instrIdx)
}

func emitMemInit(out *asm, alloc *scratchAllocator, instr []byte, cfg *rewriteConfig, instrIdx int32) {
	dst := alloc.alloc(0x7f)
	src := alloc.alloc(0x7f)
	n := alloc.alloc(0x7f)

	out.localSet(n)
	out.localSet(src)
	out.localSet(dst)
	out.localGet(dst)
	out.localGet(src)
	out.localGet(n)
	out.raw(instr...)

	emitHookCallDynamic(out, cfg.writeHook, dst, n, cfg.funcIdx, instrIdx)
}

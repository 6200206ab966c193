package threadify

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/tetratelabs/wazero/api"
)

// auxPage describes the one extra memory page Threadify reserves for the
// per-process thread counter, the temp-stack spinlock word, and the scratch
// stack non-leader threads bootstrap on before they have a private stack.
type auxPage struct {
	threadCounterAddr int32
	tempLockAddr      int32
	tempStackTop      int32
}

func alignUp(v, align uint32) uint32   { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uint32) uint32 { return v &^ (align - 1) }

// reserveAuxPage bumps __heap_base by one page and grows the memory's
// declared minimum to match, mirroring allocate_static_data. The thread
// counter lives at the (aligned) base of the new page; the temp-stack lock
// word sits immediately after it; the temp stack itself occupies the
// remainder of the page, growing down from the old __heap_base plus one
// page (rounded down to StaticDataAlign).
func reserveAuxPage(m *binutil.Module, heapBaseGlobal uint32) (*auxPage, error) {
	local := int(heapBaseGlobal) - m.NumImportedGlobals()
	if local < 0 || local >= len(m.Globals) {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseTransform, "__heap_base is not a local global")
	}
	g := &m.Globals[local]
	if g.Mutable || g.ValType != api.ValueTypeI32 {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseTransform, "__heap_base has unexpected type")
	}
	oldVal, ok := decodeI32Const(g.InitExpr)
	if !ok {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseTransform, "__heap_base has a non-constant initializer")
	}

	base := uint32(oldVal)
	addr := alignUp(base, StaticDataAlign)
	newVal := int32(base + TempStackPages*PageSize)
	g.InitExpr = i32ConstExpr(newVal)

	lim, ok := m.MemoryLimits()
	if !ok {
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseTransform, "memory")
	}
	m.GrowMemoryMin(lim.Min + TempStackPages)

	tempTop := alignDown(base+TempStackPages*PageSize, StaticDataAlign)

	return &auxPage{
		threadCounterAddr: int32(addr),
		tempLockAddr:       int32(addr) + 4,
		tempStackTop:        int32(tempTop),
	}, nil
}

// withTempStack wraps block with the bootstrap mutex every thread takes
// before it has a private stack: a loop around an atomic compare-exchange
// spin-lock, backed by atomic.wait/notify rather than a busy spin, matching
// with_temp_stack in the original transform.
func withTempStack(aux *auxPage, stackPointerGlobal uint32, block *asm) *asm {
	acquireRetry := newAsm().
		i32Const(aux.tempLockAddr).i32Const(1).i64Const(-1).atomicWait32().drop().
		br(1)

	acquireCheck := newAsm().
		i32Const(aux.tempLockAddr).i32Const(0).i32Const(1).atomicCmpxchg32().
		ifElse(acquireRetry, nil)

	out := newAsm().
		i32Const(aux.tempStackTop).globalSet(stackPointerGlobal).
		loop(acquireCheck)

	if block != nil {
		out.append(block)
	}

	out.i32Const(aux.tempLockAddr).i32Const(0).atomicStore32().
		i32Const(aux.tempLockAddr).i32Const(1).atomicNotify32().drop()

	return out
}

// injectStart builds and installs the new start function. An atomic
// fetch-add on the shared counter tells leader from follower: the leader
// (old value 0) keeps the linker-provided stack and TLS block and does
// nothing further; every follower bootstraps a temp stack long enough to
// malloc a private one, then mallocs and initializes its own TLS block.
// Mirrors inject_start.
func injectStart(m *binutil.Module, sym *symbols, aux *auxPage, stackSizeGlobal, stackAllocGlobal uint32, prevStart uint32, hadPrevStart bool) error {
	body := newAsm()
	if hadPrevStart {
		body.call(prevStart)
	}

	body.i32Const(aux.threadCounterAddr).i32Const(1).atomicRmwAdd32()

	followerBlock := newAsm().
		globalGet(stackSizeGlobal).i32Const(16).call(sym.mallocIdx).localTee(0)
	follower := withTempStack(aux, sym.stackPointerGlobal, followerBlock)
	follower.globalSet(stackAllocGlobal)
	follower.globalGet(stackAllocGlobal).globalGet(stackSizeGlobal).i32Add().globalSet(sym.stackPointerGlobal)
	follower.i32Const(int32(sym.tlsSize)).i32Const(int32(sym.tlsAlign)).call(sym.mallocIdx).
		globalSet(sym.tlsBaseGlobal).
		globalGet(sym.tlsBaseGlobal).call(sym.tlsInitIdx)

	body.ifElse(follower, nil)
	body.end()

	localDecl := localDeclI32(1) // local 0: scratch for the bootstrap malloc result
	fullBody := append(localDecl, body.bytes()...)

	voidType := m.AddType(binutil.FuncType{})
	startIdx := m.AddFunc(voidType, fullBody)
	m.SetStart(startIdx)
	return nil
}

// tlsBaseDestroyedSentinel is the value written back to __tls_base after a
// thread frees its own TLS block: 0xFFFFFFFF, chosen over the original
// transform's i32::MIN (see DESIGN.md).
const tlsBaseDestroyedSentinel = -1 // bit pattern 0xFFFFFFFF as i32

// injectDestroy builds and exports __wasmgrind_thread_destroy(tls_base,
// stack_alloc, stack_size), following the "0 = absent, read from globals
// instead" convention: the host passes explicit addresses when tearing
// down someone else's thread state, or zero to mean "free my own, found
// via the globals Threadify installed." Mirrors inject_destroy.
func injectDestroy(m *binutil.Module, sym *symbols, aux *auxPage, stackSizeGlobal, stackAllocGlobal uint32, defaultStackSize uint32) error {
	destroyType := m.AddType(binutil.FuncType{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	})

	body := newAsm()

	// tls_base param is local 0.
	freeOwnTls := newAsm().localGet(0).i32Const(int32(sym.tlsSize)).i32Const(int32(sym.tlsAlign)).call(sym.freeIdx)
	freeGlobalTls := newAsm().
		globalGet(sym.tlsBaseGlobal).i32Const(int32(sym.tlsSize)).i32Const(int32(sym.tlsAlign)).call(sym.freeIdx).
		i32Const(tlsBaseDestroyedSentinel).globalSet(sym.tlsBaseGlobal)
	body.localGet(0).ifElse(freeOwnTls, freeGlobalTls)

	// stack_alloc is local 1, stack_size is local 2.
	freeOwnStack := newAsm().
		localGet(1).
		localGet(2).i32Const(int32(defaultStackSize)).localGet(2).selectOp().
		i32Const(16).call(sym.freeIdx)

	freeGlobalStackBlock := newAsm().
		globalGet(stackAllocGlobal).globalGet(stackSizeGlobal).i32Const(16).call(sym.freeIdx)
	freeGlobalStack := withTempStack(aux, sym.stackPointerGlobal, freeGlobalStackBlock)
	freeGlobalStack.i32Const(0).globalSet(stackAllocGlobal)
	// Reset __stack_pointer once a thread's own stack is gone, which the
	// original transform omits.
	freeGlobalStack.i32Const(0).globalSet(sym.stackPointerGlobal)

	body.localGet(1).ifElse(freeOwnStack, freeGlobalStack)
	body.end()

	fullBody := append(localDeclI32(0), body.bytes()...)
	idx := m.AddFunc(destroyType, fullBody)
	m.SetExport("__wasmgrind_thread_destroy", binutil.KindFunc, idx)
	return nil
}

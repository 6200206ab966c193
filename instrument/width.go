package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// plainAccessWidth returns the number of bytes a non-atomic load/store
// instruction touches in memory.
func plainAccessWidth(op byte) uint32 {
	switch op {
	case binutil.OpI32Load, binutil.OpF32Load, binutil.OpI32Store, binutil.OpF32Store,
		binutil.OpI64Load32S, binutil.OpI64Load32U, binutil.OpI64Store32:
		return 4
	case binutil.OpI64Load, binutil.OpF64Load, binutil.OpI64Store, binutil.OpF64Store:
		return 8
	case binutil.OpI32Load8S, binutil.OpI32Load8U, binutil.OpI32Store8,
		binutil.OpI64Load8S, binutil.OpI64Load8U, binutil.OpI64Store8:
		return 1
	case binutil.OpI32Load16S, binutil.OpI32Load16U, binutil.OpI32Store16,
		binutil.OpI64Load16S, binutil.OpI64Load16U, binutil.OpI64Store16:
		return 2
	default:
		return 4
	}
}

// atomicAccessWidth returns the access width in bytes of an atomic
// sub-opcode: 1/2 for the sub-word (rmw8/rmw16) forms regardless of
// whether they operate on i32 or i64, 4 for the i32/rmw32 forms, 8 for the
// full-width i64 forms.
func atomicAccessWidth(sub byte) uint32 {
	switch sub {
	case binutil.AtomicI32Load8U, binutil.AtomicI32Store8,
		binutil.AtomicI64Load8U, binutil.AtomicI64Store8,
		binutil.AtomicI32Rmw8AddU, binutil.AtomicI64Rmw8AddU,
		binutil.AtomicI32Rmw8SubU, binutil.AtomicI64Rmw8SubU,
		binutil.AtomicI32Rmw8AndU, binutil.AtomicI64Rmw8AndU,
		binutil.AtomicI32Rmw8OrU, binutil.AtomicI64Rmw8OrU,
		binutil.AtomicI32Rmw8XorU, binutil.AtomicI64Rmw8XorU,
		binutil.AtomicI32Rmw8XchgU, binutil.AtomicI64Rmw8XchgU,
		binutil.AtomicI32Rmw8CmpxchgU, binutil.AtomicI64Rmw8CmpxchgU:
		return 1
	case binutil.AtomicI32Load16U, binutil.AtomicI32Store16,
		binutil.AtomicI64Load16U, binutil.AtomicI64Store16,
		binutil.AtomicI32Rmw16AddU, binutil.AtomicI64Rmw16AddU,
		binutil.AtomicI32Rmw16SubU, binutil.AtomicI64Rmw16SubU,
		binutil.AtomicI32Rmw16AndU, binutil.AtomicI64Rmw16AndU,
		binutil.AtomicI32Rmw16OrU, binutil.AtomicI64Rmw16OrU,
		binutil.AtomicI32Rmw16XorU, binutil.AtomicI64Rmw16XorU,
		binutil.AtomicI32Rmw16XchgU, binutil.AtomicI64Rmw16XchgU,
		binutil.AtomicI32Rmw16CmpxchgU, binutil.AtomicI64Rmw16CmpxchgU:
		return 2
	case binutil.AtomicI64Load32U, binutil.AtomicI64Store32,
		binutil.AtomicI64Rmw32AddU, binutil.AtomicI64Rmw32SubU,
		binutil.AtomicI64Rmw32AndU, binutil.AtomicI64Rmw32OrU,
		binutil.AtomicI64Rmw32XorU, binutil.AtomicI64Rmw32XchgU,
		binutil.AtomicI64Rmw32CmpxchgU:
		return 4
	case binutil.AtomicI64Load, binutil.AtomicI64Store,
		binutil.AtomicI64RmwAdd, binutil.AtomicI64RmwSub, binutil.AtomicI64RmwAnd,
		binutil.AtomicI64RmwOr, binutil.AtomicI64RmwXor, binutil.AtomicI64RmwXchg,
		binutil.AtomicI64RmwCmpxchg, binutil.AtomicWait64:
		return 8
	default:
		// i32.atomic.load/store/rmw*/cmpxchg and memory.atomic.notify/wait32
		// all touch 4 bytes.
		return 4
	}
}

// is64 reports whether an atomic rmw/cmpxchg sub-opcode's operand and
// result are i64 (as opposed to i32) — the sub-word i64.atomic.rmw8/16/32.*
// forms still push/pop full i64 values despite touching fewer bytes in
// memory, so this only depends on the opcode's i32/i64 family, never on
// atomicAccessWidth. Matters for choosing scratch-local types and the
// cmpxchg comparison opcode.
func is64(sub byte) bool {
	switch sub {
	case binutil.AtomicI64Load, binutil.AtomicI64Load8U, binutil.AtomicI64Load16U, binutil.AtomicI64Load32U,
		binutil.AtomicI64Store, binutil.AtomicI64Store8, binutil.AtomicI64Store16, binutil.AtomicI64Store32,
		binutil.AtomicI64RmwAdd, binutil.AtomicI64Rmw8AddU, binutil.AtomicI64Rmw16AddU, binutil.AtomicI64Rmw32AddU,
		binutil.AtomicI64RmwSub, binutil.AtomicI64Rmw8SubU, binutil.AtomicI64Rmw16SubU, binutil.AtomicI64Rmw32SubU,
		binutil.AtomicI64RmwAnd, binutil.AtomicI64Rmw8AndU, binutil.AtomicI64Rmw16AndU, binutil.AtomicI64Rmw32AndU,
		binutil.AtomicI64RmwOr, binutil.AtomicI64Rmw8OrU, binutil.AtomicI64Rmw16OrU, binutil.AtomicI64Rmw32OrU,
		binutil.AtomicI64RmwXor, binutil.AtomicI64Rmw8XorU, binutil.AtomicI64Rmw16XorU, binutil.AtomicI64Rmw32XorU,
		binutil.AtomicI64RmwXchg, binutil.AtomicI64Rmw8XchgU, binutil.AtomicI64Rmw16XchgU, binutil.AtomicI64Rmw32XchgU,
		binutil.AtomicI64RmwCmpxchg, binutil.AtomicI64Rmw8CmpxchgU, binutil.AtomicI64Rmw16CmpxchgU, binutil.AtomicI64Rmw32CmpxchgU,
		binutil.AtomicWait64:
		return true
	default:
		return false
	}
}

func storeValueType(op byte) byte {
	switch op {
	case binutil.OpI64Store, binutil.OpI64Store8, binutil.OpI64Store16, binutil.OpI64Store32:
		return 0x7e
	case binutil.OpF32Store:
		return 0x7d
	case binutil.OpF64Store:
		return 0x7c
	default:
		return 0x7f
	}
}

package binutil

// Control and numeric opcodes used when synthesising or rewriting function
// bodies. Only the subset needed by Threadify and the Instrumenter is
// named; everything else is walked generically by the instrument
// package's instrLen.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
	OpSelect       byte = 0x1B
	OpSelectT      byte = 0x1C
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Add       byte = 0x6A

	BlockTypeVoid byte = 0x40

	OpMiscPrefix   byte = 0xFC
	OpSimdPrefix   byte = 0xFD
	OpAtomicPrefix byte = 0xFE
)

// Plain (non-atomic) memory instruction opcodes.
const (
	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpF32Load    byte = 0x2A
	OpF64Load    byte = 0x2B
	OpI32Load8S  byte = 0x2C
	OpI32Load8U  byte = 0x2D
	OpI32Load16S byte = 0x2E
	OpI32Load16U byte = 0x2F
	OpI64Load8S  byte = 0x30
	OpI64Load8U  byte = 0x31
	OpI64Load16S byte = 0x32
	OpI64Load16U byte = 0x33
	OpI64Load32S byte = 0x34
	OpI64Load32U byte = 0x35
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI32Store8  byte = 0x3A
	OpI32Store16 byte = 0x3B
	OpI64Store8  byte = 0x3C
	OpI64Store16 byte = 0x3D
	OpI64Store32 byte = 0x3E
)

// Misc (0xFC-prefixed) bulk-memory sub-opcodes.
const (
	MiscMemoryInit byte = 0x08
	MiscMemoryCopy byte = 0x0A
	MiscMemoryFill byte = 0x0B
)

// Atomic (0xFE-prefixed) sub-opcodes, per the threads proposal.
const (
	AtomicNotify byte = 0x00
	AtomicWait32 byte = 0x01
	AtomicWait64 byte = 0x02

	AtomicI32Load    byte = 0x10
	AtomicI64Load    byte = 0x11
	AtomicI32Load8U  byte = 0x12
	AtomicI32Load16U byte = 0x13
	AtomicI64Load8U  byte = 0x14
	AtomicI64Load16U byte = 0x15
	AtomicI64Load32U byte = 0x16
	AtomicI32Store   byte = 0x17
	AtomicI64Store   byte = 0x18
	AtomicI32Store8  byte = 0x19
	AtomicI32Store16 byte = 0x1A
	AtomicI64Store8  byte = 0x1B
	AtomicI64Store16 byte = 0x1C
	AtomicI64Store32 byte = 0x1D

	AtomicI32RmwAdd        byte = 0x1E
	AtomicI64RmwAdd        byte = 0x1F
	AtomicI32Rmw8AddU      byte = 0x20
	AtomicI32Rmw16AddU     byte = 0x21
	AtomicI64Rmw8AddU      byte = 0x22
	AtomicI64Rmw16AddU     byte = 0x23
	AtomicI64Rmw32AddU     byte = 0x24
	AtomicI32RmwSub        byte = 0x25
	AtomicI64RmwSub        byte = 0x26
	AtomicI32Rmw8SubU      byte = 0x27
	AtomicI32Rmw16SubU     byte = 0x28
	AtomicI64Rmw8SubU      byte = 0x29
	AtomicI64Rmw16SubU     byte = 0x2A
	AtomicI64Rmw32SubU     byte = 0x2B
	AtomicI32RmwAnd        byte = 0x2C
	AtomicI64RmwAnd        byte = 0x2D
	AtomicI32Rmw8AndU      byte = 0x2E
	AtomicI32Rmw16AndU     byte = 0x2F
	AtomicI64Rmw8AndU      byte = 0x30
	AtomicI64Rmw16AndU     byte = 0x31
	AtomicI64Rmw32AndU     byte = 0x32
	AtomicI32RmwOr         byte = 0x33
	AtomicI64RmwOr         byte = 0x34
	AtomicI32Rmw8OrU       byte = 0x35
	AtomicI32Rmw16OrU      byte = 0x36
	AtomicI64Rmw8OrU       byte = 0x37
	AtomicI64Rmw16OrU      byte = 0x38
	AtomicI64Rmw32OrU      byte = 0x39
	AtomicI32RmwXor        byte = 0x3A
	AtomicI64RmwXor        byte = 0x3B
	AtomicI32Rmw8XorU      byte = 0x3C
	AtomicI32Rmw16XorU     byte = 0x3D
	AtomicI64Rmw8XorU      byte = 0x3E
	AtomicI64Rmw16XorU     byte = 0x3F
	AtomicI64Rmw32XorU     byte = 0x40
	AtomicI32RmwXchg       byte = 0x41
	AtomicI64RmwXchg       byte = 0x42
	AtomicI32Rmw8XchgU     byte = 0x43
	AtomicI32Rmw16XchgU    byte = 0x44
	AtomicI64Rmw8XchgU     byte = 0x45
	AtomicI64Rmw16XchgU    byte = 0x46
	AtomicI64Rmw32XchgU    byte = 0x47
	AtomicI32RmwCmpxchg    byte = 0x48
	AtomicI64RmwCmpxchg    byte = 0x49
	AtomicI32Rmw8CmpxchgU  byte = 0x4A
	AtomicI32Rmw16CmpxchgU byte = 0x4B
	AtomicI64Rmw8CmpxchgU  byte = 0x4C
	AtomicI64Rmw16CmpxchgU byte = 0x4D
	AtomicI64Rmw32CmpxchgU byte = 0x4E
)

// IsAtomicRmw reports whether sub is one of the (non-cmpxchg) read-modify-
// write atomic sub-opcodes, full-width or sub-word, which all share the
// "read then write" hook shape per the instrumentation rules.
func IsAtomicRmw(sub byte) bool {
	switch sub {
	case AtomicI32RmwAdd, AtomicI64RmwAdd,
		AtomicI32Rmw8AddU, AtomicI32Rmw16AddU,
		AtomicI64Rmw8AddU, AtomicI64Rmw16AddU, AtomicI64Rmw32AddU,
		AtomicI32RmwSub, AtomicI64RmwSub,
		AtomicI32Rmw8SubU, AtomicI32Rmw16SubU,
		AtomicI64Rmw8SubU, AtomicI64Rmw16SubU, AtomicI64Rmw32SubU,
		AtomicI32RmwAnd, AtomicI64RmwAnd,
		AtomicI32Rmw8AndU, AtomicI32Rmw16AndU,
		AtomicI64Rmw8AndU, AtomicI64Rmw16AndU, AtomicI64Rmw32AndU,
		AtomicI32RmwOr, AtomicI64RmwOr,
		AtomicI32Rmw8OrU, AtomicI32Rmw16OrU,
		AtomicI64Rmw8OrU, AtomicI64Rmw16OrU, AtomicI64Rmw32OrU,
		AtomicI32RmwXor, AtomicI64RmwXor,
		AtomicI32Rmw8XorU, AtomicI32Rmw16XorU,
		AtomicI64Rmw8XorU, AtomicI64Rmw16XorU, AtomicI64Rmw32XorU,
		AtomicI32RmwXchg, AtomicI64RmwXchg,
		AtomicI32Rmw8XchgU, AtomicI32Rmw16XchgU,
		AtomicI64Rmw8XchgU, AtomicI64Rmw16XchgU, AtomicI64Rmw32XchgU:
		return true
	default:
		return false
	}
}

// IsAtomicCmpxchg reports whether sub is an atomic compare-exchange
// sub-opcode, full-width or sub-word.
func IsAtomicCmpxchg(sub byte) bool {
	switch sub {
	case AtomicI32RmwCmpxchg, AtomicI64RmwCmpxchg,
		AtomicI32Rmw8CmpxchgU, AtomicI32Rmw16CmpxchgU,
		AtomicI64Rmw8CmpxchgU, AtomicI64Rmw16CmpxchgU, AtomicI64Rmw32CmpxchgU:
		return true
	default:
		return false
	}
}

// IsAtomicLoad / IsAtomicStore classify the plain atomic accessors.
func IsAtomicLoad(sub byte) bool {
	switch sub {
	case AtomicI32Load, AtomicI64Load, AtomicI32Load8U, AtomicI32Load16U,
		AtomicI64Load8U, AtomicI64Load16U, AtomicI64Load32U:
		return true
	default:
		return false
	}
}

func IsAtomicStore(sub byte) bool {
	switch sub {
	case AtomicI32Store, AtomicI64Store, AtomicI32Store8, AtomicI32Store16,
		AtomicI64Store8, AtomicI64Store16, AtomicI64Store32:
		return true
	default:
		return false
	}
}

// IsPlainLoad / IsPlainStore classify the non-atomic memory accessors.
func IsPlainLoad(op byte) bool {
	return op >= OpI32Load && op <= OpI64Load32U
}

func IsPlainStore(op byte) bool {
	return op >= OpI32Store && op <= OpI64Store32
}

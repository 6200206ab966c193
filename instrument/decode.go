package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// containsSIMD reports whether the instruction stream starting at
// instrStart uses any 0xFD-prefixed vector instruction. Vector opcodes are
// unsupported: their sub-opcode/immediate encodings (memarg, lane index,
// 16-byte v128.const, i8x16.shuffle) aren't in instrLen's table, so walking
// past one would silently desync every subsequent offset. Guest code built
// from pthreads/atomics workloads doesn't emit these; Transform rejects
// modules containing them instead of miscounting.
func containsSIMD(body []byte, instrStart int) bool {
	pos := instrStart
	for pos < len(body) {
		if body[pos] == binutil.OpSimdPrefix {
			return true
		}
		pos = instrLen(body, pos)
	}
	return false
}

func isValType(b byte) bool {
	switch b {
	case 0x7F, 0x7E, 0x7D, 0x7C, 0x7B, 0x70, 0x6F:
		return true
	default:
		return false
	}
}

// blockTypeLen returns the number of bytes the blocktype immediate of a
// block/loop/if occupies, starting at pos.
func blockTypeLen(code []byte, pos int) int {
	if code[pos] == binutil.BlockTypeVoid || isValType(code[pos]) {
		return 1
	}
	_, n := binutil.DecodeSLEB128(code[pos:])
	return n
}

// instrLen returns the exclusive end offset of the single instruction
// starting at pos (opcode byte plus any immediate operand bytes, but not
// the bodies of structured control instructions — those are just more
// instructions the outer walk continues through). It does not need to
// track block nesting: every instruction, rewritten or not, is processed
// exactly once by the linear walk in rewrite.go, and block/loop/if/else/end
// are themselves valid entries in that walk with a 1+-byte length here.
func instrLen(code []byte, pos int) int {
	op := code[pos]
	p := pos + 1
	switch op {
	case binutil.OpBlock, binutil.OpLoop, binutil.OpIf:
		return p + blockTypeLen(code, p)
	case binutil.OpElse, binutil.OpEnd, binutil.OpUnreachable, binutil.OpNop,
		binutil.OpReturn, binutil.OpDrop, binutil.OpSelect:
		return p
	case binutil.OpBr, binutil.OpBrIf:
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case binutil.OpBrTable:
		count, n := binutil.DecodeULEB128(code[p:])
		p += n
		for i := uint32(0); i <= count; i++ {
			_, n := binutil.DecodeULEB128(code[p:])
			p += n
		}
		return p
	case binutil.OpCall:
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case binutil.OpCallIndirect:
		_, n := binutil.DecodeULEB128(code[p:]) // typeidx
		p += n
		_, n = binutil.DecodeULEB128(code[p:]) // tableidx
		return p + n
	case binutil.OpSelectT:
		count, n := binutil.DecodeULEB128(code[p:])
		p += n
		return p + int(count)
	case binutil.OpLocalGet, binutil.OpLocalSet, binutil.OpLocalTee,
		binutil.OpGlobalGet, binutil.OpGlobalSet:
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case 0x25, 0x26: // table.get, table.set
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case 0x3F, 0x40: // memory.size, memory.grow
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case binutil.OpI32Const:
		_, n := binutil.DecodeSLEB128(code[p:])
		return p + n
	case binutil.OpI64Const:
		_, n := binutil.DecodeSLEB64(code[p:])
		return p + n
	case binutil.OpF32Const:
		return p + 4
	case binutil.OpF64Const:
		return p + 8
	case 0xD0: // ref.null
		return p + 1
	case 0xD1: // ref.is_null
		return p
	case 0xD2: // ref.func
		_, n := binutil.DecodeULEB128(code[p:])
		return p + n
	case binutil.OpMiscPrefix:
		sub := code[p]
		p++
		switch sub {
		case binutil.MiscMemoryInit:
			_, n := binutil.DecodeULEB128(code[p:]) // dataidx
			p += n
			_, n = binutil.DecodeULEB128(code[p:]) // memidx
			return p + n
		case binutil.MiscMemoryCopy:
			_, n := binutil.DecodeULEB128(code[p:]) // dst memidx
			p += n
			_, n = binutil.DecodeULEB128(code[p:]) // src memidx
			return p + n
		case binutil.MiscMemoryFill:
			_, n := binutil.DecodeULEB128(code[p:]) // memidx
			return p + n
		case 0x09: // elem.drop
			_, n := binutil.DecodeULEB128(code[p:])
			return p + n
		case 0x0C, 0x0E: // table.init, table.copy (two index immediates)
			_, n := binutil.DecodeULEB128(code[p:])
			p += n
			_, n = binutil.DecodeULEB128(code[p:])
			return p + n
		case 0x0D, 0x0F, 0x10, 0x11: // table.grow/size/fill, single index
			_, n := binutil.DecodeULEB128(code[p:])
			return p + n
		default: // saturating truncation ops: no immediate
			return p
		}
	case binutil.OpAtomicPrefix:
		sub := code[p]
		p++
		if sub == 0x03 { // atomic.fence
			return p + 1
		}
		_, n := binutil.DecodeULEB128(code[p:]) // align
		p += n
		_, n = binutil.DecodeULEB128(code[p:]) // offset
		return p + n
	default:
		if binutil.IsPlainLoad(op) || binutil.IsPlainStore(op) {
			_, n := binutil.DecodeULEB128(code[p:]) // align
			p += n
			_, n = binutil.DecodeULEB128(code[p:]) // offset
			return p + n
		}
		// Every other opcode (numeric/comparison/conversion ops, and any
		// other single-byte instruction) carries no immediate.
		return p
	}
}

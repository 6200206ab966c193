package instrument

import "github.com/AFKoffee/wasmgrind/binutil"

// localGroup is one (count, type) run from a function body's local
// declaration vector.
type localGroup struct {
	count   uint32
	valType byte
}

// parseLocalDecls reads the declaration vector at the start of a function
// body, returning the groups, the total number of declared locals (not
// counting parameters), and the offset where the instruction stream
// begins.
func parseLocalDecls(body []byte) (groups []localGroup, total uint32, instrStart int) {
	pos := 0
	count, n := binutil.DecodeULEB128(body[pos:])
	pos += n
	groups = make([]localGroup, 0, count)
	for i := uint32(0); i < count; i++ {
		c, n := binutil.DecodeULEB128(body[pos:])
		pos += n
		vt := body[pos]
		pos++
		groups = append(groups, localGroup{count: c, valType: vt})
		total += c
	}
	return groups, total, pos
}

// encodeLocalDecls serializes the original groups plus one new group per
// non-empty scratch-local type, in a fixed i32/i64/f32/f64 order so output
// is deterministic regardless of discovery order within the function.
func encodeLocalDecls(orig []localGroup, i32n, i64n, f32n, f64n uint32) []byte {
	extra := make([]localGroup, 0, 4)
	if i32n > 0 {
		extra = append(extra, localGroup{i32n, 0x7f})
	}
	if i64n > 0 {
		extra = append(extra, localGroup{i64n, 0x7e})
	}
	if f32n > 0 {
		extra = append(extra, localGroup{f32n, 0x7d})
	}
	if f64n > 0 {
		extra = append(extra, localGroup{f64n, 0x7c})
	}
	all := append(append([]localGroup{}, orig...), extra...)

	out := binutil.EncodeULEB128(uint32(len(all)))
	for _, g := range all {
		out = append(out, binutil.EncodeULEB128(g.count)...)
		out = append(out, g.valType)
	}
	return out
}

// localBases assigns starting indices for each scratch-local type, placed
// after the function's parameters and original declared locals, ordered
// i32, i64, f32, f64 to match encodeLocalDecls.
type localBases struct {
	i32Base, i64Base, f32Base, f64Base uint32
}

func newLocalBases(paramAndDeclared uint32, i32n, i64n, f32n uint32) localBases {
	return localBases{
		i32Base: paramAndDeclared,
		i64Base: paramAndDeclared + i32n,
		f32Base: paramAndDeclared + i32n + i64n,
		f64Base: paramAndDeclared + i32n + i64n + f32n,
	}
}

// scratchAllocator hands out fresh, never-reused local indices of a given
// type during the emitting pass, using the bases computed from the
// counting pass.
type scratchAllocator struct {
	bases              localBases
	i32Used, i64Used   uint32
	f32Used, f64Used   uint32
}

func (s *scratchAllocator) alloc(valType byte) uint32 {
	switch valType {
	case 0x7e:
		idx := s.bases.i64Base + s.i64Used
		s.i64Used++
		return idx
	case 0x7d:
		idx := s.bases.f32Base + s.f32Used
		s.f32Used++
		return idx
	case 0x7c:
		idx := s.bases.f64Base + s.f64Used
		s.f64Used++
		return idx
	default:
		idx := s.bases.i32Base + s.i32Used
		s.i32Used++
		return idx
	}
}

package binutil

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

var magicVersion = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Module is a structured, round-trippable model of a core WebAssembly
// module. Sections that Threadify and the Instrumenter never need to
// rewrite (table, element, data, data-count) are kept as opaque raw bytes
// and re-emitted verbatim; the sections both passes edit (type, import,
// function, memory, global, export, start, code) are fully decoded.
//
// Custom sections (names, producers, debug info) are dropped during
// Parse/Encode round-trips. Nothing downstream depends on them and keeping
// them would require tracking custom-section byte offsets relative to code
// indices we rewrite.
type Module struct {
	Types       []FuncType
	Imports     []Import
	FuncTypeIdx []uint32
	Memories    []Limits
	Globals     []Global
	Exports     []Export
	HasStart    bool
	StartIdx    uint32
	Codes       []Code

	rawTable     []byte
	rawElement   []byte
	rawDataCount []byte
	rawData      []byte
}

// Parse decodes a raw WASM byte array into a Module.
func Parse(wasm []byte) (*Module, error) {
	if len(wasm) < 8 {
		return nil, fmt.Errorf("binutil: input too short to be a wasm module")
	}
	for i, b := range magicVersion {
		if wasm[i] != b {
			return nil, fmt.Errorf("binutil: bad magic/version header")
		}
	}

	m := &Module{}
	pos := 8
	for pos < len(wasm) {
		id := wasm[pos]
		pos++
		size, n := DecodeULEB128(wasm[pos:])
		pos += n
		end := pos + int(size)
		if end > len(wasm) {
			return nil, fmt.Errorf("binutil: section %d overruns module", id)
		}
		payload := wasm[pos:end]

		switch id {
		case SecCustom:
			// dropped
		case SecType:
			m.Types = parseTypeSection(payload)
		case SecImport:
			imps, err := parseImportSection(payload)
			if err != nil {
				return nil, err
			}
			m.Imports = imps
		case SecFunction:
			m.FuncTypeIdx = parseFunctionSection(payload)
		case SecTable:
			m.rawTable = rawSection(id, payload)
		case SecMemory:
			m.Memories = parseMemorySection(payload)
		case SecGlobal:
			m.Globals = parseGlobalSection(payload)
		case SecExport:
			m.Exports = parseExportSection(payload)
		case SecStart:
			idx, _ := DecodeULEB128(payload)
			m.HasStart = true
			m.StartIdx = idx
		case SecElement:
			m.rawElement = rawSection(id, payload)
		case SecDataCount:
			m.rawDataCount = rawSection(id, payload)
		case SecCode:
			m.Codes = parseCodeSection(payload)
		case SecData:
			m.rawData = rawSection(id, payload)
		default:
			// unknown section id: drop, matching custom-section policy above
		}

		pos = end
	}
	return m, nil
}

func rawSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, EncodeULEB128(uint32(len(payload)))...)
	out = append(out, payload...)
	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, EncodeULEB128(uint32(len(payload)))...)
	return append(out, payload...)
}

func parseTypeSection(payload []byte) []FuncType {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	types := make([]FuncType, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		pos++ // form byte, always 0x60
		pcount, n := DecodeULEB128(payload[pos:])
		pos += n
		params := make([]api.ValueType, pcount)
		for j := range params {
			params[j] = ParseValType(payload[pos])
			pos++
		}
		rcount, n := DecodeULEB128(payload[pos:])
		pos += n
		results := make([]api.ValueType, rcount)
		for j := range results {
			results[j] = ParseValType(payload[pos])
			pos++
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	return types
}

func parseLimits(data []byte, pos int) (Limits, int) {
	flag := data[pos]
	pos++
	min, n := DecodeULEB128(data[pos:])
	pos += n
	lim := Limits{Min: min, Shared: flag&0x02 != 0}
	if flag&0x01 != 0 {
		max, n := DecodeULEB128(data[pos:])
		pos += n
		lim.Max = max
		lim.HasMax = true
	}
	return lim, pos
}

func encodeLimits(l Limits) []byte {
	flag := byte(0)
	if l.HasMax {
		flag |= 0x01
	}
	if l.Shared {
		flag |= 0x02
	}
	out := []byte{flag}
	out = append(out, EncodeULEB128(l.Min)...)
	if l.HasMax {
		out = append(out, EncodeULEB128(l.Max)...)
	}
	return out
}

func parseImportSection(payload []byte) ([]Import, error) {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	imports := make([]Import, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		modLen, n := DecodeULEB128(payload[pos:])
		pos += n
		mod := string(payload[pos : pos+int(modLen)])
		pos += int(modLen)
		nameLen, n := DecodeULEB128(payload[pos:])
		pos += n
		name := string(payload[pos : pos+int(nameLen)])
		pos += int(nameLen)
		kind := payload[pos]
		pos++

		imp := Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case KindFunc:
			idx, n := DecodeULEB128(payload[pos:])
			pos += n
			imp.TypeIdx = idx
		case KindTable:
			imp.RefType = payload[pos]
			pos++
			lim, newPos := parseLimits(payload, pos)
			pos = newPos
			imp.Limits = lim
		case KindMemory:
			lim, newPos := parseLimits(payload, pos)
			pos = newPos
			imp.Limits = lim
		case KindGlobal:
			imp.ValType = ParseValType(payload[pos])
			pos++
			imp.Mutable = payload[pos] == 0x01
			pos++
		default:
			return nil, fmt.Errorf("binutil: unknown import kind %d", kind)
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

func parseFunctionSection(payload []byte) []uint32 {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	idxs := make([]uint32, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		idx, n := DecodeULEB128(payload[pos:])
		pos += n
		idxs = append(idxs, idx)
	}
	return idxs
}

func parseMemorySection(payload []byte) []Limits {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	mems := make([]Limits, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		lim, newPos := parseLimits(payload, pos)
		pos = newPos
		mems = append(mems, lim)
	}
	return mems
}

// scanInitExpr returns the position just past the terminating 0x0B of a
// constant init expression starting at pos. Supports the forms LLVM emits
// for linker-provided globals: i32/i64/f32/f64 const and global.get.
func scanInitExpr(data []byte, pos int) int {
	for pos < len(data) {
		op := data[pos]
		switch op {
		case 0x0B:
			return pos + 1
		case 0x41:
			pos++
			_, n := DecodeSLEB128(data[pos:])
			pos += n
		case 0x42:
			pos++
			_, n := DecodeSLEB64(data[pos:])
			pos += n
		case 0x43:
			pos += 5
		case 0x44:
			pos += 9
		case 0x23:
			pos++
			_, n := DecodeULEB128(data[pos:])
			pos += n
		default:
			pos++
		}
	}
	return pos
}

func parseGlobalSection(payload []byte) []Global {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	globals := make([]Global, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		valType := ParseValType(payload[pos])
		pos++
		mutable := payload[pos] == 0x01
		pos++
		start := pos
		end := scanInitExpr(payload, pos)
		globals = append(globals, Global{
			ValType:  valType,
			Mutable:  mutable,
			InitExpr: payload[start:end],
		})
		pos = end
	}
	return globals
}

func parseExportSection(payload []byte) []Export {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	exports := make([]Export, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		nameLen, n := DecodeULEB128(payload[pos:])
		pos += n
		name := string(payload[pos : pos+int(nameLen)])
		pos += int(nameLen)
		kind := payload[pos]
		pos++
		idx, n := DecodeULEB128(payload[pos:])
		pos += n
		exports = append(exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return exports
}

func parseCodeSection(payload []byte) []Code {
	pos := 0
	count, n := DecodeULEB128(payload[pos:])
	pos += n
	codes := make([]Code, 0, count)
	for i := uint32(0); i < count && pos < len(payload); i++ {
		bodySize, n := DecodeULEB128(payload[pos:])
		pos += n
		body := payload[pos : pos+int(bodySize)]
		pos += int(bodySize)
		codes = append(codes, Code{Body: body})
	}
	return codes
}

// Encode serializes the Module back into a raw WASM byte array in the
// canonical section order.
func (m *Module) Encode() []byte {
	out := append([]byte{}, magicVersion...)

	if len(m.Types) > 0 {
		out = appendSection(out, SecType, m.encodeTypeSection())
	}
	if len(m.Imports) > 0 {
		out = appendSection(out, SecImport, m.encodeImportSection())
	}
	if len(m.FuncTypeIdx) > 0 {
		out = appendSection(out, SecFunction, m.encodeFunctionSection())
	}
	if m.rawTable != nil {
		out = append(out, m.rawTable...)
	}
	if len(m.Memories) > 0 {
		out = appendSection(out, SecMemory, m.encodeMemorySection())
	}
	if len(m.Globals) > 0 {
		out = appendSection(out, SecGlobal, m.encodeGlobalSection())
	}
	if len(m.Exports) > 0 {
		out = appendSection(out, SecExport, m.encodeExportSection())
	}
	if m.HasStart {
		out = appendSection(out, SecStart, EncodeULEB128(m.StartIdx))
	}
	if m.rawElement != nil {
		out = append(out, m.rawElement...)
	}
	if m.rawDataCount != nil {
		out = append(out, m.rawDataCount...)
	}
	if len(m.Codes) > 0 {
		out = appendSection(out, SecCode, m.encodeCodeSection())
	}
	if m.rawData != nil {
		out = append(out, m.rawData...)
	}
	return out
}

func (m *Module) encodeTypeSection() []byte {
	out := EncodeULEB128(uint32(len(m.Types)))
	for _, t := range m.Types {
		out = append(out, 0x60)
		out = append(out, EncodeULEB128(uint32(len(t.Params)))...)
		for _, p := range t.Params {
			out = append(out, ValTypeToWasm(p))
		}
		out = append(out, EncodeULEB128(uint32(len(t.Results)))...)
		for _, r := range t.Results {
			out = append(out, ValTypeToWasm(r))
		}
	}
	return out
}

func encodeName(name string) []byte {
	out := EncodeULEB128(uint32(len(name)))
	return append(out, []byte(name)...)
}

func (m *Module) encodeImportSection() []byte {
	out := EncodeULEB128(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		out = append(out, encodeName(imp.Module)...)
		out = append(out, encodeName(imp.Name)...)
		out = append(out, imp.Kind)
		switch imp.Kind {
		case KindFunc:
			out = append(out, EncodeULEB128(imp.TypeIdx)...)
		case KindTable:
			out = append(out, imp.RefType)
			out = append(out, encodeLimits(imp.Limits)...)
		case KindMemory:
			out = append(out, encodeLimits(imp.Limits)...)
		case KindGlobal:
			out = append(out, ValTypeToWasm(imp.ValType))
			out = append(out, boolByte(imp.Mutable))
		}
	}
	return out
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}

func (m *Module) encodeFunctionSection() []byte {
	out := EncodeULEB128(uint32(len(m.FuncTypeIdx)))
	for _, idx := range m.FuncTypeIdx {
		out = append(out, EncodeULEB128(idx)...)
	}
	return out
}

func (m *Module) encodeMemorySection() []byte {
	out := EncodeULEB128(uint32(len(m.Memories)))
	for _, lim := range m.Memories {
		out = append(out, encodeLimits(lim)...)
	}
	return out
}

func (m *Module) encodeGlobalSection() []byte {
	out := EncodeULEB128(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		out = append(out, ValTypeToWasm(g.ValType))
		out = append(out, boolByte(g.Mutable))
		out = append(out, g.InitExpr...)
	}
	return out
}

func (m *Module) encodeExportSection() []byte {
	out := EncodeULEB128(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		out = append(out, encodeName(e.Name)...)
		out = append(out, e.Kind)
		out = append(out, EncodeULEB128(e.Idx)...)
	}
	return out
}

func (m *Module) encodeCodeSection() []byte {
	out := EncodeULEB128(uint32(len(m.Codes)))
	for _, c := range m.Codes {
		out = append(out, EncodeULEB128(uint32(len(c.Body)))...)
		out = append(out, c.Body...)
	}
	return out
}

// NumImportedFuncs returns the number of function imports, which occupy
// the low indices of the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals returns the number of global imports.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// AddType appends a new function signature and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// AddFunc appends a new locally defined function with the given signature
// index and raw body, returning its index in the function index space.
func (m *Module) AddFunc(typeIdx uint32, body []byte) uint32 {
	idx := uint32(m.NumImportedFuncs() + len(m.FuncTypeIdx))
	m.FuncTypeIdx = append(m.FuncTypeIdx, typeIdx)
	m.Codes = append(m.Codes, Code{Body: body})
	return idx
}

// AddGlobal appends a new locally defined global, returning its index in
// the global index space.
func (m *Module) AddGlobal(g Global) uint32 {
	idx := uint32(m.NumImportedGlobals() + len(m.Globals))
	m.Globals = append(m.Globals, g)
	return idx
}

// SetExport adds or overwrites an export entry by name.
func (m *Module) SetExport(name string, kind byte, idx uint32) {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			m.Exports[i].Kind = kind
			m.Exports[i].Idx = idx
			return
		}
	}
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
}

// FindExport looks up an export by name.
func (m *Module) FindExport(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FindImportFunc returns the function index of an imported function, if
// present.
func (m *Module) FindImportFunc(module, name string) (uint32, bool) {
	idx := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			if imp.Module == module && imp.Name == name {
				return idx, true
			}
			idx++
		}
	}
	return 0, false
}

// SetStart sets the module's start function index.
func (m *Module) SetStart(idx uint32) {
	m.HasStart = true
	m.StartIdx = idx
}

// ClearStart removes the module's start function declaration, returning
// the previous index if one was set.
func (m *Module) ClearStart() (old uint32, had bool) {
	had, old = m.HasStart, m.StartIdx
	m.HasStart = false
	return old, had
}

// GlobalType resolves the value type and mutability of a global by its
// index in the combined (imports-then-locals) global index space.
func (m *Module) GlobalType(idx uint32) (api.ValueType, bool, bool) {
	cur := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			if cur == idx {
				return imp.ValType, imp.Mutable, true
			}
			cur++
		}
	}
	local := idx - cur
	if int(local) < len(m.Globals) {
		g := m.Globals[local]
		return g.ValType, g.Mutable, true
	}
	return 0, false, false
}

// FuncType resolves the signature of a function by its index in the
// combined function index space.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	cur := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			if cur == idx {
				if int(imp.TypeIdx) < len(m.Types) {
					return m.Types[imp.TypeIdx], true
				}
				return FuncType{}, false
			}
			cur++
		}
	}
	local := idx - cur
	if int(local) < len(m.FuncTypeIdx) {
		t := m.FuncTypeIdx[local]
		if int(t) < len(m.Types) {
			return m.Types[t], true
		}
	}
	return FuncType{}, false
}

// MemoryLimits returns the limits of memory index 0, whether imported or
// locally defined. Wasmgrind assumes a single 32-bit memory throughout;
// 64-bit and multi-memory modules are out of scope.
func (m *Module) MemoryLimits() (Limits, bool) {
	for _, imp := range m.Imports {
		if imp.Kind == KindMemory {
			return imp.Limits, true
		}
	}
	if len(m.Memories) > 0 {
		return m.Memories[0], true
	}
	return Limits{}, false
}

// GrowMemoryMin raises memory index 0's minimum page count to at least
// pages, growing its maximum too if one is declared and is currently
// smaller. Reports whether a memory was found to grow.
func (m *Module) GrowMemoryMin(pages uint32) bool {
	for i := range m.Imports {
		if m.Imports[i].Kind == KindMemory {
			if m.Imports[i].Limits.Min < pages {
				m.Imports[i].Limits.Min = pages
			}
			if m.Imports[i].Limits.HasMax && m.Imports[i].Limits.Max < pages {
				m.Imports[i].Limits.Max = pages
			}
			return true
		}
	}
	if len(m.Memories) > 0 {
		if m.Memories[0].Min < pages {
			m.Memories[0].Min = pages
		}
		if m.Memories[0].HasMax && m.Memories[0].Max < pages {
			m.Memories[0].Max = pages
		}
		return true
	}
	return false
}

package binutil

import "github.com/tetratelabs/wazero/api"

// Section ids, per the WebAssembly core binary format.
const (
	SecCustom    byte = 0x00
	SecType      byte = 0x01
	SecImport    byte = 0x02
	SecFunction  byte = 0x03
	SecTable     byte = 0x04
	SecMemory    byte = 0x05
	SecGlobal    byte = 0x06
	SecExport    byte = 0x07
	SecStart     byte = 0x08
	SecElement   byte = 0x09
	SecCode      byte = 0x0a
	SecData      byte = 0x0b
	SecDataCount byte = 0x0c
)

// Import/export kind tags.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// ValTypeToWasm converts a wazero value type to its WASM byte encoding.
func ValTypeToWasm(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI32:
		return 0x7f
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}

// ParseValType converts a WASM value-type byte to a wazero value type.
func ParseValType(b byte) api.ValueType {
	switch b {
	case 0x7F:
		return api.ValueTypeI32
	case 0x7E:
		return api.ValueTypeI64
	case 0x7D:
		return api.ValueTypeF32
	case 0x7C:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// FuncType is a function signature: a vector of parameter and result value
// types.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Equal reports whether two signatures are structurally identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Limits describes a table or memory's size bounds. Shared is only
// meaningful for memories (the shared-memory proposal used by the threads
// feature).
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

// Import describes a single entry of the import section, regardless of
// kind. Only the fields relevant to Kind are populated.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32 // KindFunc
	RefType byte   // KindTable
	Limits  Limits // KindTable, KindMemory
	ValType api.ValueType
	Mutable bool // KindGlobal
}

// Global describes a locally defined global: its type and its raw init
// expression (including the trailing 0x0B end opcode).
type Global struct {
	ValType  api.ValueType
	Mutable  bool
	InitExpr []byte
}

// Export describes a single entry of the export section.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Code is a single raw function body, exactly as it appears in the code
// section (size-prefix stripped, decl+instruction bytes retained verbatim).
type Code struct {
	Body []byte
}

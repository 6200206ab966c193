package instrument

import (
	"github.com/AFKoffee/wasmgrind/binutil"
	"github.com/tetratelabs/wazero/api"
)

// abiCallees lists the imports under the wasm_threadlink namespace whose
// call sites get "containing function index, current instruction index"
// trailing arguments, and whose declared type therefore needs two extra
// i32 parameters appended.
var abiCallees = []string{
	"thread_create", "thread_join",
	"start_lock", "finish_lock", "start_unlock", "finish_unlock",
}

// widenABITypes finds each import in abiCallees (any that are absent are
// skipped — not every guest links every ABI function) and points it at a
// freshly added type with two extra trailing i32 parameters, returning the
// set of its function indices for the rewrite pass to recognize at call
// sites.
func widenABITypes(m *binutil.Module) map[uint32]bool {
	targets := make(map[uint32]bool)
	for _, name := range abiCallees {
		idx, ok := m.FindImportFunc("wasm_threadlink", name)
		if !ok {
			continue
		}
		orig, ok := m.FuncType(idx)
		if !ok {
			continue
		}
		widened := binutil.FuncType{
			Params:  append(append([]api.ValueType{}, orig.Params...), api.ValueTypeI32, api.ValueTypeI32),
			Results: orig.Results,
		}
		newType := m.AddType(widened)
		// idx < NumImportedFuncs always holds for import entries; find the
		// matching Import record directly by module/name and repoint it.
		for i := range m.Imports {
			if m.Imports[i].Kind == binutil.KindFunc && m.Imports[i].Module == "wasm_threadlink" && m.Imports[i].Name == name {
				m.Imports[i].TypeIdx = newType
				break
			}
		}
		targets[idx] = true
	}
	return targets
}

// addHookImports appends the wasabi.read_hook/write_hook function imports
// used by every instrumented access. Appending at the end of Imports
// means every existing import keeps its index — only the function index
// space gains two entries right before the first locally defined function,
// which the caller must account for when remapping function indices
// (Transform's remap and rewriteConfig.remapCallee).
func addHookImports(m *binutil.Module) (readHook, writeHook uint32) {
	hookType := m.AddType(binutil.FuncType{
		Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
	})
	before := uint32(m.NumImportedFuncs())
	m.Imports = append(m.Imports,
		binutil.Import{Module: "wasabi", Name: "read_hook", Kind: binutil.KindFunc, TypeIdx: hookType},
		binutil.Import{Module: "wasabi", Name: "write_hook", Kind: binutil.KindFunc, TypeIdx: hookType},
	)
	return before, before + 1
}

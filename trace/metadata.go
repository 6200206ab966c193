package trace

import "encoding/json"

// VarRecord maps an interned variable id back to the (addr, n) access it
// was first seen at.
type VarRecord struct {
	ID   uint64 `json:"id"`
	Addr uint32 `json:"addr"`
	N    uint32 `json:"n"`
}

// LockRecord maps an interned lock id back to its guest address.
type LockRecord struct {
	ID   uint64 `json:"id"`
	Addr uint32 `json:"addr"`
}

// LocationRecord maps an interned location id back to its (func, instr)
// position.
type LocationRecord struct {
	ID    uint64 `json:"id"`
	Func  uint32 `json:"func"`
	Instr uint32 `json:"instr"`
}

// Metadata is the JSON sidecar documenting the inverse of every interning
// table EncodeRapidBin built — sufficient to map every RapidBin field back
// to its Wasmgrind meaning. Threads are recorded by position: the tid at
// index i is the thread whose interned id is i.
type Metadata struct {
	Threads   []uint32         `json:"threads"`
	Vars      []VarRecord      `json:"vars"`
	Locks     []LockRecord     `json:"locks"`
	Locations []LocationRecord `json:"locations"`
}

func buildMetadata(threads *interner[uint32], vars *interner[varKey], locks *interner[uint32], locations *interner[locKey]) *Metadata {
	m := &Metadata{
		Threads:   append([]uint32{}, threads.order...),
		Vars:      make([]VarRecord, len(vars.order)),
		Locks:     make([]LockRecord, len(locks.order)),
		Locations: make([]LocationRecord, len(locations.order)),
	}
	for i, k := range vars.order {
		m.Vars[i] = VarRecord{ID: uint64(i), Addr: k.Addr, N: k.N}
	}
	for i, addr := range locks.order {
		m.Locks[i] = LockRecord{ID: uint64(i), Addr: addr}
	}
	for i, k := range locations.order {
		m.Locations[i] = LocationRecord{ID: uint64(i), Func: k.FuncIdx, Instr: k.InstrIdx}
	}
	return m
}

// WriteJSON renders the metadata as indented UTF-8 JSON text.
func (m *Metadata) WriteJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

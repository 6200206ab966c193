package trace

import (
	"encoding/binary"
	"testing"
)

func decodeField(packed uint64, shift, bits uint) uint64 {
	mask := uint64(1)<<bits - 1
	return (packed >> shift) & mask
}

func TestEncodeRapidBinHeaderAndFields(t *testing.T) {
	events := []Event{
		{TID: 0, Op: Fork(1), Loc: Location{FuncIdx: 1, InstrIdx: 10}},
		{TID: 0, Op: Fork(2), Loc: Location{FuncIdx: 1, InstrIdx: 20}},
		{TID: 1, Op: Request(50), Loc: Location{FuncIdx: 2, InstrIdx: 5}},
		{TID: 1, Op: Acquire(50), Loc: Location{FuncIdx: 2, InstrIdx: 6}},
		{TID: 1, Op: Read(200, 4), Loc: Location{FuncIdx: 2, InstrIdx: 7}},
		{TID: 1, Op: Write(200, 4), Loc: Location{FuncIdx: 2, InstrIdx: 8}},
		{TID: 1, Op: Release(50), Loc: Location{FuncIdx: 2, InstrIdx: 9}},
		{TID: 1, Op: Join(2), Loc: Location{FuncIdx: 2, InstrIdx: 11}},
	}

	data, meta, err := EncodeRapidBin(events)
	if err != nil {
		t.Fatalf("EncodeRapidBin failed: %v", err)
	}

	if len(data) != headerLen+len(events)*8 {
		t.Fatalf("unexpected output length %d", len(data))
	}

	nThreads := binary.BigEndian.Uint16(data[0:2])
	nLocks := binary.BigEndian.Uint32(data[2:6])
	nVars := binary.BigEndian.Uint32(data[6:10])
	nEvents := binary.BigEndian.Uint64(data[10:18])

	if nThreads != 3 { // tid 0, tid 1, child tid 2 (tid 1 reused)
		t.Errorf("expected 3 distinct threads, got %d", nThreads)
	}
	if nLocks != 1 {
		t.Errorf("expected 1 distinct lock, got %d", nLocks)
	}
	if nVars != 1 {
		t.Errorf("expected 1 distinct variable (same addr/n read and written), got %d", nVars)
	}
	if nEvents != uint64(len(events)) {
		t.Errorf("expected n_events=%d, got %d", len(events), nEvents)
	}

	first := binary.BigEndian.Uint64(data[headerLen : headerLen+8])
	if tid := decodeField(first, tidShift, tidBits); tid != 0 {
		t.Errorf("expected first event's tid field to be 0, got %d", tid)
	}
	if op := decodeField(first, opShift, opBits); op != uint64(OpFork) {
		t.Errorf("expected first event's op field to be Fork(%d), got %d", OpFork, op)
	}
	if decor := decodeField(first, decorShift, decorBits); decor != 1 {
		t.Errorf("expected first event's decor to be the first-seen child tid 1, got %d", decor)
	}

	if len(meta.Threads) != 3 {
		t.Errorf("expected metadata to list 3 threads, got %d", len(meta.Threads))
	}
	if len(meta.Vars) != 1 || meta.Vars[0].Addr != 200 || meta.Vars[0].N != 4 {
		t.Errorf("unexpected var metadata: %+v", meta.Vars)
	}
	if len(meta.Locks) != 1 || meta.Locks[0].Addr != 50 {
		t.Errorf("unexpected lock metadata: %+v", meta.Locks)
	}
	if len(meta.Locations) != len(events) {
		t.Errorf("expected every event's location to be distinct, got %d locations", len(meta.Locations))
	}
}

func TestEncodeRapidBinRejectsThreadOverflow(t *testing.T) {
	var events []Event
	for i := uint32(0); i < (1<<tidBits)+1; i++ {
		events = append(events, Event{TID: i, Op: Read(0, 1), Loc: Location{FuncIdx: 0, InstrIdx: i}})
	}

	_, _, err := EncodeRapidBin(events)
	if err == nil {
		t.Fatal("expected overflow error once distinct threads exceed the 10-bit tid field")
	}
}

func TestRecorderAppendAndSnapshot(t *testing.T) {
	r := NewRecorder()
	r.Append(0, Read(100, 4), Location{FuncIdx: 1, InstrIdx: 1})
	r.Append(0, Write(100, 4), Location{FuncIdx: 1, InstrIdx: 2})

	if r.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", r.Len())
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Op.Kind != OpRead || snap[1].Op.Kind != OpWrite {
		t.Errorf("unexpected snapshot contents: %+v", snap)
	}
}

package trace

import (
	"encoding/binary"

	wasmerr "github.com/AFKoffee/wasmgrind/errors"
)

// Bit layout of a packed RapidBin event, from MSB to LSB (tid occupies the
// lowest bits):
// sign(1) | location(15) | decor(34) | operation(4) | tid(10).
const (
	tidBits   = 10
	tidShift  = 0
	opBits    = 4
	opShift   = tidShift + tidBits
	decorBits = 34
	decorShift = opShift + opBits
	locBits   = 15
	locShift  = decorShift + decorBits
)

// headerLen is the size of a RapidBin header: i16 n_threads, i32 n_locks,
// i32 n_vars, i64 n_events, all big-endian.
const headerLen = 2 + 4 + 4 + 8

// EncodeRapidBin serializes events into the RapidBin binary trace format
// and the JSON-ready metadata needed to decompress its interned ids back
// to Wasmgrind's native (addr, lock, func/instr) identifiers.
//
// The packed bit layout reserves only 10 bits for the per-event tid field,
// tighter than the header's i16 thread-count field could otherwise imply.
// This implementation enforces the tighter, field-correct 2^10 bound — a
// trace with more than 1024 distinct threads cannot be packed into the tid
// field regardless of what the header count alone could hold.
func EncodeRapidBin(events []Event) ([]byte, *Metadata, error) {
	threads := newInterner[uint32]()
	vars := newInterner[varKey]()
	locks := newInterner[uint32]()
	locations := newInterner[locKey]()

	body := make([]byte, 0, len(events)*8)
	for _, e := range events {
		tid := threads.id(e.TID)
		loc := locations.id(locKey{e.Loc.FuncIdx, e.Loc.InstrIdx})

		var decor uint64
		switch e.Op.Kind {
		case OpRead, OpWrite:
			decor = vars.id(varKey{e.Op.Addr, e.Op.N})
		case OpAcquire, OpRequest, OpRelease:
			decor = locks.id(e.Op.Lock)
		case OpFork, OpJoin:
			decor = threads.id(e.Op.ChildTID)
		default:
			return nil, nil, invalidOperation(e.Op.Kind)
		}

		if tid >= 1<<tidBits {
			return nil, nil, wasmerr.TraceTooLarge("tid", 1<<tidBits, int64(tid)+1)
		}
		if decor >= 1<<decorBits {
			return nil, nil, wasmerr.TraceTooLarge("decor", 1<<decorBits, int64(decor)+1)
		}
		if loc >= 1<<locBits {
			return nil, nil, wasmerr.TraceTooLarge("location", 1<<locBits, int64(loc)+1)
		}

		packed := (loc << locShift) | (decor << decorShift) | (uint64(e.Op.Kind) << opShift) | (tid << tidShift)
		body = binary.BigEndian.AppendUint64(body, packed)
	}

	if threads.len() >= 1<<15 {
		err := wasmerr.TraceTooLarge("threads", 1<<15, int64(threads.len()))
		Logger().Sugar().Warnw("rapidbin encode overflow", "error", err)
		return nil, nil, err
	}

	out := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(threads.len()))
	binary.BigEndian.PutUint32(out[2:6], uint32(locks.len()))
	binary.BigEndian.PutUint32(out[6:10], uint32(vars.len()))
	binary.BigEndian.PutUint64(out[10:18], uint64(len(events)))
	out = append(out, body...)

	Logger().Sugar().Debugw("encoded rapidbin trace",
		"events", len(events), "threads", threads.len(), "locks", locks.len(), "vars", vars.len())
	return out, buildMetadata(threads, vars, locks, locations), nil
}

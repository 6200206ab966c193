package tmgmt

import (
	"context"
	"sync"
	"sync/atomic"

	wasmerr "github.com/AFKoffee/wasmgrind/errors"
)

// Outcome is what a guest thread leaves behind once its host goroutine
// returns: nil on a clean thread_start return, non-nil if the goroutine
// trapped. The runtime package aggregates these across siblings at
// teardown.
type Outcome struct {
	Err error
}

type threadRecord struct {
	handle  any
	outcome *ConditionalHandle[Outcome]
	joining bool
}

// Manager is the concurrent tid -> thread-record map backing
// register_new/set_handle/signal_terminated/join. Grounded on
// original_source/src/tmgmt.rs's ThreadManagement<T>, generalized so the
// stored handle and the join value are distinct fields (the original ties
// both to the same std::thread::JoinHandle).
type Manager struct {
	mu      sync.Mutex
	threads map[uint32]*threadRecord
	nextTID atomic.Uint32
}

// NewManager creates an empty thread manager.
func NewManager() *Manager {
	return &Manager{threads: make(map[uint32]*threadRecord)}
}

// RegisterNew allocates the next free tid and inserts a pending record for
// it. Concurrent callers always receive distinct ids.
func (m *Manager) RegisterNew() uint32 {
	tid := m.nextTID.Add(1) - 1

	m.mu.Lock()
	m.threads[tid] = &threadRecord{outcome: NewConditionalHandle[Outcome]()}
	m.mu.Unlock()

	Logger().Sugar().Debugw("registered thread", "tid", tid)
	return tid
}

// Unregister discards tid's pending record without ever signalling it.
// For a thread_create that fails after RegisterNew but before the guest
// goroutine is actually spawned, so the record doesn't leak forever
// waiting for a SignalTerminated that will never come.
func (m *Manager) Unregister(tid uint32) {
	m.mu.Lock()
	delete(m.threads, tid)
	m.mu.Unlock()
}

// SetHandle attaches the host-side join handle for tid after its goroutine
// has been spawned. It fails with UnknownThread if tid was never registered
// or has already been joined.
func (m *Manager) SetHandle(tid uint32, handle any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.threads[tid]
	if !ok {
		return wasmerr.UnknownThread(tid)
	}
	rec.handle = handle
	return nil
}

// SignalTerminated transitions tid's record to terminated and wakes any
// goroutine blocked in Join. It fails with UnknownThread if tid was never
// registered or has already been joined.
func (m *Manager) SignalTerminated(tid uint32, outcome Outcome) error {
	m.mu.Lock()
	rec, ok := m.threads[tid]
	m.mu.Unlock()

	if !ok {
		return wasmerr.UnknownThread(tid)
	}

	rec.outcome.SetAndNotify(outcome)
	Logger().Sugar().Debugw("thread terminated", "tid", tid, "failed", outcome.Err != nil)
	return nil
}

// Join blocks until tid's thread has terminated and returns the outcome it
// terminated with. The record stays in m.threads while the joiner waits, so
// SignalTerminated can still find it; only once the outcome has been taken
// is the record removed. It fails with UnknownThread if tid was never
// registered or has already been joined by someone else.
func (m *Manager) Join(tid uint32) (Outcome, error) {
	m.mu.Lock()
	rec, ok := m.threads[tid]
	if ok {
		if rec.joining {
			ok = false
		} else {
			rec.joining = true
		}
	}
	m.mu.Unlock()

	if !ok {
		return Outcome{}, wasmerr.UnknownThread(tid)
	}

	outcome := rec.outcome.TakeWhenReady()

	m.mu.Lock()
	delete(m.threads, tid)
	m.mu.Unlock()

	return outcome, nil
}

type threadIDKey struct{}

// WithThreadID returns a context carrying tid as the current thread's id,
// for host functions to recover via CurrentThreadID.
func WithThreadID(ctx context.Context, tid uint32) context.Context {
	return context.WithValue(ctx, threadIDKey{}, tid)
}

// CurrentThreadID retrieves the tid bound into ctx by WithThreadID, if any.
func CurrentThreadID(ctx context.Context) (uint32, bool) {
	tid, ok := ctx.Value(threadIDKey{}).(uint32)
	return tid, ok
}

var mainInitialized atomic.Bool

// BindMainThread registers the main thread's tid exactly once per process.
// A second call fails with KindInternalInvariantViolation, mirroring
// tmgmt.rs's MAIN_INITIALIZED guard against thread_id() being relied on
// twice to lazily assign the main thread's id.
func (m *Manager) BindMainThread() (uint32, error) {
	if !mainInitialized.CompareAndSwap(false, true) {
		return 0, wasmerr.InternalInvariantViolation("main thread initialized twice")
	}
	return m.RegisterNew(), nil
}

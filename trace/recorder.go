package trace

import "sync"

// Recorder is a mutex-guarded, append-only execution trace. The only write
// operation is Append: take the lock, push, release — amortised O(1), no
// read traffic while a run is in progress.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty execution trace.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append records a new event.
func (r *Recorder) Append(tid uint32, op Operation, loc Location) {
	r.mu.Lock()
	r.events = append(r.events, Event{TID: tid, Op: op, Loc: loc})
	r.mu.Unlock()
}

// Snapshot returns a copy of the events recorded so far, safe to iterate
// without holding the recorder's lock.
func (r *Recorder) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len reports the number of events recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

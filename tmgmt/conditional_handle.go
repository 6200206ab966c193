package tmgmt

import "sync"

// ConditionalHandle is a one-shot mutex-condvar pair carrying a single value
// of type T from a sending thread to a receiving thread. It should never be
// shared between more than two goroutines — one setter, one waiter.
//
// Grounded on original_source/crates/wasmgrind-core/src/tmgmt.rs's
// ConditionalHandle<T>{Mutex<Option<T>>, Condvar}. Go's sync.Cond can't be
// "poisoned" the way the Rust Mutex can, so there is no poison error path
// here.
type ConditionalHandle[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value T
	ready bool
}

// NewConditionalHandle creates an empty handle. TakeWhenReady blocks until a
// value is set.
func NewConditionalHandle[T any]() *ConditionalHandle[T] {
	h := &ConditionalHandle[T]{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// NewConditionalHandleWithValue creates a handle that already holds val, so
// TakeWhenReady returns immediately.
func NewConditionalHandleWithValue[T any](val T) *ConditionalHandle[T] {
	h := &ConditionalHandle[T]{value: val, ready: true}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// SetAndNotify stores val and wakes one waiter blocked in TakeWhenReady.
func (h *ConditionalHandle[T]) SetAndNotify(val T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = val
	h.ready = true
	h.cond.Signal()
}

// TakeWhenReady blocks until a value has been set, then returns it. The
// value is not retained: a second call on the same handle blocks until
// SetAndNotify stores a new value.
func (h *ConditionalHandle[T]) TakeWhenReady() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.ready {
		h.cond.Wait()
	}
	val := h.value
	h.ready = false
	var zero T
	h.value = zero
	return val
}

// TryTake returns the value immediately if one is present, without
// blocking. Unused by the native host's blocking join, but kept as the
// primitive the non-blocking web-variant join would be built on.
func (h *ConditionalHandle[T]) TryTake() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		var zero T
		return zero, false
	}
	val := h.value
	h.ready = false
	var zero T
	h.value = zero
	return val, true
}

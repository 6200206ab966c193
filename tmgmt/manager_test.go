package tmgmt

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	wasmerr "github.com/AFKoffee/wasmgrind/errors"
)

func TestRegisterNewProducesDistinctIDs(t *testing.T) {
	m := NewManager()

	const n = 64
	ids := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- m.RegisterNew()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("tid %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}
}

func TestJoinBlocksUntilSignalTerminated(t *testing.T) {
	m := NewManager()
	tid := m.RegisterNew()

	if err := m.SetHandle(tid, "goroutine-handle"); err != nil {
		t.Fatalf("SetHandle failed: %v", err)
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := m.Join(tid)
		if err != nil {
			t.Errorf("Join failed: %v", err)
		}
		done <- outcome
	}()

	// Spin until the goroutine above has actually entered Join and marked
	// itself as the joiner before terminating the thread, so this
	// exercises the real join-before-terminate ordering deterministically
	// instead of racing SignalTerminated against Join's own startup.
	for {
		m.mu.Lock()
		rec, ok := m.threads[tid]
		joining := ok && rec.joining
		m.mu.Unlock()
		if joining {
			break
		}
		runtime.Gosched()
	}

	if err := m.SignalTerminated(tid, Outcome{Err: nil}); err != nil {
		t.Fatalf("SignalTerminated failed: %v", err)
	}

	outcome := <-done
	if outcome.Err != nil {
		t.Errorf("expected nil outcome error, got %v", outcome.Err)
	}

	if _, err := m.Join(tid); !errors.Is(err, wasmerr.UnknownThread(tid)) {
		t.Errorf("expected UnknownThread on re-join, got %v", err)
	}
}

func TestJoinUnknownThreadFails(t *testing.T) {
	m := NewManager()
	if _, err := m.Join(9999); !errors.Is(err, wasmerr.UnknownThread(9999)) {
		t.Errorf("expected UnknownThread, got %v", err)
	}
}

func TestSetHandleUnknownThreadFails(t *testing.T) {
	m := NewManager()
	if err := m.SetHandle(1234, nil); !errors.Is(err, wasmerr.UnknownThread(1234)) {
		t.Errorf("expected UnknownThread, got %v", err)
	}
}

func TestThreadIDContextRoundTrip(t *testing.T) {
	ctx := WithThreadID(context.Background(), 42)
	tid, ok := CurrentThreadID(ctx)
	if !ok || tid != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", tid, ok)
	}

	if _, ok := CurrentThreadID(context.Background()); ok {
		t.Error("expected no tid in a bare context")
	}
}

func TestBindMainThreadOnlyOnce(t *testing.T) {
	mainInitialized.Store(false)
	defer mainInitialized.Store(false)

	m := NewManager()
	tid, err := m.BindMainThread()
	if err != nil {
		t.Fatalf("first BindMainThread failed: %v", err)
	}

	if _, err := m.BindMainThread(); err == nil {
		t.Error("expected second BindMainThread call to fail")
	}

	if err := m.SetHandle(tid, "main"); err != nil {
		t.Errorf("main thread's record should still exist: %v", err)
	}
}

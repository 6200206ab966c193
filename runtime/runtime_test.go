package runtime

import (
	"context"
	"testing"

	"github.com/AFKoffee/wasmgrind/abi"
	"github.com/AFKoffee/wasmgrind/tmgmt"
	"github.com/tetratelabs/wazero/api"
)

func newTestRuntime(t *testing.T, tracing bool) *Runtime {
	t.Helper()
	fx := abi.BuildGuestFixture(abi.FixtureOptions{Tracing: tracing})
	wasmBytes := fx.Module.Encode()

	r, err := New(context.Background(), wasmBytes, Config{Tracing: tracing})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

// instantiateAs instantiates the runtime's compiled module under a fresh
// tid bound into ctx, bypassing Run/BindMainThread so multiple tests can
// each drive their own instance within one process (tmgmt.BindMainThread
// is a once-per-process latch).
func instantiateAs(t *testing.T, r *Runtime) (context.Context, uint32, api.Module) {
	t.Helper()
	tid := r.tmgmt.RegisterNew()
	ctx := tmgmt.WithThreadID(context.Background(), tid)
	inst, err := r.wz.InstantiateModule(ctx, r.compiled, newAnonymousConfig())
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}
	r.registerInstance(tid, inst)
	t.Cleanup(func() {
		r.unregisterInstance(tid)
		_ = inst.Close(context.Background())
	})
	return ctx, tid, inst
}

func TestRuntimeMainWritesGlobal(t *testing.T) {
	r := newTestRuntime(t, false)
	ctx, _, inst := instantiateAs(t, r)

	if _, err := inst.ExportedFunction("main").Call(ctx); err != nil {
		t.Fatalf("call to main failed: %v", err)
	}

	g := inst.ExportedGlobal("g_var")
	if g == nil {
		t.Fatal("expected exported global g_var")
	}
	if got := g.Get(); got != 42 {
		t.Errorf("expected g_var == 42, got %d", got)
	}
}

func TestSpawnAndJoinRecordsForkAndJoin(t *testing.T) {
	r := newTestRuntime(t, true)
	ctx, callerTID, inst := instantiateAs(t, r)

	if _, err := inst.ExportedFunction("spawn_and_join").Call(ctx); err != nil {
		t.Fatalf("call to spawn_and_join failed: %v", err)
	}
	r.wg.Wait()

	events := r.recorder.Snapshot()
	var sawFork, sawJoin bool
	var childTID uint32

	for _, ev := range events {
		if ev.TID != callerTID {
			continue
		}
		if ev.Op.Kind.String() == "fork" {
			sawFork = true
			childTID = ev.Op.ChildTID
		}
		if ev.Op.Kind.String() == "join" {
			sawJoin = true
			if ev.Op.ChildTID != childTID {
				t.Errorf("join child_tid %d does not match fork child_tid %d", ev.Op.ChildTID, childTID)
			}
		}
	}

	if !sawFork {
		t.Error("expected a Fork event on the calling thread")
	}
	if !sawJoin {
		t.Error("expected a Join event on the calling thread")
	}

	if err := r.trapError(); err != nil {
		t.Errorf("expected no trap error, got %v", err)
	}
}

func TestThreadCreateRefusedAtMaxThreads(t *testing.T) {
	r := newTestRuntime(t, false)
	r.cfg.MaxThreads = 1
	_, _, _ = instantiateAs(t, r) // occupies the one allowed slot

	stack := []uint64{0, 0}
	r.hostThreadCreate(context.Background(), nil, stack)

	if stack[0] == 0 {
		t.Error("expected thread_create to fail once MaxThreads is reached")
	}
}

func TestThreadJoinUnknownThreadReturnsErrno(t *testing.T) {
	r := newTestRuntime(t, false)

	stack := []uint64{999999}
	r.hostThreadJoin(context.Background(), nil, stack)

	if stack[0] == 0 {
		t.Error("expected thread_join on an unregistered tid to fail")
	}
}

func TestPanicTerminatesSiblingInstances(t *testing.T) {
	r := newTestRuntime(t, false)
	ctx1, tid1, inst1 := instantiateAs(t, r)
	_, _, inst2 := instantiateAs(t, r)

	stack := []uint64{1}
	r.hostPanic(ctx1, inst1, stack)

	if _, err := inst2.ExportedFunction("main").Call(context.Background()); err == nil {
		t.Error("expected sibling instance to be closed after a panic")
	}

	if err := r.trapError(); err == nil {
		t.Errorf("expected a recorded trap error for tid %d", tid1)
	}
}

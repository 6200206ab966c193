package runtime

import (
	"context"
	"fmt"

	"github.com/AFKoffee/wasmgrind/abi"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/AFKoffee/wasmgrind/tmgmt"
	"github.com/AFKoffee/wasmgrind/trace"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// handlerFor returns the api.GoModuleFunc that implements a wasm_threadlink
// or wasabi import, keyed by the bare function name (the two namespaces
// never share a name).
func (r *Runtime) handlerFor(name string) api.GoModuleFunc {
	switch name {
	case abi.FuncPanic:
		return r.hostPanic
	case abi.FuncThreadCreate:
		return r.hostThreadCreate
	case abi.FuncThreadJoin:
		return r.hostThreadJoin
	case abi.FuncStartLock:
		return r.lockHook(trace.Request)
	case abi.FuncFinishLock:
		return r.lockHook(trace.Acquire)
	case abi.FuncStartUnlock:
		// Produces no trace event, but the guest still calls it
		// symmetrically with the other three lock hooks.
		return func(context.Context, api.Module, []uint64) {}
	case abi.FuncFinishUnlock:
		return r.lockHook(trace.Release)
	case abi.FuncReadHook:
		return r.memHook(trace.Read)
	case abi.FuncWriteHook:
		return r.memHook(trace.Write)
	default:
		return func(context.Context, api.Module, []uint64) {}
	}
}

func (r *Runtime) callSite(stack []uint64, argc int) trace.Location {
	if !r.cfg.Tracing {
		return trace.Location{}
	}
	return trace.Location{FuncIdx: uint32(stack[argc]), InstrIdx: uint32(stack[argc+1])}
}

// hostThreadCreate implements wasm_threadlink.thread_create: allocate a tid,
// write it to the guest's out_tid_ptr, record the emitting thread's Fork
// event, and spawn the goroutine that will run thread_start.
func (r *Runtime) hostThreadCreate(ctx context.Context, mod api.Module, stack []uint64) {
	outTidPtr := uint32(stack[0])
	start := uint32(stack[1])
	loc := r.callSite(stack, 2)
	callerTID, _ := tmgmt.CurrentThreadID(ctx)

	if r.cfg.MaxThreads > 0 && uint32(r.liveThreads()) >= r.cfg.MaxThreads {
		Logger().Warn("thread_create refused: max threads reached", zap.Uint32("caller_tid", callerTID))
		stack[0] = uint64(uint32(wasmerr.ThreadCreateFailed(fmt.Errorf("max threads (%d) reached", r.cfg.MaxThreads)).Kind.ToErrno()))
		return
	}

	tid := r.tmgmt.RegisterNew()
	if !r.memory.WriteUint32Le(outTidPtr, tid) {
		r.tmgmt.Unregister(tid)
		stack[0] = uint64(uint32(wasmerr.ThreadCreateFailed(fmt.Errorf("out_tid_ptr %#x out of bounds", outTidPtr)).Kind.ToErrno()))
		return
	}

	if r.recorder != nil {
		r.recorder.Append(callerTID, trace.Fork(tid), loc)
	}

	r.wg.Add(1)
	go r.runGuestThread(tid, start)

	stack[0] = 0
}

// runGuestThread instantiates a fresh copy of the compiled module for tid,
// runs thread_start, tears the instance down and signals the manager. It
// owns the full lifecycle of the goroutine spawned by hostThreadCreate.
func (r *Runtime) runGuestThread(tid, start uint32) {
	defer r.wg.Done()

	ctx := tmgmt.WithThreadID(context.Background(), tid)
	inst, err := r.wz.InstantiateModule(ctx, r.compiled, newAnonymousConfig())
	if err != nil {
		outcome := tmgmt.Outcome{Err: wasmerr.ThreadCreateFailed(err)}
		_ = r.tmgmt.SignalTerminated(tid, outcome)
		return
	}

	r.registerInstance(tid, inst)
	_ = r.tmgmt.SetHandle(tid, inst)

	var outcome tmgmt.Outcome
	startFn := inst.ExportedFunction(abi.ExportThreadStart)
	if startFn == nil {
		outcome.Err = wasmerr.MissingSymbol(wasmerr.PhaseGuest, abi.ExportThreadStart)
	} else if _, callErr := startFn.Call(ctx, uint64(start)); callErr != nil {
		outcome.Err = callErr
		r.recordTrap(tid, callErr)
	}

	if destroyFn := inst.ExportedFunction(abi.ExportThreadDestroy); destroyFn != nil {
		_, _ = destroyFn.Call(ctx, 0, 0, 0)
	}

	r.unregisterInstance(tid)
	_ = inst.Close(ctx)
	_ = r.tmgmt.SignalTerminated(tid, outcome)
}

// hostThreadJoin implements wasm_threadlink.thread_join: block for tid's
// termination, surface its outcome as an errno, and on success record the
// joining thread's Join event.
func (r *Runtime) hostThreadJoin(ctx context.Context, mod api.Module, stack []uint64) {
	tid := uint32(stack[0])
	loc := r.callSite(stack, 1)
	callerTID, _ := tmgmt.CurrentThreadID(ctx)

	outcome, err := r.tmgmt.Join(tid)
	if err != nil {
		stack[0] = uint64(uint32(err.(*wasmerr.Error).Kind.ToErrno()))
		return
	}
	if outcome.Err != nil {
		stack[0] = uint64(uint32(wasmerr.JoinFailed(tid, outcome.Err).Kind.ToErrno()))
		return
	}

	if r.recorder != nil {
		r.recorder.Append(callerTID, trace.Join(tid), loc)
	}
	stack[0] = 0
}

// hostPanic implements wasm_threadlink.panic: log the abort, fold it into
// the aggregate trap error, close every live sibling instance, and trap the
// panicking instance itself.
func (r *Runtime) hostPanic(ctx context.Context, mod api.Module, stack []uint64) {
	errno := wasmerr.Errno(int32(uint32(stack[0])))
	tid, _ := tmgmt.CurrentThreadID(ctx)

	Logger().Error("guest panic", zap.Uint32("tid", tid), zap.String("errno", errno.String()))
	r.recordTrap(tid, fmt.Errorf("guest panic: tid=%d errno=%s", tid, errno))
	r.terminateSiblings(ctx, uint32(errno))

	if mod != nil {
		_ = mod.CloseWithExitCode(ctx, uint32(errno))
	}
}

// lockHook builds the host handler for start_lock/finish_lock/finish_unlock:
// record op(mutex) against the calling thread at the guest's call site.
func (r *Runtime) lockHook(op func(uint32) trace.Operation) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		if r.recorder == nil {
			return
		}
		lock := uint32(stack[0])
		loc := r.callSite(stack, 1)
		tid, _ := tmgmt.CurrentThreadID(ctx)
		r.recorder.Append(tid, op(lock), loc)
	}
}

// memHook builds the host handler for wasabi.read_hook/write_hook: record
// op(addr, n) against the calling thread at the guest's call site.
func (r *Runtime) memHook(op func(addr, n uint32) trace.Operation) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		if r.recorder == nil {
			return
		}
		addr := uint32(stack[0])
		n := uint32(stack[1])
		loc := trace.Location{FuncIdx: uint32(stack[2]), InstrIdx: uint32(stack[3])}
		tid, _ := tmgmt.CurrentThreadID(ctx)
		r.recorder.Append(tid, op(addr, n), loc)
	}
}

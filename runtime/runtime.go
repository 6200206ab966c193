// Package runtime hosts multi-threaded WebAssembly binaries produced by
// Threadify and, optionally, the Instrumenter: it registers the
// wasm_threadlink/wasabi ABI (package abi) against a wazero runtime, gives
// every guest thread its own module instance over one shared memory, and
// aggregates trap errors across siblings at teardown.
//
// Grounded on engine/wazero.go's WazeroEngine (Config, per-instance
// anonymous instantiation over a shared compiled module) and
// linker/linker.go's HostModuleBuilder registration idiom, simplified: a
// flat, fixed ABI needs neither semver namespace resolution nor
// Component-Model canon lifting.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/AFKoffee/wasmgrind/abi"
	"github.com/AFKoffee/wasmgrind/binutil"
	wasmerr "github.com/AFKoffee/wasmgrind/errors"
	"github.com/AFKoffee/wasmgrind/tmgmt"
	"github.com/AFKoffee/wasmgrind/trace"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
)

// Runtime hosts one already-patched guest module (already run through
// Threadify and, in tracing mode, the Instrumenter — this package never
// invokes either itself, mirroring the Rust original's
// ThreadlinkRuntimeBuilder, which always takes final wasm bytes) across
// however many threads it spawns at runtime.
type Runtime struct {
	cfg Config

	wz       wazero.Runtime
	compiled wazero.CompiledModule
	env      api.Module
	memory   api.Memory

	tmgmt    *tmgmt.Manager
	recorder *trace.Recorder

	wg sync.WaitGroup

	mu        sync.Mutex
	instances map[uint32]api.Module
	trapErr   error
}

func newAnonymousConfig() wazero.ModuleConfig {
	// Anonymous so multiple concurrent instances of the same compiled
	// module can coexist in one runtime namespace.
	return wazero.NewModuleConfig().WithName("")
}

// New compiles wasmBytes and registers the wasm_threadlink (and, in tracing
// mode, wasabi) host imports against it. wasmBytes must already be
// Threadify-transformed and, if cfg.Tracing, Instrumenter-rewritten; New
// does not run either pass itself.
func New(ctx context.Context, wasmBytes []byte, cfg Config) (*Runtime, error) {
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
		tmgmt.SetLogger(cfg.Logger)
		trace.SetLogger(cfg.Logger)
	}

	parsed, err := binutil.Parse(wasmBytes)
	if err != nil {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseCompile, err.Error())
	}
	limits, ok := parsed.MemoryLimits()
	if !ok {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseCompile, "module declares no memory")
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	wz := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	maxPages := limits.Min
	if limits.HasMax {
		maxPages = limits.Max
	}
	envMod, err := wz.NewHostModuleBuilder(abi.EnvNamespace).
		ExportMemoryWithMax(abi.MemoryExportName, limits.Min, maxPages).
		Instantiate(ctx)
	if err != nil {
		_ = wz.Close(ctx)
		return nil, wasmerr.InvalidModule(wasmerr.PhaseCompile, "instantiate shared memory: "+err.Error())
	}

	r := &Runtime{
		cfg:       cfg,
		wz:        wz,
		env:       envMod,
		memory:    envMod.ExportedMemory(abi.MemoryExportName),
		tmgmt:     tmgmt.NewManager(),
		instances: make(map[uint32]api.Module),
	}
	if cfg.Tracing {
		r.recorder = trace.NewRecorder()
	}

	if err := r.registerABI(ctx); err != nil {
		_ = wz.Close(ctx)
		return nil, err
	}

	compiled, err := wz.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = wz.Close(ctx)
		return nil, wasmerr.InvalidModule(wasmerr.PhaseCompile, err.Error())
	}
	r.compiled = compiled

	return r, nil
}

// registerABI builds one host module per distinct ABI namespace
// (wasm_threadlink, and wasabi in tracing mode) and exports every function
// abi.CoreFuncs lists under it.
func (r *Runtime) registerABI(ctx context.Context) error {
	byNamespace := make(map[string][]abi.FuncDef)
	var order []string
	for _, def := range abi.CoreFuncs(r.cfg.Tracing) {
		if _, seen := byNamespace[def.Namespace]; !seen {
			order = append(order, def.Namespace)
		}
		byNamespace[def.Namespace] = append(byNamespace[def.Namespace], def)
	}

	for _, namespace := range order {
		builder := r.wz.NewHostModuleBuilder(namespace)
		for _, def := range byNamespace[namespace] {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(r.handlerFor(def.Name)), def.Params, def.Results).
				Export(def.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return wasmerr.InvalidModule(wasmerr.PhaseCompile, "register "+namespace+": "+err.Error())
		}
	}
	return nil
}

// Run instantiates the module's main-thread copy, binds the main tid, calls
// funcName with args, and returns whatever trap error accumulated across
// every thread — including ones spawned and joined during the call.
func (r *Runtime) Run(ctx context.Context, funcName string, args ...uint64) ([]uint64, error) {
	tid, err := r.tmgmt.BindMainThread()
	if err != nil {
		return nil, err
	}
	ctx = tmgmt.WithThreadID(ctx, tid)

	inst, err := r.wz.InstantiateModule(ctx, r.compiled, newAnonymousConfig())
	if err != nil {
		return nil, wasmerr.InvalidModule(wasmerr.PhaseHost, err.Error())
	}
	r.registerInstance(tid, inst)
	_ = r.tmgmt.SetHandle(tid, inst)

	fn := inst.ExportedFunction(funcName)
	if fn == nil {
		r.unregisterInstance(tid)
		_ = inst.Close(ctx)
		return nil, wasmerr.MissingSymbol(wasmerr.PhaseGuest, funcName)
	}

	results, callErr := fn.Call(ctx, args...)
	if callErr != nil {
		r.recordTrap(tid, callErr)
	}

	r.unregisterInstance(tid)
	_ = inst.Close(ctx)
	_ = r.tmgmt.SignalTerminated(tid, tmgmt.Outcome{Err: callErr})

	r.wg.Wait()

	return results, r.trapError()
}

// Trace returns the recorder receiving lock/memory/fork/join events, or nil
// when the runtime was built without tracing.
func (r *Runtime) Trace() *trace.Recorder {
	return r.recorder
}

// Close releases the compiled module and the underlying wazero runtime,
// tearing down every remaining instance.
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	if r.compiled != nil {
		err = multierr.Append(err, r.compiled.Close(ctx))
	}
	err = multierr.Append(err, r.wz.Close(ctx))
	return err
}

func (r *Runtime) liveThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *Runtime) registerInstance(tid uint32, mod api.Module) {
	r.mu.Lock()
	r.instances[tid] = mod
	r.mu.Unlock()
}

func (r *Runtime) unregisterInstance(tid uint32) {
	r.mu.Lock()
	delete(r.instances, tid)
	r.mu.Unlock()
}

// recordTrap folds err into the aggregate trap error under tid's name:
// concurrent sibling trap errors are collected rather than discarded down
// to one.
func (r *Runtime) recordTrap(tid uint32, err error) {
	r.mu.Lock()
	r.trapErr = multierr.Append(r.trapErr, fmt.Errorf("tid %d trapped: %w", tid, err))
	r.mu.Unlock()
}

func (r *Runtime) trapError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trapErr
}

// terminateSiblings closes every live guest instance with exitCode,
// implementing the "one guest traps, the whole run tears down" policy.
// Grounded on linker/instance.go's trapHandler, which closes the trapping
// module itself the same way from inside a host function.
func (r *Runtime) terminateSiblings(ctx context.Context, exitCode uint32) {
	r.mu.Lock()
	insts := make([]api.Module, 0, len(r.instances))
	for _, m := range r.instances {
		insts = append(insts, m)
	}
	r.mu.Unlock()

	for _, m := range insts {
		_ = m.CloseWithExitCode(ctx, exitCode)
	}
}

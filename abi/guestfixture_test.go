package abi

import (
	"testing"

	"github.com/AFKoffee/wasmgrind/binutil"
)

func TestBuildGuestFixtureRoundTrips(t *testing.T) {
	for _, tracing := range []bool{false, true} {
		fx := BuildGuestFixture(FixtureOptions{Tracing: tracing})

		encoded := fx.Module.Encode()
		parsed, err := binutil.Parse(encoded)
		if err != nil {
			t.Fatalf("tracing=%v: failed to re-parse fixture: %v", tracing, err)
		}

		lim, ok := parsed.MemoryLimits()
		if !ok || !lim.Shared || !lim.HasMax {
			t.Fatalf("tracing=%v: expected a shared, bounded memory import, got %+v ok=%v", tracing, lim, ok)
		}

		for _, name := range []string{ExportThreadStart, ExportMalloc, ExportFree, ExportThreadDestroy, "main", "spawn_and_join"} {
			if _, ok := parsed.FindExport(name); !ok {
				t.Errorf("tracing=%v: expected export %q", tracing, name)
			}
		}

		if _, ok := parsed.FindImportFunc(Namespace, FuncThreadCreate); !ok {
			t.Errorf("tracing=%v: expected thread_create import", tracing)
		}
		if _, ok := parsed.FindImportFunc(WasabiNamespace, FuncReadHook); ok != tracing {
			t.Errorf("tracing=%v: wasabi.read_hook import presence mismatch (got %v)", tracing, ok)
		}
	}
}

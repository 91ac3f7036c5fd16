package runtimeembed

import (
	"testing"

	"gridcc/internal/meta"
	"gridcc/internal/script"
)

func TestRuntimeParses(t *testing.T) {
	src, err := script.Parse(Name, Runtime())
	if err != nil {
		t.Fatalf("builtin runtime does not parse: %v", err)
	}

	// The runtime provides definitions only; it must not add exports to
	// the scripts it links into.
	info := src.Info()
	if len(info.Kernels) != 0 || len(info.Vars) != 0 || len(info.Funcs) != 0 {
		t.Fatalf("builtin runtime declares exports: %+v", info)
	}

	for _, name := range []string{"gs_min", "gs_max", "gs_abs", "gs_clamp", "gs_mix"} {
		fn := meta.FindFunc(src.Module(), name)
		if fn == nil {
			t.Fatalf("builtin runtime missing %s", name)
		}
		if len(fn.Blocks) == 0 {
			t.Fatalf("builtin runtime only declares %s", name)
		}
	}
}

func TestRuntimeReturnsCopies(t *testing.T) {
	a := Runtime()
	a[0] = '!'
	b := Runtime()
	if b[0] == '!' {
		t.Fatal("Runtime shares its backing array")
	}
}

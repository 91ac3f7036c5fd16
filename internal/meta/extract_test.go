package meta

import (
	"strings"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
)

func parseModule(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := asm.ParseString("test.ll", src)
	if err != nil {
		t.Fatalf("parse test module: %v", err)
	}
	return m
}

const twoKernelModule = `
define i32 @scale(i32 %v, i32 %x) {
entry:
	ret i32 %v
}

define i32 @shift(i32 %v) {
entry:
	ret i32 %v
}

define void @setup(i64 %arg) {
entry:
	ret void
}

@factor = global i32 2

!gs_export_kernel_name = !{!0, !1}
!gs_export_kernel = !{!2, !3}
!gs_export_func = !{!4}
!gs_export_var = !{!5}
!gs_pragma = !{!6, !7}

!0 = !{!"scale"}
!1 = !{!"shift"}
!2 = !{!"75"}
!3 = !{!"67"}
!4 = !{!"setup"}
!5 = !{!"factor"}
!6 = !{!"version", !"1"}
!7 = !{!"tuning", !""}
`

func TestExtractEmptyModule(t *testing.T) {
	m := parseModule(t, "define void @f() {\nentry:\n\tret void\n}\n")
	inf, err := Extract(m)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(inf.Kernels) != 0 || len(inf.Funcs) != 0 || len(inf.Vars) != 0 || len(inf.Pragmas) != 0 {
		t.Fatalf("expected empty info, got %+v", inf)
	}
}

func TestExtractKernels(t *testing.T) {
	inf, err := Extract(parseModule(t, twoKernelModule))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(inf.Kernels) != 2 {
		t.Fatalf("expected 2 kernels, got %d", len(inf.Kernels))
	}

	scale := inf.Kernels[0]
	if scale.Name != "scale" {
		t.Fatalf("expected scale first, got %q", scale.Name)
	}
	if want := SigKernel | SigIn | SigOut | SigX; scale.Signature != want {
		t.Fatalf("scale signature = %v, want %v", scale.Signature, want)
	}
	if scale.InputCount != 1 {
		t.Fatalf("scale input count = %d, want 1", scale.InputCount)
	}

	shift := inf.Kernels[1]
	if want := SigKernel | SigIn | SigOut; shift.Signature != want {
		t.Fatalf("shift signature = %v, want %v", shift.Signature, want)
	}
	if shift.InputCount != 1 {
		t.Fatalf("shift input count = %d, want 1", shift.InputCount)
	}

	if len(inf.Funcs) != 1 || inf.Funcs[0] != "setup" {
		t.Fatalf("funcs = %v, want [setup]", inf.Funcs)
	}
	if len(inf.Vars) != 1 || inf.Vars[0] != "factor" {
		t.Fatalf("vars = %v, want [factor]", inf.Vars)
	}
	if len(inf.Pragmas) != 2 || inf.Pragmas[0] != (Pragma{"version", "1"}) {
		t.Fatalf("pragmas = %v", inf.Pragmas)
	}
}

func TestExtractSlotAccessors(t *testing.T) {
	inf, err := Extract(parseModule(t, twoKernelModule))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if k, ok := inf.Kernel(1); !ok || k.Name != "shift" {
		t.Fatalf("Kernel(1) = %+v, %v", k, ok)
	}
	if _, ok := inf.Kernel(2); ok {
		t.Fatalf("Kernel(2) should be absent")
	}
	if _, ok := inf.Kernel(-1); ok {
		t.Fatalf("Kernel(-1) should be absent")
	}
	if name, ok := inf.Func(0); !ok || name != "setup" {
		t.Fatalf("Func(0) = %q, %v", name, ok)
	}
}

func TestExtractRejectsListMismatch(t *testing.T) {
	src := `
define i32 @scale(i32 %v) {
entry:
	ret i32 %v
}

!gs_export_kernel_name = !{!0}
!gs_export_kernel = !{!1, !2}
!0 = !{!"scale"}
!1 = !{!"67"}
!2 = !{!"67"}
`
	if _, err := Extract(parseModule(t, src)); err == nil {
		t.Fatalf("mismatched lists should fail extraction")
	}
}

func TestExtractRejectsMissingKernelFunction(t *testing.T) {
	src := `
define void @other() {
entry:
	ret void
}

!gs_export_kernel_name = !{!0}
!gs_export_kernel = !{!1}
!0 = !{!"ghost"}
!1 = !{!"67"}
`
	_, err := Extract(parseModule(t, src))
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected missing function error, got %v", err)
	}
}

func TestExtractRejectsBadSignature(t *testing.T) {
	src := `
define i32 @scale(i32 %v) {
entry:
	ret i32 %v
}

!gs_export_kernel_name = !{!0}
!gs_export_kernel = !{!1}
!0 = !{!"scale"}
!1 = !{!"not-a-number"}
`
	if _, err := Extract(parseModule(t, src)); err == nil {
		t.Fatalf("unparsable signature should fail extraction")
	}
}

func TestRegisterKernelKeepsListsInStep(t *testing.T) {
	m := parseModule(t, twoKernelModule)
	RegisterKernel(m, "scale", SigKernel|SigIn|SigOut|SigX|SigY)
	RegisterFunc(m, "setup")
	RegisterVar(m, "factor")
	RegisterPragma(m, "fused", "yes")

	inf, err := Extract(m)
	if err != nil {
		t.Fatalf("extract after register: %v", err)
	}
	if len(inf.Kernels) != 3 {
		t.Fatalf("expected 3 kernels, got %d", len(inf.Kernels))
	}
	last := inf.Kernels[2]
	if last.Name != "scale" || last.Signature != SigKernel|SigIn|SigOut|SigX|SigY {
		t.Fatalf("registered kernel = %+v", last)
	}
	if len(inf.Funcs) != 2 || len(inf.Vars) != 2 || len(inf.Pragmas) != 3 {
		t.Fatalf("registered lists wrong: %+v", inf)
	}
}

func TestNextMetadataIDSkipsExisting(t *testing.T) {
	m := parseModule(t, twoKernelModule)
	first := NextMetadataID(m)
	if first != 8 {
		t.Fatalf("expected next id 8, got %d", first)
	}
	RegisterFunc(m, "again")
	if got := NextMetadataID(m); got != first+1 {
		t.Fatalf("expected id to advance to %d, got %d", first+1, got)
	}
}

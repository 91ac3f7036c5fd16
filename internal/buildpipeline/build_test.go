package buildpipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gridcc/internal/cache"
	"gridcc/internal/compiler"
	"gridcc/internal/script"
)

const kernelScript = `
@factor = global i32 7

define i32 @scale(i32 %v, i32 %x) {
entry:
	%r = mul i32 %v, 2
	ret i32 %r
}

define void @setup(i32 %n) {
entry:
	ret void
}

!gs_export_var = !{!0}
!gs_export_func = !{!1}
!gs_export_kernel_name = !{!2}
!gs_export_kernel = !{!3}

!0 = !{!"factor"}
!1 = !{!"setup"}
!2 = !{!"scale"}
!3 = !{!"75"}
`

const needsLibScript = `
declare void @gs_init(i32)

define i32 @scale(i32 %v, i32 %x) {
entry:
	ret i32 %v
}

!gs_export_func = !{!0}
!gs_export_kernel_name = !{!1}
!gs_export_kernel = !{!2}

!0 = !{!"gs_init"}
!1 = !{!"scale"}
!2 = !{!"75"}
`

const initLib = `
define void @gs_init(i32 %n) {
entry:
	ret void
}
`

// collectSink records events; Build runs jobs in parallel.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) OnEvent(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *collectSink) find(script string, stage Stage, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Script == script && e.Stage == stage && e.Status == status {
			return true
		}
	}
	return false
}

var testWindow uintptr = 0x7a000000

func testEnv(t *testing.T, cacheDir string) *compiler.Environment {
	t.Helper()
	geo := cache.Geometry{Base: testWindow, Slots: 2, CodeMax: 64 << 10, DataMax: 16 << 10}
	span := uintptr(geo.Slots * geo.SlotSize())
	testWindow += (span+0xfff)&^uintptr(0xfff) + 1<<20
	return compiler.NewEnvironment(compiler.Config{CacheDir: cacheDir, Slots: geo}, nil, nil)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func skipIfNoWindow(t *testing.T, err error) {
	t.Helper()
	if err != nil && (strings.Contains(err.Error(), "map slot") || strings.Contains(err.Error(), "landed at")) {
		t.Skipf("fixed-address mapping unavailable: %v", err)
	}
}

func TestCompileScriptStages(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "app.ll", kernelScript)
	sink := &collectSink{}

	res, err := CompileScript(context.Background(), &CompileRequest{
		ScriptPath: path,
		Env:        testEnv(t, ""),
		NoCache:    true,
		Progress:   sink,
	})
	skipIfNoWindow(t, err)
	if err != nil {
		t.Fatalf("compile script: %v", err)
	}
	defer res.Compiler.Close()

	if res.CacheHit {
		t.Fatalf("cache hit without a cache")
	}
	if res.Compiler.State() != compiler.StateReady {
		t.Fatalf("compiler state = %v", res.Compiler.State())
	}
	for _, stage := range []Stage{StageRead, StageCodegen} {
		if !res.Timings.Has(stage) {
			t.Fatalf("missing timing for %s", stage)
		}
		if !sink.find("app.ll", stage, StatusWorking) || !sink.find("app.ll", stage, StatusDone) {
			t.Fatalf("missing %s events", stage)
		}
	}
	if sink.find("app.ll", StageLink, StatusWorking) {
		t.Fatalf("link stage emitted without libraries")
	}
	if res.Timings.Has(StageCache) {
		t.Fatalf("cache stage timed with NoCache")
	}
}

func TestCompileScriptLinksLibraries(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "app.ll", needsLibScript)
	lib := writeScript(t, dir, "rt.ll", initLib)
	sink := &collectSink{}

	res, err := CompileScript(context.Background(), &CompileRequest{
		ScriptPath: path,
		RuntimeLib: lib,
		Env:        testEnv(t, ""),
		NoCache:    true,
		Progress:   sink,
	})
	skipIfNoWindow(t, err)
	if err != nil {
		t.Fatalf("compile script: %v", err)
	}
	defer res.Compiler.Close()

	if !sink.find("app.ll", StageLink, StatusDone) {
		t.Fatalf("link stage not reported")
	}
	if !res.Compiler.HasLinked() {
		t.Fatalf("compiler not marked linked")
	}
	if res.Compiler.Lookup("gs_init") == 0 {
		t.Fatalf("linked function missing from image")
	}
}

func TestCompileScriptRejectsUndefinedExport(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "app.ll", needsLibScript)
	sink := &collectSink{}

	_, err := CompileScript(context.Background(), &CompileRequest{
		ScriptPath: path,
		Env:        testEnv(t, ""),
		NoCache:    true,
		Progress:   sink,
	})
	if err == nil || !strings.Contains(err.Error(), "undefined") {
		t.Fatalf("expected undefined-export error, got %v", err)
	}
	if !sink.find("app.ll", StageRead, StatusError) {
		t.Fatalf("error not attributed to the read stage")
	}
}

func TestUndefinedExports(t *testing.T) {
	src, err := script.Parse("app.ll", []byte(needsLibScript))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	missing := UndefinedExports(src)
	if len(missing) != 1 || missing[0] != "gs_init" {
		t.Fatalf("missing = %v, want [gs_init]", missing)
	}

	whole, err := script.Parse("whole.ll", []byte(kernelScript))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := UndefinedExports(whole); len(got) != 0 {
		t.Fatalf("fully defined script reported %v", got)
	}
}

func TestCollectScripts(t *testing.T) {
	dir := t.TempDir()
	a := writeScript(t, dir, "a.ll", kernelScript)
	b := writeScript(t, dir, "b.ll", kernelScript)
	writeScript(t, dir, "notes.txt", "not a script")

	got, err := CollectScripts([]string{dir, a})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 || got[0] != filepath.Clean(a) || got[1] != filepath.Clean(b) {
		t.Fatalf("scripts = %v, want [%s %s]", got, a, b)
	}

	if _, err := CollectScripts([]string{filepath.Join(dir, "absent.ll")}); err == nil {
		t.Fatalf("missing target accepted")
	}
	empty := t.TempDir()
	if _, err := CollectScripts([]string{empty}); err == nil {
		t.Fatalf("empty directory accepted")
	}
	if _, err := CollectScripts(nil); err == nil {
		t.Fatalf("no targets accepted")
	}
}

func TestDisplayName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernels", "app.ll")
	if got := DisplayName(path, dir); got != "kernels/app.ll" {
		t.Fatalf("display name = %q, want kernels/app.ll", got)
	}
	if got := DisplayName("app.ll", ""); got != "app.ll" {
		t.Fatalf("display name = %q, want app.ll", got)
	}
}

func TestBuildWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "imaging.ll", kernelScript)
	out := t.TempDir()
	sink := &collectSink{}

	result, err := Build(context.Background(), &BuildRequest{
		Targets:    []string{dir},
		Env:        testEnv(t, ""),
		BaseDir:    dir,
		OutputRoot: out,
		NoCache:    true,
		Jobs:       1,
		Progress:   sink,
	})
	skipIfNoWindow(t, err)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(result.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(result.Outcomes))
	}
	oc := result.Outcomes[0]
	if oc.Script != "imaging.ll" || oc.Err != nil {
		t.Fatalf("outcome = %+v", oc)
	}
	want := filepath.Join(out, "target", "debug", "imaging.gkc")
	if oc.OutputPath != want {
		t.Fatalf("output path = %q, want %q", oc.OutputPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if oc.Kernels != 1 {
		t.Fatalf("kernel count = %d, want 1", oc.Kernels)
	}
	if !result.Timings.Has(StageWrite) {
		t.Fatalf("aggregate timings missing write stage")
	}
	if !sink.find("imaging.ll", StageRead, StatusQueued) {
		t.Fatalf("script never queued")
	}
	if !sink.find("", StageWrite, StatusDone) {
		t.Fatalf("overall completion event missing")
	}
}

func TestBuildEmitsLinkedIR(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "app.ll", needsLibScript)
	lib := writeScript(t, dir, "rt.ll", initLib)
	out := t.TempDir()

	// rt.ll sits next to app.ll; target only the script file so the
	// library is not built on its own.
	result, err := Build(context.Background(), &BuildRequest{
		Targets:    []string{filepath.Join(dir, "app.ll")},
		RuntimeLib: lib,
		Env:        testEnv(t, ""),
		OutputRoot: out,
		EmitIR:     true,
		NoCache:    true,
		Jobs:       1,
	})
	skipIfNoWindow(t, err)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("outcomes = %d", len(result.Outcomes))
	}

	irPath := filepath.Join(out, "target", "debug", ".tmp", "app.linked.ll")
	data, err := os.ReadFile(irPath)
	if err != nil {
		t.Fatalf("linked IR missing: %v", err)
	}
	if !strings.Contains(string(data), "define void @gs_init") {
		t.Fatalf("linked IR lacks the library definition")
	}
}

func TestBuildReportsScriptFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.ll", "define garbage")
	out := t.TempDir()
	sink := &collectSink{}

	_, err := Build(context.Background(), &BuildRequest{
		Targets:    []string{filepath.Join(dir, "bad.ll")},
		Env:        testEnv(t, ""),
		OutputRoot: out,
		NoCache:    true,
		Jobs:       1,
		Progress:   sink,
	})
	if err == nil {
		t.Fatalf("expected build failure")
	}
	if !sink.find("bad.ll", StageRead, StatusError) {
		t.Fatalf("read failure not reported")
	}
	if !sink.find("", StageWrite, StatusError) {
		t.Fatalf("overall failure event missing")
	}
}

func TestBuildUsesCacheOnSecondRun(t *testing.T) {
	if !cache.SlotsSupported() {
		t.Skip("fixed slots unsupported on this platform")
	}
	dir := t.TempDir()
	writeScript(t, dir, "app.ll", kernelScript)
	out := t.TempDir()
	env := testEnv(t, filepath.Join(out, "cache"))

	first, err := Build(context.Background(), &BuildRequest{
		Targets:    []string{dir},
		Env:        env,
		OutputRoot: out,
		Jobs:       1,
	})
	skipIfNoWindow(t, err)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if first.Outcomes[0].CacheHit {
		t.Fatalf("first build hit the cache")
	}

	second, err := Build(context.Background(), &BuildRequest{
		Targets:    []string{dir},
		Env:        env,
		OutputRoot: out,
		Jobs:       1,
	})
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !second.Outcomes[0].CacheHit {
		t.Fatalf("second build missed the cache")
	}
	if second.Timings.Has(StageCodegen) {
		t.Fatalf("cache hit still ran codegen")
	}
}

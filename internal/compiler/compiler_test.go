package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gridcc/internal/cache"
	"gridcc/internal/meta"
)

const computeScript = `
@factor = global i32 7
@bias = global i32 3

define i32 @scale(i32 %v, i32 %x) {
entry:
	%r = mul i32 %v, 2
	ret i32 %r
}

define void @setup(i32 %n) {
entry:
	ret void
}

declare i32 @gs_clamp(i32)

!gs_export_var = !{!0, !1}
!gs_export_func = !{!2}
!gs_export_kernel_name = !{!3}
!gs_export_kernel = !{!4}
!gs_pragma = !{!5, !6}

!0 = !{!"factor"}
!1 = !{!"bias"}
!2 = !{!"setup"}
!3 = !{!"scale"}
!4 = !{!"75"}
!5 = !{!"version", !"1"}
!6 = !{!"pipeline", !"compute"}
`

const runtimeLib = `
define i32 @gs_clamp(i32 %v) {
entry:
	ret i32 %v
}
`

// Each environment gets its own address window so tests never contend
// for the same fixed slots within the process.
var testWindow uintptr = 0x7b000000

func testGeometry(slots, codeMax, dataMax int) cache.Geometry {
	g := cache.Geometry{Base: testWindow, Slots: slots, CodeMax: codeMax, DataMax: dataMax}
	span := uintptr(slots * (codeMax + dataMax))
	testWindow += (span+0xfff)&^uintptr(0xfff) + 1<<20
	return g
}

func testEnv(t *testing.T, cacheDir string, slots int) *Environment {
	t.Helper()
	return NewEnvironment(Config{
		CacheDir: cacheDir,
		Slots:    testGeometry(slots, 64<<10, 16<<10),
	}, nil, nil)
}

func loaded(t *testing.T, env *Environment, name string) *Compiler {
	t.Helper()
	c := New(env, name)
	if err := c.LoadBitcode([]byte(computeScript)); err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return c
}

func mustCompile(t *testing.T, c *Compiler) {
	t.Helper()
	if err := c.Compile(); err != nil {
		if strings.Contains(err.Error(), "map slot") || strings.Contains(err.Error(), "landed at") {
			t.Skipf("fixed-address mapping unavailable: %v", err)
		}
		t.Fatalf("compile %s: %v", c.Name(), err)
	}
}

func TestPipelineStateOrdering(t *testing.T) {
	env := testEnv(t, "", 2)
	c := New(env, "order.ll")
	defer c.Close()

	if err := c.Compile(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("compile before load: %v, want ErrInvalidState", err)
	}
	if err := c.LinkBitcode("rt", []byte(runtimeLib)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("link before load: %v, want ErrInvalidState", err)
	}
	if _, err := c.LoadCache(cache.Deps{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cache probe before load: %v, want ErrInvalidState", err)
	}
	if got := c.Lookup("scale"); got != 0 {
		t.Fatalf("lookup before ready = %#x, want 0", got)
	}

	if err := c.LoadBitcode([]byte(computeScript)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.State() != StateLoaded {
		t.Fatalf("state after load = %v, want loaded", c.State())
	}
	if err := c.LoadBitcode([]byte(computeScript)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second load: %v, want ErrInvalidState", err)
	}

	mustCompile(t, c)
	if c.State() != StateReady {
		t.Fatalf("state after compile = %v, want ready", c.State())
	}
	if err := c.Compile(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second compile: %v, want ErrInvalidState", err)
	}
	if err := c.LinkBitcode("rt", []byte(runtimeLib)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("link after compile: %v, want ErrInvalidState", err)
	}
}

func TestCompileBindsExportTables(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "tables.ll")
	defer c.Close()
	mustCompile(t, c)

	vars := make([]uintptr, 4)
	if n := c.ExportVars(vars); n != 2 {
		t.Fatalf("export var count = %d, want 2", n)
	}
	if vars[0] == 0 || vars[1] == 0 {
		t.Fatalf("export vars not bound: %#x %#x", vars[0], vars[1])
	}
	if vars[0] == vars[1] {
		t.Fatalf("factor and bias share address %#x", vars[0])
	}

	funcs := make([]uintptr, 4)
	if n := c.ExportFuncs(funcs); n != 1 {
		t.Fatalf("export func count = %d, want 1", n)
	}
	if funcs[0] != c.Lookup("setup") {
		t.Fatalf("export func %#x != lookup %#x", funcs[0], c.Lookup("setup"))
	}

	pragmas := make([]meta.Pragma, 4)
	if n := c.Pragmas(pragmas); n != 2 {
		t.Fatalf("pragma count = %d, want 2", n)
	}
	if pragmas[0].Key != "version" || pragmas[0].Value != "1" {
		t.Fatalf("pragma[0] = %+v", pragmas[0])
	}

	names := make([]string, 4)
	if n := c.Functions(names); n != 2 {
		t.Fatalf("function count = %d, want 2", n)
	}
	if names[0] != "scale" || names[1] != "setup" {
		t.Fatalf("functions = %v, want [scale setup]", names[:2])
	}

	addr, size, ok := c.FunctionBinary("scale")
	if !ok || addr == 0 || size == 0 {
		t.Fatalf("FunctionBinary(scale) = %#x %d %v", addr, size, ok)
	}
	if _, _, ok := c.FunctionBinary("factor"); ok {
		t.Fatalf("FunctionBinary bound a variable")
	}
	if _, _, ok := c.FunctionBinary("gs_clamp"); ok {
		t.Fatalf("FunctionBinary bound a declaration")
	}
}

func TestBoundedAccessorsTruncate(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "bounds.ll")
	defer c.Close()
	mustCompile(t, c)

	short := make([]uintptr, 1)
	if n := c.ExportVars(short); n != 2 {
		t.Fatalf("count with short dst = %d, want 2", n)
	}
	if short[0] == 0 {
		t.Fatalf("short dst not filled")
	}
	if n := c.ExportVars(nil); n != 2 {
		t.Fatalf("count with nil dst = %d, want 2", n)
	}
}

func TestLookupConsultsResolver(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "resolve.ll")
	defer c.Close()
	mustCompile(t, c)

	if got := c.Lookup("gs_host_hook"); got != 0 {
		t.Fatalf("unresolved lookup = %#x, want 0", got)
	}
	c.RegisterSymbolCallback(func(name string) uintptr {
		if name == "gs_host_hook" {
			return 0x1000
		}
		return 0
	})
	if got := c.Lookup("gs_host_hook"); got != 0x1000 {
		t.Fatalf("resolver lookup = %#x, want 0x1000", got)
	}
	if c.Lookup("scale") == 0x1000 {
		t.Fatalf("resolver shadowed an image symbol")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	if !cache.SlotsSupported() {
		t.Skip("fixed slots unsupported on this platform")
	}
	dir := t.TempDir()
	env := testEnv(t, dir, 2)
	deps := cache.Deps{Source: 100, Runtime: 200, Compiler: 300}

	first := loaded(t, env, "round.ll")
	if hit, err := first.LoadCache(deps); err != nil || hit {
		t.Fatalf("first probe = %v, %v, want miss", hit, err)
	}
	mustCompile(t, first)
	if first.CacheHit() {
		t.Fatalf("fresh compile reported a cache hit")
	}

	path := cache.Path(dir, "round.ll", false)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("compile after miss did not write %s: %v", path, err)
	}

	wantVars := make([]uintptr, 2)
	first.ExportVars(wantVars)
	wantScale := first.Lookup("scale")
	first.Close()

	second := loaded(t, env, "round.ll")
	hit, err := second.LoadCache(deps)
	if err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if !hit || !second.CacheHit() {
		t.Fatalf("expected cache hit, got hit=%v CacheHit=%v", hit, second.CacheHit())
	}
	defer second.Close()

	// The first compiler released slot 0, so the cached image loads at
	// the same addresses and the tables must match exactly.
	gotVars := make([]uintptr, 2)
	if n := second.ExportVars(gotVars); n != 2 {
		t.Fatalf("cached export var count = %d, want 2", n)
	}
	if gotVars[0] != wantVars[0] || gotVars[1] != wantVars[1] {
		t.Fatalf("cached vars %#x, compiled vars %#x", gotVars, wantVars)
	}
	if got := second.Lookup("scale"); got != wantScale {
		t.Fatalf("cached scale = %#x, compiled %#x", got, wantScale)
	}
	pragmas := make([]meta.Pragma, 2)
	if n := second.Pragmas(pragmas); n != 2 || pragmas[1].Key != "pipeline" {
		t.Fatalf("cached pragmas = %d %+v", n, pragmas)
	}
	if err := second.Compile(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("compile after cache hit: %v, want ErrInvalidState", err)
	}
}

func TestStaleCacheMisses(t *testing.T) {
	if !cache.SlotsSupported() {
		t.Skip("fixed slots unsupported on this platform")
	}
	dir := t.TempDir()
	env := testEnv(t, dir, 2)
	deps := cache.Deps{Source: 100}

	first := loaded(t, env, "stale.ll")
	if _, err := first.LoadCache(deps); err != nil {
		t.Fatalf("probe: %v", err)
	}
	mustCompile(t, first)
	first.Close()

	second := loaded(t, env, "stale.ll")
	defer second.Close()
	hit, err := second.LoadCache(cache.Deps{Source: 101})
	if err != nil {
		t.Fatalf("stale probe: %v", err)
	}
	if hit {
		t.Fatalf("stale source timestamp still hit the cache")
	}
	if second.State() != StateLoaded {
		t.Fatalf("miss moved state to %v, want loaded", second.State())
	}
}

func TestLinkedScriptGetsOwnCacheKey(t *testing.T) {
	if !cache.SlotsSupported() {
		t.Skip("fixed slots unsupported on this platform")
	}
	dir := t.TempDir()
	env := testEnv(t, dir, 2)
	deps := cache.Deps{Source: 7}

	c := loaded(t, env, "linked.ll")
	defer c.Close()
	if err := c.LinkBitcode("rt.bc", []byte(runtimeLib)); err != nil {
		t.Fatalf("link: %v", err)
	}
	if !c.HasLinked() {
		t.Fatalf("HasLinked = false after LinkBitcode")
	}
	if _, err := c.LoadCache(deps); err != nil {
		t.Fatalf("probe: %v", err)
	}
	mustCompile(t, c)

	if _, err := os.Stat(cache.Path(dir, "linked.ll", true)); err != nil {
		t.Fatalf("linked cache file missing: %v", err)
	}
	if _, err := os.Stat(cache.Path(dir, "linked.ll", false)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unlinked cache key written for linked script: %v", err)
	}
}

func TestLinkResolvesDeclaration(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "linkdef.ll")
	defer c.Close()
	if err := c.LinkBitcode("rt.bc", []byte(runtimeLib)); err != nil {
		t.Fatalf("link: %v", err)
	}
	mustCompile(t, c)

	// gs_clamp was a declaration in the script; the library supplied its
	// body, so it compiles into the image.
	if c.Lookup("gs_clamp") == 0 {
		t.Fatalf("linked function not in image")
	}
	names := make([]string, 8)
	n := c.Functions(names)
	joined := strings.Join(names[:n], " ")
	if !strings.Contains(joined, "gs_clamp") {
		t.Fatalf("functions = %q, want gs_clamp present", joined)
	}
}

func TestCompileRejectsOversizedImage(t *testing.T) {
	env := NewEnvironment(Config{
		Slots: testGeometry(1, 16, 16),
	}, nil, nil)
	c := loaded(t, env, "big.ll")
	defer c.Close()

	err := c.Compile()
	if !errors.Is(err, cache.ErrImageTooLarge) {
		t.Fatalf("compile into 16-byte slot: %v, want ErrImageTooLarge", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	if msg := c.ErrorMessage(); !strings.Contains(msg, "exceed") {
		t.Fatalf("retained error = %q", msg)
	}
	// The guard rejects follow-up calls without clobbering the retained
	// message.
	if err := c.Compile(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("compile in failed state: %v", err)
	}
	if msg := c.ErrorMessage(); !strings.Contains(msg, "exceed") {
		t.Fatalf("retained error lost: %q", msg)
	}
}

func TestSlotExhaustion(t *testing.T) {
	if !cache.SlotsSupported() {
		t.Skip("fixed slots unsupported on this platform")
	}
	env := testEnv(t, "", 1)

	first := loaded(t, env, "one.ll")
	defer first.Close()
	mustCompile(t, first)

	second := loaded(t, env, "two.ll")
	defer second.Close()
	if err := second.Compile(); !errors.Is(err, cache.ErrNoFreeSlot) {
		t.Fatalf("compile with full table: %v, want ErrNoFreeSlot", err)
	}

	// The loaded script keeps working.
	if first.Lookup("scale") == 0 {
		t.Fatalf("resident image lost its symbols")
	}

	first.Close()
	third := loaded(t, env, "three.ll")
	defer third.Close()
	mustCompile(t, third)
	if third.Lookup("scale") == 0 {
		t.Fatalf("slot not reusable after close")
	}
}

func TestCloseIdempotent(t *testing.T) {
	env := testEnv(t, "", 1)
	c := loaded(t, env, "close.ll")
	mustCompile(t, c)

	if cache.SlotsSupported() && env.Slots().Free() != 0 {
		t.Fatalf("slot not taken while ready")
	}
	c.Close()
	c.Close()
	if c.State() != StateClosed {
		t.Fatalf("state after close = %v", c.State())
	}
	if got := c.Lookup("scale"); got != 0 {
		t.Fatalf("lookup after close = %#x, want 0", got)
	}
	if n := c.ExportVars(make([]uintptr, 2)); n != 0 {
		t.Fatalf("export vars after close = %d, want 0", n)
	}
	if env.Slots().Free() != 1 {
		t.Fatalf("slot not released by close")
	}
}

func TestBadAssemblyFailsLoad(t *testing.T) {
	env := testEnv(t, "", 1)
	c := New(env, "bad.ll")
	defer c.Close()

	if err := c.LoadBitcode([]byte("define garbage")); err == nil {
		t.Fatalf("expected parse error")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	if c.ErrorMessage() == "" {
		t.Fatalf("no retained error message")
	}
}

func TestWriteImageArtifact(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "artifact.ll")
	defer c.Close()

	out := filepath.Join(t.TempDir(), "artifact.gkc")
	deps := cache.Deps{Source: 42}
	if err := c.WriteImage(out, deps); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("write before ready: %v, want ErrInvalidState", err)
	}
	mustCompile(t, c)
	if err := c.WriteImage(out, deps); err != nil {
		t.Fatalf("write image: %v", err)
	}

	f, miss, err := cache.Load(out, deps)
	if err != nil || miss != cache.MissNone {
		t.Fatalf("reload artifact = %v, %v", miss, err)
	}
	if len(f.Record.ExportVars) != 2 || len(f.Record.ExportFuncs) != 1 {
		t.Fatalf("artifact tables = %d vars, %d funcs", len(f.Record.ExportVars), len(f.Record.ExportFuncs))
	}
	if len(f.Code) == 0 {
		t.Fatalf("artifact has no code segment")
	}
}

func TestCacheDisabledWithoutDir(t *testing.T) {
	env := testEnv(t, "", 2)
	c := loaded(t, env, "nodir.ll")
	defer c.Close()

	hit, err := c.LoadCache(cache.Deps{Source: 1})
	if err != nil || hit {
		t.Fatalf("probe without cache dir = %v, %v, want miss", hit, err)
	}
	mustCompile(t, c)
	if c.Lookup("scale") == 0 {
		t.Fatalf("compile without cache dir failed to bind")
	}
}

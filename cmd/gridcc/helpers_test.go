package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseChainRef(t *testing.T) {
	cases := []struct {
		input    string
		wantPath string
		wantSlot int
	}{
		{"app.ll:0", "app.ll", 0},
		{"kernels/blur.ll:2", filepath.Join("kernels", "blur.ll"), 2},
		{"dir.v2/x.ll:10", filepath.Join("dir.v2", "x.ll"), 10},
	}
	for _, tc := range cases {
		got, err := parseChainRef(tc.input)
		if err != nil {
			t.Fatalf("parseChainRef(%q) error: %v", tc.input, err)
		}
		if got.path != tc.wantPath || got.slot != tc.wantSlot {
			t.Fatalf("parseChainRef(%q) = %q:%d, want %q:%d", tc.input, got.path, got.slot, tc.wantPath, tc.wantSlot)
		}
	}

	for _, bad := range []string{"app.ll", "app.ll:", ":0", "app.ll:-1", "app.ll:x"} {
		if _, err := parseChainRef(bad); err == nil {
			t.Fatalf("parseChainRef(%q) expected error", bad)
		}
	}
}

func TestParseRenameSpec(t *testing.T) {
	ref, name, err := parseRenameSpec("app.ll:1=root_setup")
	if err != nil {
		t.Fatalf("parseRenameSpec error: %v", err)
	}
	if ref.path != "app.ll" || ref.slot != 1 || name != "root_setup" {
		t.Fatalf("parseRenameSpec = %q:%d=%q", ref.path, ref.slot, name)
	}

	for _, bad := range []string{"app.ll:1", "app.ll=name", "=name", "app.ll:1="} {
		if _, _, err := parseRenameSpec(bad); err == nil {
			t.Fatalf("parseRenameSpec(%q) expected error", bad)
		}
	}
}

func TestReadUIMode(t *testing.T) {
	cases := []struct {
		input string
		want  uiMode
	}{
		{"", uiModeAuto},
		{"auto", uiModeAuto},
		{"ON", uiModeOn},
		{" off ", uiModeOff},
	}
	for _, tc := range cases {
		got, err := readUIMode(tc.input)
		if err != nil {
			t.Fatalf("readUIMode(%q) error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("readUIMode(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
	if _, err := readUIMode("fancy"); err == nil {
		t.Fatalf("readUIMode(fancy) expected error")
	}
}

func TestFormatPathForOutput(t *testing.T) {
	root := filepath.Join("/work", "proj")
	inside := filepath.Join(root, "target", "debug", "app.gkc")
	if got := formatPathForOutput(root, inside); got != "target/debug/app.gkc" {
		t.Fatalf("formatPathForOutput inside = %q", got)
	}
	outside := filepath.Join("/elsewhere", "x.gkc")
	if got := formatPathForOutput(root, outside); got != outside {
		t.Fatalf("formatPathForOutput outside = %q", got)
	}
	if got := formatPathForOutput("", inside); got != inside {
		t.Fatalf("formatPathForOutput empty root = %q", got)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gridcc.toml")
	data := `# test manifest
[package]
name = "demo"

[build]
scripts = ["kernels", "extra/blend.ll"]

[target]
triple = "aarch64-unknown-linux-gnu"
opt = "2"

[cache]
dir = ".cache"
slots = 3

[libs]
runtime = "lib/runtime.ll"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write gridcc.toml: %v", err)
	}
	cfg, err := loadProjectConfig(path)
	if err != nil {
		t.Fatalf("loadProjectConfig: %v", err)
	}
	if cfg.Package.Name != "demo" {
		t.Fatalf("package name = %q", cfg.Package.Name)
	}
	if len(cfg.Build.Scripts) != 2 || cfg.Build.Scripts[0] != "kernels" {
		t.Fatalf("build scripts = %v", cfg.Build.Scripts)
	}
	if cfg.Target.Triple != "aarch64-unknown-linux-gnu" || cfg.Target.Opt != "2" {
		t.Fatalf("target = %+v", cfg.Target)
	}
	if cfg.Cache.Dir != ".cache" || cfg.Cache.Slots != 3 {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Libs.Runtime != "lib/runtime.ll" {
		t.Fatalf("libs = %+v", cfg.Libs)
	}
}

func TestLoadProjectConfigRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"missing package", "[build]\nscripts = [\"kernels\"]\n", "missing [package]"},
		{"missing name", "[package]\nversion = \"0.1.0\"\n", "missing [package].name"},
		{"bad opt", "[package]\nname = \"demo\"\n\n[target]\nopt = \"9\"\n", "[target].opt"},
		{"negative slots", "[package]\nname = \"demo\"\n\n[cache]\nslots = -1\n", "[cache].slots"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "gridcc.toml")
		if err := os.WriteFile(path, []byte(tc.data), 0o600); err != nil {
			t.Fatalf("%s: write: %v", tc.name, err)
		}
		_, err := loadProjectConfig(path)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestResolveManifestScripts(t *testing.T) {
	manifest := &projectManifest{
		Path: filepath.Join("/proj", "gridcc.toml"),
		Root: "/proj",
		Config: projectConfig{
			Build: buildConfig{Scripts: []string{"kernels", "extra/blend.ll"}},
		},
	}
	targets, err := resolveManifestScripts(manifest)
	if err != nil {
		t.Fatalf("resolveManifestScripts: %v", err)
	}
	want := []string{filepath.Join("/proj", "kernels"), filepath.Join("/proj", "extra", "blend.ll")}
	if len(targets) != len(want) {
		t.Fatalf("targets = %v, want %v", targets, want)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("targets[%d] = %q, want %q", i, targets[i], want[i])
		}
	}

	manifest.Config.Build.Scripts = nil
	if _, err := resolveManifestScripts(manifest); err == nil {
		t.Fatalf("expected error for missing [build].scripts")
	}
}

func TestMaterializeBuiltinRuntime(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	path, err := materializeBuiltinRuntime(dir)
	if err != nil {
		t.Fatalf("materializeBuiltinRuntime: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) == 0 || !strings.Contains(string(data), "gs_clamp") {
		t.Fatalf("builtin runtime content looks wrong (%d bytes)", len(data))
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	again, err := materializeBuiltinRuntime(dir)
	if err != nil || again != path {
		t.Fatalf("second materialize = %q, %v", again, err)
	}
	st2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !st2.ModTime().Equal(st.ModTime()) {
		t.Fatal("unchanged builtin runtime was rewritten")
	}

	if _, err := materializeBuiltinRuntime(""); err == nil {
		t.Fatal("expected error without a cache directory")
	}
}

func TestParseTraceFormat(t *testing.T) {
	for _, input := range []string{"", "auto", "text", "ndjson", "json"} {
		if _, err := parseTraceFormat(input); err != nil {
			t.Fatalf("parseTraceFormat(%q) error: %v", input, err)
		}
	}
	if _, err := parseTraceFormat("xml"); err == nil {
		t.Fatalf("parseTraceFormat(xml) expected error")
	}
}

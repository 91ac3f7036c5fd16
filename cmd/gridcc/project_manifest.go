package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const noGridccTomlMessage = "no gridcc.toml found\nplease specify the scripts explicitly, e.g.:\n  gridcc build path/to/kernels"

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Package packageConfig `toml:"package"`
	Build   buildConfig   `toml:"build"`
	Target  targetConfig  `toml:"target"`
	Cache   cacheConfig   `toml:"cache"`
	Libs    libsConfig    `toml:"libs"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type buildConfig struct {
	Scripts []string `toml:"scripts"`
}

type targetConfig struct {
	Triple   string   `toml:"triple"`
	CPU      string   `toml:"cpu"`
	Features []string `toml:"features"`
	Opt      string   `toml:"opt"`
}

type cacheConfig struct {
	Dir   string `toml:"dir"`
	Slots int    `toml:"slots"`
}

type libsConfig struct {
	Runtime  string `toml:"runtime"`
	Graphics string `toml:"graphics"`
}

func findGridccToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "gridcc.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findGridccToml(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := loadProjectConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

func loadProjectConfig(path string) (projectConfig, error) {
	var cfg projectConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return projectConfig{}, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [package].name", path)
	}
	if meta.IsDefined("target", "opt") {
		if _, err := parseOptSetting(cfg.Target.Opt); err != nil {
			return projectConfig{}, fmt.Errorf("%s: [target].opt: %w", path, err)
		}
	}
	if cfg.Cache.Slots < 0 {
		return projectConfig{}, fmt.Errorf("%s: [cache].slots must not be negative", path)
	}
	return cfg, nil
}

// resolveManifestScripts expands [build].scripts relative to the
// manifest root.
func resolveManifestScripts(manifest *projectManifest) ([]string, error) {
	if manifest == nil {
		return nil, fmt.Errorf("missing project manifest")
	}
	if len(manifest.Config.Build.Scripts) == 0 {
		return nil, fmt.Errorf("%s: missing [build].scripts", manifest.Path)
	}
	targets := make([]string, 0, len(manifest.Config.Build.Scripts))
	for _, entry := range manifest.Config.Build.Scripts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, fmt.Errorf("%s: empty entry in [build].scripts", manifest.Path)
		}
		targets = append(targets, filepath.Join(manifest.Root, filepath.FromSlash(entry)))
	}
	return targets, nil
}

// resolvePath resolves a manifest-relative path such as [libs].runtime.
func (m *projectManifest) resolvePath(rel string) string {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return ""
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(m.Root, filepath.FromSlash(rel))
}

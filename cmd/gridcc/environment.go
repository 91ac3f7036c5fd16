package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gridcc/internal/cache"
	"gridcc/internal/codegen"
	"gridcc/internal/compiler"
	"gridcc/internal/trace"
)

// buildSettings is everything the build and exports commands resolve
// from flags and the manifest before constructing an environment.
type buildSettings struct {
	target      codegen.Options
	cacheDir    string
	slots       cache.Geometry
	runtimeLib  string
	graphicsLib string
}

// registerTargetFlags declares the flags shared by commands that
// compile scripts.
func registerTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("triple", "", "target triple (defaults to the host)")
	cmd.Flags().String("cpu", "", "target CPU")
	cmd.Flags().StringSlice("features", nil, "target feature strings")
	cmd.Flags().String("opt", "", "optimization level 0-3")
	cmd.Flags().String("cache-dir", "", "cache directory (defaults to the user cache)")
	cmd.Flags().Bool("no-cache", false, "skip the image cache entirely")
	cmd.Flags().String("runtime-lib", "", "runtime bitcode library linked into every script (builtin selects the embedded one)")
	cmd.Flags().String("graphics-lib", "", "graphics bitcode library linked into every script")
}

// resolveBuildSettings layers flag values over the manifest. Flags win;
// absent values fall back to the manifest and then to defaults.
func resolveBuildSettings(cmd *cobra.Command, manifest *projectManifest, profile string) (buildSettings, error) {
	var s buildSettings

	triple, err := cmd.Flags().GetString("triple")
	if err != nil {
		return s, err
	}
	cpu, err := cmd.Flags().GetString("cpu")
	if err != nil {
		return s, err
	}
	features, err := cmd.Flags().GetStringSlice("features")
	if err != nil {
		return s, err
	}
	optValue, err := cmd.Flags().GetString("opt")
	if err != nil {
		return s, err
	}
	cacheDir, err := cmd.Flags().GetString("cache-dir")
	if err != nil {
		return s, err
	}
	runtimeLib, err := cmd.Flags().GetString("runtime-lib")
	if err != nil {
		return s, err
	}
	graphicsLib, err := cmd.Flags().GetString("graphics-lib")
	if err != nil {
		return s, err
	}

	s.target = codegen.DefaultOptions()
	if manifest != nil {
		if manifest.Config.Target.Triple != "" {
			s.target.Triple = manifest.Config.Target.Triple
		}
		if manifest.Config.Target.CPU != "" {
			s.target.CPU = manifest.Config.Target.CPU
		}
		if len(manifest.Config.Target.Features) > 0 {
			s.target.Features = manifest.Config.Target.Features
		}
		if manifest.Config.Target.Opt != "" {
			optValue = firstNonEmpty(optValue, manifest.Config.Target.Opt)
		}
		s.cacheDir = manifest.resolvePath(manifest.Config.Cache.Dir)
		s.slots.Slots = manifest.Config.Cache.Slots
		if lib := strings.TrimSpace(manifest.Config.Libs.Runtime); lib == "builtin" {
			s.runtimeLib = lib
		} else {
			s.runtimeLib = manifest.resolvePath(lib)
		}
		s.graphicsLib = manifest.resolvePath(manifest.Config.Libs.Graphics)
	}
	if triple != "" {
		s.target.Triple = triple
	}
	if cpu != "" {
		s.target.CPU = cpu
	}
	if len(features) > 0 {
		s.target.Features = features
	}

	s.target.OptLevel = profileOptLevel(profile)
	if optValue != "" {
		level, err := parseOptSetting(optValue)
		if err != nil {
			return s, err
		}
		s.target.OptLevel = level
	}

	if cacheDir != "" {
		s.cacheDir = cacheDir
	}
	if s.cacheDir == "" {
		s.cacheDir, err = cache.DefaultDir()
		if err != nil {
			return s, fmt.Errorf("failed to resolve cache directory: %w", err)
		}
	}
	if runtimeLib != "" {
		s.runtimeLib = runtimeLib
	}
	if graphicsLib != "" {
		s.graphicsLib = graphicsLib
	}
	if s.runtimeLib == "builtin" {
		s.runtimeLib, err = materializeBuiltinRuntime(s.cacheDir)
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// newEnvironment constructs the shared compiler environment from the
// resolved settings and the tracer carried by the command context.
func (s buildSettings) newEnvironment(cmd *cobra.Command) *compiler.Environment {
	cfg := compiler.Config{
		Target:   s.target,
		CacheDir: s.cacheDir,
		Slots:    s.slots,
	}
	return compiler.NewEnvironment(cfg, nil, trace.FromContext(cmd.Context()))
}

// profileOptLevel maps a build profile to its default optimization
// level, matching what the flag form would spell.
func profileOptLevel(profile string) codegen.OptLevel {
	if profile == "release" {
		return codegen.OptAggressive
	}
	return codegen.OptNone
}

func parseOptSetting(value string) (codegen.OptLevel, error) {
	return codegen.ParseOptLevel(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package main implements the gridcc CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gridcc/internal/buildpipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [scripts...]",
	Short: "Compile GridScript kernels into loadable images",
	Long:  "Compile GridScript bitcode into cacheable kernel images, using gridcc.toml when no scripts are given.",
	Args:  cobra.ArbitraryArgs,
	RunE:  buildExecution,
}

func buildExecution(cmd *cobra.Command, args []string) error {
	release, err := cmd.Flags().GetBool("release")
	if err != nil {
		return err
	}
	dev, err := cmd.Flags().GetBool("dev")
	if err != nil {
		return err
	}
	emitIR, err := cmd.Flags().GetBool("emit-ir")
	if err != nil {
		return err
	}
	keepTmpFlag, err := cmd.Flags().GetBool("keep-tmp")
	if err != nil {
		return err
	}
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}

	if release && dev {
		return fmt.Errorf("--release and --dev are mutually exclusive")
	}

	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	traceCleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer traceCleanup()
	profCleanup, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer profCleanup()

	manifest, manifestFound, err := loadProjectManifest(".")
	if err != nil {
		return err
	}
	var (
		targets []string
		baseDir string
	)
	switch {
	case len(args) > 0:
		targets = args
		if manifestFound {
			baseDir = manifest.Root
		}
	case manifestFound:
		targets, err = resolveManifestScripts(manifest)
		if err != nil {
			return err
		}
		baseDir = manifest.Root
	default:
		return errors.New(noGridccTomlMessage)
	}

	profile := "debug"
	if release {
		profile = "release"
	}

	settings, err := resolveBuildSettings(cmd, manifest, profile)
	if err != nil {
		return err
	}
	env := settings.newEnvironment(cmd)

	outputRoot := baseDir
	if outputRoot == "" {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			cwd = "."
		}
		outputRoot = cwd
	}

	scripts, err := buildpipeline.CollectScripts(targets)
	if err != nil {
		return err
	}
	names := make([]string, len(scripts))
	for i, s := range scripts {
		names[i] = buildpipeline.DisplayName(s, baseDir)
	}

	buildReq := buildpipeline.BuildRequest{
		Targets:     targets,
		RuntimeLib:  settings.runtimeLib,
		GraphicsLib: settings.graphicsLib,
		Env:         env,
		BaseDir:     baseDir,
		OutputRoot:  outputRoot,
		Profile:     profile,
		EmitIR:      emitIR,
		KeepTmp:     keepTmpFlag,
		NoCache:     noCache,
		Jobs:        jobs,
	}

	useTUI := shouldUseTUI(uiModeValue)
	var buildRes buildpipeline.BuildResult
	if useTUI && len(names) > 0 {
		buildRes, err = runBuildWithUI(cmd.Context(), "gridcc build", names, &buildReq)
	} else {
		buildRes, err = buildpipeline.Build(cmd.Context(), &buildReq)
	}
	if err != nil {
		if showTimings {
			printStageTimings(os.Stdout, buildRes.Timings)
		}
		return err
	}

	if keepTmpFlag {
		tmpDir := filepath.Join(outputRoot, "target", profile, ".tmp")
		_, fprintfErr := fmt.Fprintf(os.Stdout, "tmp dir: %s\n", formatPathForOutput(outputRoot, tmpDir))
		if fprintfErr != nil {
			return fprintfErr
		}
	}
	if showTimings {
		printStageTimings(os.Stdout, buildRes.Timings)
	}
	if !quiet {
		for _, outcome := range buildRes.Outcomes {
			verb := "built"
			if outcome.CacheHit {
				verb = "cached"
			}
			_, fprintfErr := fmt.Fprintf(os.Stdout, "%s %s (%d kernels)\n", verb, formatPathForOutput(outputRoot, outcome.OutputPath), outcome.Kernels)
			if fprintfErr != nil {
				return fprintfErr
			}
		}
	}
	return nil
}

func formatPathForOutput(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func init() {
	buildCmd.Flags().Bool("release", false, "optimize for release")
	buildCmd.Flags().Bool("dev", false, "development build with extra checks")
	buildCmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
	buildCmd.Flags().Bool("emit-ir", false, "emit linked IR to target/.tmp")
	buildCmd.Flags().Bool("keep-tmp", false, "preserve target/.tmp contents")
	buildCmd.Flags().Int("jobs", 0, "parallel script compilations (0 means one per CPU)")
	registerTargetFlags(buildCmd)
}

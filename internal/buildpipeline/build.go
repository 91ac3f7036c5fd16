// Package buildpipeline orchestrates the compilation process.
package buildpipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gridcc/internal/compiler"
)

// BuildRequest configures output generation for a batch compilation.
type BuildRequest struct {
	Targets     []string // script files or directories of scripts
	RuntimeLib  string
	GraphicsLib string
	Env         *compiler.Environment
	BaseDir     string // progress labels are rendered relative to this
	OutputRoot  string
	Profile     string
	EmitIR      bool
	KeepTmp     bool
	NoCache     bool
	Jobs        int
	Progress    ProgressSink
}

// ScriptOutcome reports one script's build results.
type ScriptOutcome struct {
	Script     string
	OutputPath string
	CacheHit   bool
	Kernels    int
	Timings    Timings
	Err        error
}

// BuildResult captures build artefacts and aggregate timings.
type BuildResult struct {
	Outcomes []ScriptOutcome
	Timings  Timings
}

var buildStages = []Stage{StageRead, StageLink, StageCache, StageCodegen, StageWrite}

// Build compiles every target script and writes loadable images under
// OutputRoot/target/<profile>/.
func Build(ctx context.Context, req *BuildRequest) (BuildResult, error) {
	var result BuildResult
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return result, fmt.Errorf("missing build request")
	}
	reqCopy := *req
	req = &reqCopy
	if req.Env == nil {
		return result, fmt.Errorf("missing environment")
	}
	if req.Profile == "" {
		req.Profile = "debug"
	}
	if req.OutputRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		req.OutputRoot = cwd
	}

	scripts, err := CollectScripts(req.Targets)
	if err != nil {
		return result, err
	}
	names := make([]string, len(scripts))
	for i, s := range scripts {
		names[i] = DisplayName(s, req.BaseDir)
	}
	emitQueued(req.Progress, names)

	outputDir := filepath.Join(req.OutputRoot, "target", req.Profile)
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return result, fmt.Errorf("failed to create output dir: %w", err)
	}
	tmpDir := filepath.Join(outputDir, ".tmp")
	if req.EmitIR || req.KeepTmp {
		if err := os.MkdirAll(tmpDir, 0o750); err != nil {
			return result, fmt.Errorf("failed to create tmp dir: %w", err)
		}
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if slots := req.Env.Slots().Geometry().Slots; jobs > slots {
		// An in-flight script holds an address slot until its image is
		// written, so parallelism beyond the slot count only queues
		// exhaustion errors.
		jobs = slots
	}

	outcomes := make([]ScriptOutcome, len(scripts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range scripts {
		g.Go(func() error {
			outcomes[i] = buildScript(gctx, req, scripts[i], names[i], outputDir, tmpDir)
			return outcomes[i].Err
		})
	}
	buildErr := g.Wait()

	result.Outcomes = outcomes
	for i := range outcomes {
		for _, stage := range buildStages {
			if outcomes[i].Timings.Has(stage) {
				result.Timings.Add(stage, outcomes[i].Timings.Duration(stage))
			}
		}
	}

	if buildErr != nil {
		emitStage(req.Progress, "", StageWrite, StatusError, buildErr, 0)
		return result, buildErr
	}
	emitStage(req.Progress, "", StageWrite, StatusDone, nil, result.Timings.Duration(StageWrite))
	return result, nil
}

// buildScript runs one script job end to end: compile, write the image
// artifact and optionally dump the linked IR.
func buildScript(ctx context.Context, req *BuildRequest, scriptPath, name, outputDir, tmpDir string) ScriptOutcome {
	outcome := ScriptOutcome{Script: name}
	res, err := CompileScript(ctx, &CompileRequest{
		ScriptPath:  scriptPath,
		DisplayName: name,
		RuntimeLib:  req.RuntimeLib,
		GraphicsLib: req.GraphicsLib,
		Env:         req.Env,
		NoCache:     req.NoCache,
		Progress:    req.Progress,
	})
	outcome.Timings = res.Timings
	outcome.CacheHit = res.CacheHit
	if err != nil {
		outcome.Err = err
		return outcome
	}
	defer res.Compiler.Close()

	outcome.Kernels = len(res.Compiler.Source().Info().Kernels)

	writeStart := time.Now()
	emitStage(req.Progress, name, StageWrite, StatusWorking, nil, 0)
	outPath := filepath.Join(outputDir, artifactName(scriptPath))
	if err := res.Compiler.WriteImage(outPath, res.Deps); err != nil {
		err = fmt.Errorf("failed to write build output %q: %w", outPath, err)
		outcome.Err = err
		emitStage(req.Progress, name, StageWrite, StatusError, err, 0)
		return outcome
	}
	outcome.OutputPath = outPath

	if req.EmitIR {
		irPath := filepath.Join(tmpDir, stripExt(scriptPath)+".linked.ll")
		if err := writeLinkedIR(irPath, res.Compiler); err != nil {
			outcome.Err = err
			emitStage(req.Progress, name, StageWrite, StatusError, err, 0)
			return outcome
		}
	}

	outcome.Timings.Set(StageWrite, time.Since(writeStart))
	emitStage(req.Progress, name, StageWrite, StatusDone, nil, outcome.Timings.Duration(StageWrite))
	return outcome
}

func writeLinkedIR(path string, c *compiler.Compiler) error {
	// #nosec G304 -- path is derived from build output configuration
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write linked IR: %w", err)
	}
	if _, err := c.Source().Module().WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write linked IR: %w", err)
	}
	return f.Close()
}

func stripExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func artifactName(scriptPath string) string {
	return stripExt(scriptPath) + ".gkc"
}

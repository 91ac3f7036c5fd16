package buildpipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridcc/internal/cache"
	"gridcc/internal/compiler"
)

// CompileRequest configures the shared per-script pipeline.
type CompileRequest struct {
	ScriptPath  string
	DisplayName string // progress label; defaults to the script base name
	RuntimeLib  string // optional bitcode library linked into the script
	GraphicsLib string // optional graphics bitcode library
	Env         *compiler.Environment
	Deps        cache.Deps // zero value derives timestamps from the input files
	NoCache     bool
	Progress    ProgressSink
}

// CompileResult captures the ready compiler and stage timings. The
// caller owns the compiler and must Close it.
type CompileResult struct {
	Compiler *compiler.Compiler
	CacheHit bool
	Deps     cache.Deps
	Timings  Timings
}

// CompileScript runs one script through read, link, cache probe and
// code generation, leaving a ready compiler.
func CompileScript(ctx context.Context, req *CompileRequest) (CompileResult, error) {
	var result CompileResult
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return result, fmt.Errorf("missing compile request")
	}
	if req.ScriptPath == "" {
		return result, fmt.Errorf("missing script path")
	}
	if req.Env == nil {
		return result, fmt.Errorf("missing environment")
	}
	name := req.DisplayName
	if name == "" {
		name = filepath.Base(req.ScriptPath)
	}

	readStart := time.Now()
	emitStage(req.Progress, name, StageRead, StatusWorking, nil, 0)
	data, err := os.ReadFile(req.ScriptPath)
	if err != nil {
		err = fmt.Errorf("failed to read script %q: %w", req.ScriptPath, err)
		emitStage(req.Progress, name, StageRead, StatusError, err, 0)
		return result, err
	}
	c := compiler.New(req.Env, name)
	if err := c.LoadBitcode(data); err != nil {
		emitStage(req.Progress, name, StageRead, StatusError, err, 0)
		c.Close()
		return result, err
	}
	result.Timings.Set(StageRead, time.Since(readStart))
	emitStage(req.Progress, name, StageRead, StatusDone, nil, result.Timings.Duration(StageRead))

	checkStage := StageRead
	if req.RuntimeLib != "" || req.GraphicsLib != "" {
		checkStage = StageLink
		linkStart := time.Now()
		emitStage(req.Progress, name, StageLink, StatusWorking, nil, 0)
		for _, lib := range []string{req.RuntimeLib, req.GraphicsLib} {
			if lib == "" {
				continue
			}
			libData, readErr := os.ReadFile(lib)
			if readErr != nil {
				readErr = fmt.Errorf("failed to read library %q: %w", lib, readErr)
				emitStage(req.Progress, name, StageLink, StatusError, readErr, 0)
				c.Close()
				return result, readErr
			}
			if linkErr := c.LinkBitcode(filepath.Base(lib), libData); linkErr != nil {
				emitStage(req.Progress, name, StageLink, StatusError, linkErr, 0)
				c.Close()
				return result, linkErr
			}
		}
		result.Timings.Set(StageLink, time.Since(linkStart))
		emitStage(req.Progress, name, StageLink, StatusDone, nil, result.Timings.Duration(StageLink))
	}

	if err := ValidateExports(c.Source()); err != nil {
		emitStage(req.Progress, name, checkStage, StatusError, err, 0)
		c.Close()
		return result, err
	}

	if err := ctx.Err(); err != nil {
		c.Close()
		return result, err
	}

	deps := req.Deps
	if deps == (cache.Deps{}) {
		deps, err = inputDeps(req)
		if err != nil {
			emitStage(req.Progress, name, StageCache, StatusError, err, 0)
			c.Close()
			return result, err
		}
	}
	result.Deps = deps

	if !req.NoCache {
		cacheStart := time.Now()
		emitStage(req.Progress, name, StageCache, StatusWorking, nil, 0)
		hit, probeErr := c.LoadCache(deps)
		if probeErr != nil {
			emitStage(req.Progress, name, StageCache, StatusError, probeErr, 0)
			c.Close()
			return result, probeErr
		}
		result.CacheHit = hit
		result.Timings.Set(StageCache, time.Since(cacheStart))
		emitStage(req.Progress, name, StageCache, StatusDone, nil, result.Timings.Duration(StageCache))
	}

	if !result.CacheHit {
		if err := ctx.Err(); err != nil {
			c.Close()
			return result, err
		}
		genStart := time.Now()
		emitStage(req.Progress, name, StageCodegen, StatusWorking, nil, 0)
		if genErr := c.Compile(); genErr != nil {
			emitStage(req.Progress, name, StageCodegen, StatusError, genErr, 0)
			c.Close()
			return result, genErr
		}
		result.Timings.Set(StageCodegen, time.Since(genStart))
		emitStage(req.Progress, name, StageCodegen, StatusDone, nil, result.Timings.Duration(StageCodegen))
	}

	result.Compiler = c
	return result, nil
}

// inputDeps derives cache dependency timestamps from everything that
// affects the image: the script, the linked libraries and the compiler
// binary itself.
func inputDeps(req *CompileRequest) (cache.Deps, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = ""
	}
	return cache.DepsFromFiles(req.ScriptPath, req.RuntimeLib, req.GraphicsLib, exe)
}

func emitStage(sink ProgressSink, script string, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{Script: script, Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}

func emitQueued(sink ProgressSink, scripts []string) {
	if sink == nil {
		return
	}
	for _, script := range scripts {
		sink.OnEvent(Event{Script: script, Stage: StageRead, Status: StatusQueued})
	}
}

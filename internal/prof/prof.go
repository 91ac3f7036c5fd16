// Package prof backs the CLI profiling flags with the runtime
// profilers. At most one CPU profile and one execution trace can be
// active at a time; the Stop functions are safe to call when nothing
// was started.
package prof

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

var active struct {
	cpu   *os.File
	trace *os.File
}

// StartCPU enables CPU profiling and writes samples to the provided path.
func StartCPU(path string) error {
	if active.cpu != nil {
		return fmt.Errorf("prof: cpu profile already running")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return err
	}
	active.cpu = f
	return nil
}

// StopCPU stops an active CPU profile and closes the underlying file.
func StopCPU() {
	if active.cpu == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = active.cpu.Close()
	active.cpu = nil
}

// StartTrace writes runtime trace data to the provided path.
func StartTrace(path string) error {
	if active.trace != nil {
		return fmt.Errorf("prof: runtime trace already running")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return err
	}
	active.trace = f
	return nil
}

// StopTrace ends an active runtime trace and closes the file.
func StopTrace() {
	if active.trace == nil {
		return
	}
	trace.Stop()
	_ = active.trace.Close()
	active.trace = nil
}

// WriteMem captures a heap profile to the supplied file path. A GC runs
// first so the profile reflects live objects.
func WriteMem(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

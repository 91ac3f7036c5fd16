// Package compiler drives a script from bitcode to a loaded image: read,
// link, compile or load from cache, then serve symbol addresses and
// export tables to the embedding runtime.
package compiler

import (
	"sync"

	"gridcc/internal/cache"
	"gridcc/internal/codegen"
	"gridcc/internal/trace"
)

// Config carries the settings shared by every compiler in a process.
type Config struct {
	Target   codegen.Options
	CacheDir string // empty disables the disk cache
	Slots    cache.Geometry
}

// Environment owns the process-wide state compilers share: the backend,
// the slot table and the tracer. Construct one explicitly and pass it
// to every Compiler; there are no package globals.
type Environment struct {
	cfg     Config
	backend codegen.Backend
	tracer  trace.Tracer

	mu          sync.Mutex
	initialized bool
	slots       *cache.SlotTable
}

// NewEnvironment builds an environment. A nil backend selects the
// portable backend, a nil tracer disables tracing, and empty target
// fields fall back to host defaults.
func NewEnvironment(cfg Config, backend codegen.Backend, tr trace.Tracer) *Environment {
	if backend == nil {
		backend = codegen.PortableBackend{}
	}
	if tr == nil {
		tr = trace.Nop
	}
	if cfg.Target.Triple == "" {
		cfg.Target.Triple = codegen.DefaultTriple()
	}
	if cfg.Target.CPU == "" {
		cfg.Target.CPU = "generic"
	}
	return &Environment{cfg: cfg, backend: backend, tracer: tr}
}

// Init performs the one-time setup. It is idempotent and safe to call
// from concurrent compilers; every load path goes through it.
func (e *Environment) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return
	}
	e.slots = cache.NewSlotTable(e.cfg.Slots)
	e.initialized = true
	trace.Point(e.tracer, trace.ScopeDriver, "env:init", e.cfg.Target.Triple)
}

// Slots returns the shared slot table, initializing on first use.
func (e *Environment) Slots() *cache.SlotTable {
	e.Init()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots
}

// Target returns the target options compilers build for.
func (e *Environment) Target() codegen.Options { return e.cfg.Target }

// CacheDir returns the cache directory, empty when caching is off.
func (e *Environment) CacheDir() string { return e.cfg.CacheDir }

// Tracer returns the environment's tracer.
func (e *Environment) Tracer() trace.Tracer { return e.tracer }

// Backend returns the code generation backend.
func (e *Environment) Backend() codegen.Backend { return e.backend }

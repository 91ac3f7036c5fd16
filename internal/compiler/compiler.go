package compiler

import (
	"errors"
	"fmt"

	"gridcc/internal/cache"
	"gridcc/internal/codegen"
	"gridcc/internal/meta"
	"gridcc/internal/script"
	"gridcc/internal/trace"
)

// State tracks where a compiler is in its lifecycle. Operations check
// the state and reject calls made out of order.
type State uint8

const (
	StateCreated State = iota // no module yet
	StateLoaded               // module read, zero or more libraries linked
	StateReady                // image in place, tables bound
	StateFailed               // a prior step failed; see ErrorMessage
	StateClosed               // image torn down
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ErrInvalidState reports an operation called in the wrong lifecycle
// state, such as Compile before LoadBitcode.
var ErrInvalidState = errors.New("compiler: invalid state")

// SymbolResolver supplies addresses for symbols the image does not
// define, typically runtime support functions.
type SymbolResolver func(name string) uintptr

type boundSymbol struct {
	addr uintptr
	size uint32
	kind uint8
}

// Compiler takes one script through the pipeline. Instances are not
// safe for concurrent use; the environment they share is.
type Compiler struct {
	env  *Environment
	name string

	state     State
	lastError string
	hasLinked bool

	src *script.Source

	// cache probe bookkeeping, set by LoadCache
	probed    bool
	probeDeps cache.Deps

	// populated once StateReady
	cacheHit bool
	slot     *cache.Slot
	mem      []byte
	heap     bool
	codeBase uintptr
	dataBase uintptr
	codeLen  int
	dataLen  int

	record      cache.Record
	symbols     map[string]boundSymbol
	funcNames   []string
	exportVars  []uintptr
	exportFuncs []uintptr
	pragmas     []meta.Pragma

	resolver SymbolResolver
}

// New creates a compiler bound to env, in StateCreated.
func New(env *Environment, name string) *Compiler {
	env.Init()
	return &Compiler{env: env, name: name, state: StateCreated}
}

// Name returns the resource name the compiler was created with.
func (c *Compiler) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Compiler) State() State { return c.state }

// ErrorMessage returns the retained message of the first failure, or
// the empty string. It survives until the compiler is closed.
func (c *Compiler) ErrorMessage() string { return c.lastError }

// CacheHit reports whether the image came from the cache rather than a
// fresh compile. Meaningful only in StateReady.
func (c *Compiler) CacheHit() bool { return c.cacheHit }

// HasLinked reports whether any library was linked into the module.
func (c *Compiler) HasLinked() bool { return c.hasLinked }

// RegisterSymbolCallback installs a resolver consulted by Lookup for
// names the image does not define. A nil resolver removes it.
func (c *Compiler) RegisterSymbolCallback(fn SymbolResolver) { c.resolver = fn }

func (c *Compiler) fail(err error) error {
	c.state = StateFailed
	c.lastError = err.Error()
	trace.Error(c.env.tracer, trace.ScopeScript, "compile:error", c.name+": "+c.lastError)
	return err
}

// LoadBitcode parses assembly as the script's module and extracts its
// export metadata. Valid only in StateCreated.
func (c *Compiler) LoadBitcode(assembly []byte) error {
	if c.state != StateCreated {
		return fmt.Errorf("%w: LoadBitcode in %s", ErrInvalidState, c.state)
	}
	src, err := script.Parse(c.name, assembly)
	if err != nil {
		return c.fail(err)
	}
	c.src = src
	c.state = StateLoaded
	trace.Point(c.env.tracer, trace.ScopeScript, "compile:load", c.name)
	return nil
}

// LoadSource adopts an already parsed source, for callers that built
// or fused the module themselves. Valid only in StateCreated.
func (c *Compiler) LoadSource(src *script.Source) error {
	if c.state != StateCreated {
		return fmt.Errorf("%w: LoadSource in %s", ErrInvalidState, c.state)
	}
	c.src = src
	c.state = StateLoaded
	trace.Point(c.env.tracer, trace.ScopeScript, "compile:load", c.name)
	return nil
}

// LinkBitcode merges a support library into the loaded module and
// re-extracts metadata. It may be called repeatedly; each call marks
// the script as linked, which changes its cache identity.
func (c *Compiler) LinkBitcode(name string, assembly []byte) error {
	if c.state != StateLoaded {
		return fmt.Errorf("%w: LinkBitcode in %s", ErrInvalidState, c.state)
	}
	lib, err := script.Parse(name, assembly)
	if err != nil {
		return c.fail(err)
	}
	if err := script.Merge(c.src.Module(), lib.Module()); err != nil {
		return c.fail(fmt.Errorf("link %s: %w", name, err))
	}
	if err := c.src.Refresh(); err != nil {
		return c.fail(fmt.Errorf("link %s: %w", name, err))
	}
	c.hasLinked = true
	trace.Point(c.env.tracer, trace.ScopeScript, "compile:link", name)
	return nil
}

// Source returns the loaded source, or nil before LoadBitcode.
func (c *Compiler) Source() *script.Source { return c.src }

// LoadCache tries to bring a previously compiled image back into the
// script's slot. A stale or absent file is a miss, not an error: the
// caller proceeds to Compile, and the probe arms cache generation.
// Hard failures such as slot exhaustion move the compiler to
// StateFailed.
func (c *Compiler) LoadCache(deps cache.Deps) (bool, error) {
	if c.state != StateLoaded {
		return false, fmt.Errorf("%w: LoadCache in %s", ErrInvalidState, c.state)
	}
	if c.env.cfg.CacheDir == "" {
		return false, nil
	}
	c.probed = true
	c.probeDeps = deps
	if !cache.SlotsSupported() {
		trace.Point(c.env.tracer, trace.ScopeScript, "cache:skip", "fixed slots unsupported")
		return false, nil
	}
	path := cache.Path(c.env.cfg.CacheDir, c.name, c.hasLinked)
	f, miss, err := cache.Load(path, deps)
	if err != nil {
		return false, fmt.Errorf("cache probe %s: %w", path, err)
	}
	if miss != cache.MissNone {
		trace.Point(c.env.tracer, trace.ScopeScript, "cache:miss", miss.String())
		return false, nil
	}
	geo := c.env.Slots().Geometry()
	if !geo.Fits(len(f.Code), len(f.Data)) {
		trace.Point(c.env.tracer, trace.ScopeScript, "cache:miss", "image exceeds slot geometry")
		return false, nil
	}
	if err := c.place(f.Code, f.Data); err != nil {
		return false, c.fail(err)
	}
	c.record = f.Record
	if err := c.bindTables(); err != nil {
		c.teardown()
		return false, c.fail(err)
	}
	c.cacheHit = true
	c.state = StateReady
	trace.Point(c.env.tracer, trace.ScopeScript, "cache:hit", path)
	return true, nil
}

// Compile runs the backend over the module, places the image and binds
// the export tables. When an earlier LoadCache probe missed and the
// image landed in a fixed slot, the result is written back to disk.
func (c *Compiler) Compile() error {
	if c.state != StateLoaded {
		return fmt.Errorf("%w: Compile in %s", ErrInvalidState, c.state)
	}
	sp := trace.Begin(c.env.tracer, trace.ScopeScript, "compile "+c.name, 0)
	img, err := codegen.Generate(c.env.backend, c.src.Module(), c.env.cfg.Target)
	if err != nil {
		sp.End("codegen failed")
		return c.fail(err)
	}
	geo := c.env.Slots().Geometry()
	if !geo.Fits(len(img.Code), len(img.Data)) {
		sp.End("too large")
		return c.fail(fmt.Errorf("%w: code %d data %d exceed slot %d+%d",
			cache.ErrImageTooLarge, len(img.Code), len(img.Data), geo.CodeMax, geo.DataMax))
	}
	if err := c.place(img.Code, img.Data); err != nil {
		sp.End("placement failed")
		return c.fail(err)
	}
	c.record = c.buildRecord(img)
	if err := c.bindTables(); err != nil {
		c.teardown()
		sp.End("bind failed")
		return c.fail(err)
	}
	c.state = StateReady
	c.writeCache(img)
	sp.End(fmt.Sprintf("code %d data %d", len(img.Code), len(img.Data)))
	return nil
}

// place copies code and data into a fixed slot, or into a heap buffer
// when fixed mappings are unavailable. Data lands at the slot's data
// base so offsets stay segment-relative.
func (c *Compiler) place(code, data []byte) error {
	geo := c.env.Slots().Geometry()
	if cache.SlotsSupported() {
		slot, err := c.env.Slots().Acquire()
		if err != nil {
			return err
		}
		mem, err := cache.MapSlot(slot)
		if err != nil {
			slot.Release()
			return fmt.Errorf("map slot %d: %w", slot.Index(), err)
		}
		c.slot = slot
		c.mem = mem
	} else {
		c.mem = make([]byte, geo.SlotSize())
		c.heap = true
	}
	copy(c.mem[:geo.CodeMax], code)
	copy(c.mem[geo.CodeMax:], data)
	c.codeBase = cache.BufferBase(c.mem)
	c.dataBase = c.codeBase + uintptr(geo.CodeMax)
	c.codeLen = len(code)
	c.dataLen = len(data)
	return nil
}

// WriteImage serializes the ready image to path in cache file format,
// for build artifacts that live outside the cache directory.
func (c *Compiler) WriteImage(path string, deps cache.Deps) error {
	if c.state != StateReady {
		return fmt.Errorf("%w: WriteImage in %s", ErrInvalidState, c.state)
	}
	geo := c.env.Slots().Geometry()
	code := c.mem[:c.codeLen]
	data := c.mem[geo.CodeMax : geo.CodeMax+c.dataLen]
	return cache.Write(path, deps, c.codeBase, &c.record, code, data)
}

func (c *Compiler) buildRecord(img *codegen.Image) cache.Record {
	info := c.src.Info()
	rec := cache.Record{Backend: c.env.backend.Name()}
	for _, s := range img.Symbols {
		kind := cache.EntryVar
		if s.Kind == codegen.SymbolFunc {
			kind = cache.EntryFunc
		}
		rec.Symbols = append(rec.Symbols, cache.Entry{
			Name: s.Name, Kind: kind, Offset: s.Offset, Size: s.Size,
		})
	}
	rec.ExportVars = append(rec.ExportVars, info.Vars...)
	rec.ExportFuncs = append(rec.ExportFuncs, info.Funcs...)
	for _, p := range info.Pragmas {
		rec.Pragmas = append(rec.Pragmas, cache.Pragma{Key: p.Key, Value: p.Value})
	}
	return rec
}

// bindTables turns the record's segment-relative offsets into absolute
// addresses against the placed image. Exported names missing from the
// image bind to zero, matching Lookup's absent convention.
func (c *Compiler) bindTables() error {
	c.symbols = make(map[string]boundSymbol, len(c.record.Symbols))
	c.funcNames = c.funcNames[:0]
	c.exportVars = c.exportVars[:0]
	c.exportFuncs = c.exportFuncs[:0]
	c.pragmas = c.pragmas[:0]
	for _, e := range c.record.Symbols {
		base := c.dataBase
		if e.Kind == cache.EntryFunc {
			base = c.codeBase
			c.funcNames = append(c.funcNames, e.Name)
		}
		if _, dup := c.symbols[e.Name]; dup {
			return fmt.Errorf("duplicate symbol %q in image", e.Name)
		}
		c.symbols[e.Name] = boundSymbol{addr: base + uintptr(e.Offset), size: e.Size, kind: e.Kind}
	}
	for _, name := range c.record.ExportVars {
		c.exportVars = append(c.exportVars, c.addrOf(name, cache.EntryVar))
	}
	for _, name := range c.record.ExportFuncs {
		c.exportFuncs = append(c.exportFuncs, c.addrOf(name, cache.EntryFunc))
	}
	for _, p := range c.record.Pragmas {
		c.pragmas = append(c.pragmas, meta.Pragma{Key: p.Key, Value: p.Value})
	}
	return nil
}

func (c *Compiler) addrOf(name string, kind uint8) uintptr {
	s, ok := c.symbols[name]
	if !ok || s.kind != kind {
		return 0
	}
	return s.addr
}

// writeCache persists the fresh image when a probe missed earlier.
// Heap images skip the cache: their addresses are not reusable.
// Write failures are traced, not fatal.
func (c *Compiler) writeCache(img *codegen.Image) {
	if !c.probed || c.heap || c.env.cfg.CacheDir == "" {
		return
	}
	path := cache.Path(c.env.cfg.CacheDir, c.name, c.hasLinked)
	err := cache.Write(path, c.probeDeps, c.slot.Base(), &c.record, img.Code, img.Data)
	if err != nil {
		trace.Error(c.env.tracer, trace.ScopeScript, "cache:write-failed", err.Error())
		return
	}
	trace.Point(c.env.tracer, trace.ScopeScript, "cache:write", path)
}

// Lookup returns the address of a symbol in the image, consulting the
// registered resolver for names the image does not define. Zero means
// absent. Valid only in StateReady.
func (c *Compiler) Lookup(name string) uintptr {
	if c.state != StateReady {
		return 0
	}
	if s, ok := c.symbols[name]; ok {
		return s.addr
	}
	if c.resolver != nil {
		return c.resolver(name)
	}
	return 0
}

// FunctionBinary returns the address and size of a compiled function,
// and false when the name is not a function in the image.
func (c *Compiler) FunctionBinary(name string) (uintptr, uint32, bool) {
	if c.state != StateReady {
		return 0, 0, false
	}
	s, ok := c.symbols[name]
	if !ok || s.kind != cache.EntryFunc {
		return 0, 0, false
	}
	return s.addr, s.size, true
}

// ExportVars copies exported variable addresses into dst, in metadata
// order, and returns the total count, which may exceed len(dst).
func (c *Compiler) ExportVars(dst []uintptr) int {
	copy(dst, c.exportVars)
	return len(c.exportVars)
}

// ExportFuncs copies exported function addresses into dst, in metadata
// order, and returns the total count.
func (c *Compiler) ExportFuncs(dst []uintptr) int {
	copy(dst, c.exportFuncs)
	return len(c.exportFuncs)
}

// Pragmas copies the script's pragmas into dst and returns the total
// count.
func (c *Compiler) Pragmas(dst []meta.Pragma) int {
	copy(dst, c.pragmas)
	return len(c.pragmas)
}

// Functions copies the names of every compiled function into dst, in
// image order, and returns the total count.
func (c *Compiler) Functions(dst []string) int {
	copy(dst, c.funcNames)
	return len(c.funcNames)
}

func (c *Compiler) teardown() {
	if c.mem != nil && !c.heap {
		if err := cache.UnmapSlot(c.mem); err != nil {
			trace.Error(c.env.tracer, trace.ScopeScript, "unmap-failed", err.Error())
		}
	}
	if c.slot != nil {
		c.slot.Release()
		c.slot = nil
	}
	c.mem = nil
	c.heap = false
	c.codeBase = 0
	c.dataBase = 0
	c.codeLen = 0
	c.dataLen = 0
	c.symbols = nil
	c.funcNames = nil
	c.exportVars = nil
	c.exportFuncs = nil
	c.pragmas = nil
	c.cacheHit = false
}

// Close releases the image mapping and its slot. It is idempotent and
// safe to call in any state.
func (c *Compiler) Close() {
	if c.state == StateClosed {
		return
	}
	c.teardown()
	c.state = StateClosed
	trace.Point(c.env.tracer, trace.ScopeScript, "compile:close", c.name)
}

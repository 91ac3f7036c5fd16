// Package codegen turns linked IR modules into loadable images. The
// backend boundary keeps the pipeline independent of how machine code
// is produced; the portable backend ships a deterministic serialized
// form that the host runtime's dispatcher consumes.
package codegen

import (
	"fmt"
	"runtime"

	"github.com/llir/llvm/ir"
)

// OptLevel is the code generation optimization level, 0 through 3.
type OptLevel uint8

const (
	OptNone       OptLevel = iota // no optimization
	OptLess                       // fast, light optimization
	OptDefault                    // balanced
	OptAggressive                 // full optimization
)

// ParseOptLevel converts a flag value to an OptLevel.
func ParseOptLevel(s string) (OptLevel, error) {
	switch s {
	case "0":
		return OptNone, nil
	case "1":
		return OptLess, nil
	case "2":
		return OptDefault, nil
	case "3":
		return OptAggressive, nil
	default:
		return OptNone, fmt.Errorf("invalid optimization level %q (expected 0-3)", s)
	}
}

// Options selects the compilation target.
type Options struct {
	Triple   string
	CPU      string
	Features []string
	OptLevel OptLevel
}

// DefaultTriple derives a target triple for the host.
func DefaultTriple() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}
	os := runtime.GOOS
	if os == "darwin" {
		return arch + "-apple-darwin"
	}
	return arch + "-unknown-" + os + "-gnu"
}

// DefaultOptions is the target used when the manifest and flags say
// nothing.
func DefaultOptions() Options {
	return Options{
		Triple:   DefaultTriple(),
		CPU:      "generic",
		OptLevel: OptAggressive,
	}
}

// SymbolKind distinguishes function bodies from data objects.
type SymbolKind uint8

const (
	SymbolFunc SymbolKind = iota + 1
	SymbolVar
)

// String returns the string representation of SymbolKind.
func (k SymbolKind) String() string {
	switch k {
	case SymbolFunc:
		return "func"
	case SymbolVar:
		return "var"
	default:
		return "unknown"
	}
}

// Symbol locates one definition inside an image segment.
type Symbol struct {
	Name   string
	Kind   SymbolKind
	Offset uint32 // within the code or data segment
	Size   uint32
}

// Image is the output of a backend: a code segment, a data segment and
// the symbols defined in them.
type Image struct {
	Code    []byte
	Data    []byte
	Symbols []Symbol
}

// Symbol returns the named symbol.
func (img *Image) Symbol(name string) (Symbol, bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Backend produces an image from a module.
type Backend interface {
	// Name identifies the backend in traces and cache diagnostics.
	Name() string
	// Generate compiles the module for the given target.
	Generate(m *ir.Module, opts Options) (*Image, error)
}

// Generate runs the backend with panic isolation: a backend crash
// surfaces as an error instead of taking down the pipeline.
func Generate(b Backend, m *ir.Module, opts Options) (img *Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("codegen: backend %s panicked: %v", b.Name(), r)
		}
	}()
	img, err = b.Generate(m, opts)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	return img, nil
}

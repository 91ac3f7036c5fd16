// Package script holds parsed GridScript modules and links them together.
package script

import (
	"fmt"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"gridcc/internal/meta"
)

// Source is one parsed script: the IR module plus its extracted export
// metadata. The resource name identifies the script in errors, traces
// and cache file names.
type Source struct {
	name string
	mod  *ir.Module
	info *meta.Info
}

// Parse reads a module from IR assembly and extracts its metadata.
func Parse(name string, assembly []byte) (*Source, error) {
	m, err := asm.ParseBytes(name, assembly)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return FromModule(name, m)
}

// FromModule wraps an already parsed module. The module is borrowed,
// not copied; later mutation requires a Refresh.
func FromModule(name string, m *ir.Module) (*Source, error) {
	inf, err := meta.Extract(m)
	if err != nil {
		return nil, fmt.Errorf("metadata of %s: %w", name, err)
	}
	return &Source{name: name, mod: m, info: inf}, nil
}

// Name returns the resource name.
func (s *Source) Name() string { return s.name }

// Module returns the underlying IR module.
func (s *Source) Module() *ir.Module { return s.mod }

// Info returns the extracted metadata view.
func (s *Source) Info() *meta.Info { return s.info }

// Refresh re-extracts metadata after the module has been mutated.
func (s *Source) Refresh() error {
	inf, err := meta.Extract(s.mod)
	if err != nil {
		return fmt.Errorf("metadata of %s: %w", s.name, err)
	}
	s.info = inf
	return nil
}

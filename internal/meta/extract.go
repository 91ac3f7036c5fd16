// Package meta reads and writes the export metadata that GridScript
// bitcode modules carry: which functions are kernels, their launch
// signatures, exported invoke functions, exported globals and pragmas.
package meta

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/metadata"
)

// Named metadata lists on a GridScript module.
const (
	ExportVarMD        = "gs_export_var"
	ExportFuncMD       = "gs_export_func"
	ExportKernelNameMD = "gs_export_kernel_name"
	ExportKernelSigMD  = "gs_export_kernel"
	PragmaMD           = "gs_pragma"
)

// Kernel is one exported kernel record: the function name, its launch
// signature and the number of user input parameters.
type Kernel struct {
	Name       string
	Signature  Signature
	InputCount int
}

// Pragma is one key/value pragma pair.
type Pragma struct {
	Key   string
	Value string
}

// Info is the extracted metadata view of one module.
type Info struct {
	Kernels []Kernel
	Funcs   []string // exported invoke functions
	Vars    []string // exported globals
	Pragmas []Pragma
}

// Kernel returns the kernel record at the given slot.
func (inf *Info) Kernel(slot int) (Kernel, bool) {
	if slot < 0 || slot >= len(inf.Kernels) {
		return Kernel{}, false
	}
	return inf.Kernels[slot], true
}

// Func returns the exported invoke function name at the given slot.
func (inf *Info) Func(slot int) (string, bool) {
	if slot < 0 || slot >= len(inf.Funcs) {
		return "", false
	}
	return inf.Funcs[slot], true
}

// Extract builds the metadata view of a module. Absent metadata lists
// yield empty slices; malformed metadata yields an error.
func Extract(m *ir.Module) (*Info, error) {
	inf := &Info{}

	names, err := stringList(m, ExportKernelNameMD)
	if err != nil {
		return nil, err
	}
	sigs, err := stringList(m, ExportKernelSigMD)
	if err != nil {
		return nil, err
	}
	if len(names) != len(sigs) {
		return nil, fmt.Errorf("kernel metadata mismatch: %d names, %d signatures", len(names), len(sigs))
	}

	for i, name := range names {
		sig, err := ParseSignature(sigs[i])
		if err != nil {
			return nil, fmt.Errorf("kernel %q: %w", name, err)
		}
		fn := FindFunc(m, name)
		if fn == nil {
			return nil, fmt.Errorf("kernel %q: no such function in module", name)
		}
		inf.Kernels = append(inf.Kernels, Kernel{
			Name:       name,
			Signature:  sig,
			InputCount: inputCount(fn, sig),
		})
	}

	if inf.Funcs, err = stringList(m, ExportFuncMD); err != nil {
		return nil, err
	}
	if inf.Vars, err = stringList(m, ExportVarMD); err != nil {
		return nil, err
	}
	if inf.Pragmas, err = pragmaList(m); err != nil {
		return nil, err
	}

	return inf, nil
}

// FindFunc returns the function with the given name, or nil.
func FindFunc(m *ir.Module, name string) *ir.Func {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// inputCount derives the number of user inputs a kernel takes: its
// parameter count minus one per declared special parameter.
func inputCount(fn *ir.Func, sig Signature) int {
	n := len(fn.Params) - sig.CoordCount()
	if sig.HasCtx() {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}

// stringList reads a named metadata list whose nodes each wrap a single
// metadata string. A missing list is empty, not an error.
func stringList(m *ir.Module, name string) ([]string, error) {
	def, ok := m.NamedMetadataDefs[name]
	if !ok || def == nil {
		return nil, nil
	}
	out := make([]string, 0, len(def.Nodes))
	for i, node := range def.Nodes {
		fields, err := tupleStrings(node)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%s[%d]: empty metadata tuple", name, i)
		}
		out = append(out, fields[0])
	}
	return out, nil
}

// pragmaList reads the pragma list, whose nodes wrap a key string and an
// optional value string.
func pragmaList(m *ir.Module) ([]Pragma, error) {
	def, ok := m.NamedMetadataDefs[PragmaMD]
	if !ok || def == nil {
		return nil, nil
	}
	out := make([]Pragma, 0, len(def.Nodes))
	for i, node := range def.Nodes {
		fields, err := tupleStrings(node)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", PragmaMD, i, err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%s[%d]: empty metadata tuple", PragmaMD, i)
		}
		p := Pragma{Key: fields[0]}
		if len(fields) > 1 {
			p.Value = fields[1]
		}
		out = append(out, p)
	}
	return out, nil
}

// tupleStrings unwraps a metadata tuple node into its string fields.
func tupleStrings(node metadata.Node) ([]string, error) {
	tup, ok := node.(*metadata.Tuple)
	if !ok {
		return nil, fmt.Errorf("expected metadata tuple, got %T", node)
	}
	out := make([]string, 0, len(tup.Fields))
	for _, field := range tup.Fields {
		str, ok := field.(*metadata.String)
		if !ok {
			return nil, fmt.Errorf("expected metadata string, got %T", field)
		}
		out = append(out, str.Value)
	}
	return out, nil
}

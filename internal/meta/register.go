package meta

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/metadata"
)

// RegisterKernel appends one kernel record to the module's export
// metadata. The name and signature lists are appended together so they
// can never fall out of step.
func RegisterKernel(m *ir.Module, name string, sig Signature) {
	appendString(m, ExportKernelNameMD, name)
	appendString(m, ExportKernelSigMD, sig.String())
}

// RegisterFunc appends one invoke function name to the module's export
// metadata.
func RegisterFunc(m *ir.Module, name string) {
	appendString(m, ExportFuncMD, name)
}

// RegisterVar appends one exported global name to the module's export
// metadata.
func RegisterVar(m *ir.Module, name string) {
	appendString(m, ExportVarMD, name)
}

// RegisterPragma appends one key/value pragma pair to the module's
// export metadata.
func RegisterPragma(m *ir.Module, key, value string) {
	def := namedDef(m, PragmaMD)
	def.Nodes = append(def.Nodes, newTuple(m, key, value))
}

// appendString appends a single-string tuple to the named list.
func appendString(m *ir.Module, list, value string) {
	def := namedDef(m, list)
	def.Nodes = append(def.Nodes, newTuple(m, value))
}

// namedDef returns the named metadata list, creating it when absent.
func namedDef(m *ir.Module, name string) *metadata.NamedDef {
	if m.NamedMetadataDefs == nil {
		m.NamedMetadataDefs = make(map[string]*metadata.NamedDef)
	}
	if def, ok := m.NamedMetadataDefs[name]; ok && def != nil {
		return def
	}
	def := &metadata.NamedDef{Name: name}
	m.NamedMetadataDefs[name] = def
	return def
}

// newTuple creates a string tuple, assigns it a fresh metadata ID and
// records it among the module's metadata definitions.
func newTuple(m *ir.Module, values ...string) *metadata.Tuple {
	tup := &metadata.Tuple{}
	for _, v := range values {
		tup.Fields = append(tup.Fields, &metadata.String{Value: v})
	}
	tup.SetID(NextMetadataID(m))
	m.MetadataDefs = append(m.MetadataDefs, tup)
	return tup
}

// NextMetadataID returns the lowest metadata ID past every definition
// already present in the module.
func NextMetadataID(m *ir.Module) int64 {
	var next int64
	for _, def := range m.MetadataDefs {
		if id := def.ID(); id >= next {
			next = id + 1
		}
	}
	return next
}

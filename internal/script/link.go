package script

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/metadata"
	"github.com/llir/llvm/ir/types"

	"gridcc/internal/meta"
)

// Merge links src into dst. Declarations resolve against definitions,
// named metadata lists concatenate, and numbered metadata moves into
// dst's ID space. src must not be used afterwards.
func Merge(dst, src *ir.Module) error {
	if len(src.Aliases) != 0 || len(src.IFuncs) != 0 {
		return fmt.Errorf("link: aliases and ifuncs are not supported")
	}

	if err := mergeTypeDefs(dst, src); err != nil {
		return err
	}
	if err := mergeGlobals(dst, src); err != nil {
		return err
	}
	if err := mergeFuncs(dst, src); err != nil {
		return err
	}
	mergeAttrGroups(dst, src)
	mergeMetadata(dst, src)
	return nil
}

func mergeTypeDefs(dst, src *ir.Module) error {
	byName := make(map[string]types.Type, len(dst.TypeDefs))
	for _, td := range dst.TypeDefs {
		byName[td.Name()] = td
	}
	for _, td := range src.TypeDefs {
		prev, ok := byName[td.Name()]
		if !ok {
			dst.TypeDefs = append(dst.TypeDefs, td)
			byName[td.Name()] = td
			continue
		}
		if !prev.Equal(td) {
			return fmt.Errorf("link: conflicting definitions of type %%%s", td.Name())
		}
	}
	return nil
}

func mergeGlobals(dst, src *ir.Module) error {
	byName := make(map[string]*ir.Global, len(dst.Globals))
	for _, g := range dst.Globals {
		byName[g.Name()] = g
	}
	for _, g := range src.Globals {
		prev, ok := byName[g.Name()]
		if !ok {
			dst.Globals = append(dst.Globals, g)
			byName[g.Name()] = g
			continue
		}
		if !prev.ContentType.Equal(g.ContentType) {
			return fmt.Errorf("link: global @%s redeclared with different type", g.Name())
		}
		switch {
		case prev.Init != nil && g.Init != nil:
			return fmt.Errorf("link: duplicate definition of global @%s", g.Name())
		case prev.Init == nil && g.Init != nil:
			prev.Init = g.Init
		}
	}
	return nil
}

func mergeFuncs(dst, src *ir.Module) error {
	byName := make(map[string]*ir.Func, len(dst.Funcs))
	for _, f := range dst.Funcs {
		byName[f.Name()] = f
	}
	for _, f := range src.Funcs {
		prev, ok := byName[f.Name()]
		if !ok {
			dst.Funcs = append(dst.Funcs, f)
			byName[f.Name()] = f
			continue
		}
		if !prev.Sig.Equal(f.Sig) {
			return fmt.Errorf("link: function @%s redeclared with different type", f.Name())
		}
		dstDef, srcDef := len(prev.Blocks) > 0, len(f.Blocks) > 0
		switch {
		case dstDef && srcDef:
			return fmt.Errorf("link: duplicate definition of function @%s", f.Name())
		case !dstDef && srcDef:
			// The declaration in dst adopts the body so existing call
			// sites keep resolving to the same *ir.Func.
			prev.Params = f.Params
			prev.Blocks = f.Blocks
			prev.Linkage = f.Linkage
			for _, b := range prev.Blocks {
				b.Parent = prev
			}
		}
	}
	return nil
}

func mergeAttrGroups(dst, src *ir.Module) {
	var next int64
	for _, def := range dst.AttrGroupDefs {
		if def.ID >= next {
			next = def.ID + 1
		}
	}
	for _, def := range src.AttrGroupDefs {
		def.ID += next
		dst.AttrGroupDefs = append(dst.AttrGroupDefs, def)
	}
}

func mergeMetadata(dst, src *ir.Module) {
	// Move numbered definitions past dst's highest ID, then splice the
	// named lists.
	base := meta.NextMetadataID(dst)
	for _, def := range src.MetadataDefs {
		def.SetID(def.ID() + base)
		dst.MetadataDefs = append(dst.MetadataDefs, def)
	}
	if dst.NamedMetadataDefs == nil {
		dst.NamedMetadataDefs = make(map[string]*metadata.NamedDef)
	}
	for name, def := range src.NamedMetadataDefs {
		prev, ok := dst.NamedMetadataDefs[name]
		if !ok {
			dst.NamedMetadataDefs[name] = def
			continue
		}
		prev.Nodes = append(prev.Nodes, def.Nodes...)
	}
}

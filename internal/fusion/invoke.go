package fusion

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"gridcc/internal/meta"
	"gridcc/internal/script"
	"gridcc/internal/trace"
)

// ErrBadInvoke rejects invoke functions that do not follow the invoke
// calling convention (void return, exactly one parameter).
var ErrBadInvoke = errors.New("fusion: function does not follow the invoke convention")

// RenameInvoke gives the exported invoke function at slot a second entry
// point named newName in the merged module dst: a trampoline of the same
// shape that forwards its argument unmodified and returns void. The new
// name is registered in dst's invoke metadata.
//
// Slot indices must be in range for the source; a bad slot is a bug in
// the caller and panics.
func RenameInvoke(src *script.Source, slot int, newName string, dst *ir.Module, tr trace.Tracer) error {
	name, ok := src.Info().Func(slot)
	if !ok {
		panic(fmt.Sprintf("fusion: invoke slot %d out of range for %s", slot, src.Name()))
	}
	if err := renameInvoke(name, src.Name(), newName, dst); err != nil {
		trace.Error(tr, trace.ScopeSymbol, "rename-invoke:reject", err.Error())
		return err
	}
	trace.Point(tr, trace.ScopeSymbol, "rename-invoke", name+" -> "+newName)
	return nil
}

func renameInvoke(name, srcName, newName string, dst *ir.Module) error {
	fn := meta.FindFunc(dst, name)
	if fn == nil {
		return fmt.Errorf("fusion: cannot find invoke %s from %s in merged module", name, srcName)
	}
	if !types.IsVoid(fn.Sig.RetType) {
		return fmt.Errorf("%w: %s returns %v", ErrBadInvoke, name, fn.Sig.RetType)
	}
	if len(fn.Params) != 1 {
		return fmt.Errorf("%w: %s takes %d parameters, invokes take one", ErrBadInvoke, name, len(fn.Params))
	}
	if meta.FindFunc(dst, newName) != nil {
		return fmt.Errorf("fusion: function %s already defined in merged module", newName)
	}

	param := ir.NewParam(fn.Params[0].Name(), fn.Params[0].Typ)
	wrapper := dst.NewFunc(newName, types.Void, param)
	entry := wrapper.NewBlock("entry")
	entry.NewCall(fn, param)
	entry.NewRet(nil)

	meta.RegisterFunc(dst, newName)
	return nil
}

// Package fusion synthesizes composite kernels. A chain of kernels that
// each map an element to an element can be collapsed into one fused
// kernel whose body calls the members in order, threading each result
// into the next input.
package fusion

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"gridcc/internal/meta"
	"gridcc/internal/script"
	"gridcc/internal/trace"
)

var (
	// ErrMultipleInputs rejects kernels that consume more than one input
	// element per cell.
	ErrMultipleInputs = errors.New("fusion: kernel takes multiple inputs")
	// ErrUnsupportedSignature rejects kernels whose signature carries
	// bits the fusion engine does not understand.
	ErrUnsupportedSignature = errors.New("fusion: unsupported kernel signature")
)

// Member selects one kernel of a chain: the source it came from and the
// kernel slot within that source's export metadata.
type Member struct {
	Source *script.Source
	Slot   int
}

// resolved is a chain member after validation against the merged module.
type resolved struct {
	kernel meta.Kernel
	fn     *ir.Func
}

// Fuse validates the kernel chain and synthesizes the fused function in
// the merged module dst, registering it in dst's kernel metadata. The
// chain members' functions must already be linked into dst. On error the
// module is left untouched.
//
// Slot indices must be in range for their source; a bad slot is a bug in
// the caller and panics.
func Fuse(chain []Member, fusedName string, dst *ir.Module, tr trace.Tracer) error {
	if len(chain) == 0 {
		return errors.New("fusion: empty kernel chain")
	}
	span := trace.Begin(tr, trace.ScopeSymbol, "fuse:"+fusedName, 0)
	defer span.End("")

	members, fusedSig, err := validateChain(chain, fusedName, dst)
	if err != nil {
		trace.Error(tr, trace.ScopeSymbol, "fuse:reject", err.Error())
		return err
	}

	synthesize(members, fusedSig, fusedName, dst)
	meta.RegisterKernel(dst, fusedName, fusedSig)
	span.WithExtra("kernels", fmt.Sprint(len(members)))
	return nil
}

// validateChain resolves every member and computes the fused signature.
// Nothing is written to dst here: a chain that fails any check must
// leave the module exactly as it was.
func validateChain(chain []Member, fusedName string, dst *ir.Module) ([]resolved, meta.Signature, error) {
	members := make([]resolved, 0, len(chain))
	var fusedSig meta.Signature

	for i, m := range chain {
		k, ok := m.Source.Info().Kernel(m.Slot)
		if !ok {
			panic(fmt.Sprintf("fusion: kernel slot %d out of range for %s", m.Slot, m.Source.Name()))
		}
		if k.InputCount > 1 {
			return nil, 0, fmt.Errorf("%w: %s takes %d inputs", ErrMultipleInputs, k.Name, k.InputCount)
		}
		if k.Signature.Unsupported() {
			return nil, 0, fmt.Errorf("%w: %s has signature %s", ErrUnsupportedSignature, k.Name, k.Signature)
		}

		fn := meta.FindFunc(dst, k.Name)
		if fn == nil {
			return nil, 0, fmt.Errorf("fusion: cannot find kernel %s from %s in merged module", k.Name, m.Source.Name())
		}
		if want := expectedParams(k.Signature); len(fn.Params) != want {
			return nil, 0, fmt.Errorf("fusion: kernel %s declares signature %s but takes %d parameters",
				k.Name, k.Signature, len(fn.Params))
		}

		// The first member's input type becomes the fused parameter type;
		// every later input must match what the previous member returns.
		if k.Signature.HasIn() && i > 0 {
			prev := members[i-1].fn.Sig.RetType
			if types.IsVoid(prev) {
				return nil, 0, fmt.Errorf("fusion: kernel %s expects an input but %s returns nothing",
					k.Name, members[i-1].kernel.Name)
			}
			if !prev.Equal(fn.Params[0].Typ) {
				return nil, 0, fmt.Errorf("fusion: kernel %s expects %v but %s returns %v",
					k.Name, fn.Params[0].Typ, members[i-1].kernel.Name, prev)
			}
		}
		if k.Signature.HasOut() && types.IsVoid(fn.Sig.RetType) {
			return nil, 0, fmt.Errorf("fusion: kernel %s declares an output but returns void", k.Name)
		}

		fusedSig |= k.Signature
		members = append(members, resolved{kernel: k, fn: fn})
	}

	// The fused kernel consumes an input only if the first member does,
	// and produces an output only if the last member does.
	if !members[0].kernel.Signature.HasIn() {
		fusedSig &^= meta.SigIn
	}
	if !members[len(members)-1].kernel.Signature.HasOut() {
		fusedSig &^= meta.SigOut
	}
	fusedSig |= meta.SigKernel

	if meta.FindFunc(dst, fusedName) != nil {
		return nil, 0, fmt.Errorf("fusion: function %s already defined in merged module", fusedName)
	}
	return members, fusedSig, nil
}

// expectedParams is the parameter count a kernel function must have to
// match its signature: one per input plus one per coordinate.
func expectedParams(sig meta.Signature) int {
	n := sig.CoordCount()
	if sig.HasIn() {
		n++
	}
	return n
}

// synthesize builds the fused function. The chain has already been
// validated, so construction cannot fail.
func synthesize(members []resolved, fusedSig meta.Signature, fusedName string, dst *ir.Module) {
	var params []*ir.Param
	var dataIn, x, y, z *ir.Param

	if fusedSig.HasIn() {
		dataIn = ir.NewParam("DataIn", members[0].fn.Params[0].Typ)
		params = append(params, dataIn)
	}
	if fusedSig.HasX() {
		x = ir.NewParam("x", types.I32)
		params = append(params, x)
	}
	if fusedSig.HasY() {
		y = ir.NewParam("y", types.I32)
		params = append(params, y)
	}
	if fusedSig.HasZ() {
		z = ir.NewParam("z", types.I32)
		params = append(params, z)
	}

	retTy := types.Type(types.Void)
	if fusedSig.HasOut() {
		retTy = members[len(members)-1].fn.Sig.RetType
	}

	fused := dst.NewFunc(fusedName, retTy, params...)
	entry := fused.NewBlock("entry")

	// Thread the running element through the chain. Each member only
	// receives the arguments its own signature declares.
	var data value.Value
	if dataIn != nil {
		data = dataIn
	}
	for _, r := range members {
		var args []value.Value
		if r.kernel.Signature.HasIn() {
			args = append(args, data)
		}
		if r.kernel.Signature.HasX() {
			args = append(args, x)
		}
		if r.kernel.Signature.HasY() {
			args = append(args, y)
		}
		if r.kernel.Signature.HasZ() {
			args = append(args, z)
		}
		call := entry.NewCall(r.fn, args...)
		if types.IsVoid(r.fn.Sig.RetType) {
			data = nil
		} else {
			data = call
		}
	}

	if fusedSig.HasOut() {
		entry.NewRet(data)
	} else {
		entry.NewRet(nil)
	}
}

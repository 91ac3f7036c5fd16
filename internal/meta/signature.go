package meta

import (
	"fmt"
	"strconv"
)

// Signature describes how a kernel consumes and produces grid data.
// The bit values are fixed: they are the wire format of the decimal
// strings stored in the gs_export_kernel metadata list.
type Signature uint32

const (
	SigIn     Signature = 1 << iota // kernel takes an input element
	SigOut                          // kernel returns an output element
	SigCtx                          // kernel takes a launch context (unsupported)
	SigX                            // kernel takes an x coordinate
	SigY                            // kernel takes a y coordinate
	SigZ                            // kernel takes a z coordinate
	SigKernel                       // function follows the kernel calling convention
)

// sigSupported is the set of bits the fusion engine understands.
const sigSupported = SigIn | SigOut | SigX | SigY | SigZ | SigKernel

// HasIn reports whether the kernel consumes an input element.
func (s Signature) HasIn() bool { return s&SigIn != 0 }

// HasOut reports whether the kernel produces an output element.
func (s Signature) HasOut() bool { return s&SigOut != 0 }

// HasCtx reports whether the kernel takes a launch context parameter.
func (s Signature) HasCtx() bool { return s&SigCtx != 0 }

// HasX reports whether the kernel takes an x coordinate.
func (s Signature) HasX() bool { return s&SigX != 0 }

// HasY reports whether the kernel takes a y coordinate.
func (s Signature) HasY() bool { return s&SigY != 0 }

// HasZ reports whether the kernel takes a z coordinate.
func (s Signature) HasZ() bool { return s&SigZ != 0 }

// IsKernel reports whether the function follows the kernel calling
// convention (value in, value out) rather than the legacy pointer form.
func (s Signature) IsKernel() bool { return s&SigKernel != 0 }

// Unsupported returns true if the signature carries any bit the fusion
// engine does not understand, including the launch context bit.
func (s Signature) Unsupported() bool { return s&^sigSupported != 0 }

// CoordCount returns the number of coordinate parameters the signature
// declares.
func (s Signature) CoordCount() int {
	n := 0
	if s.HasX() {
		n++
	}
	if s.HasY() {
		n++
	}
	if s.HasZ() {
		n++
	}
	return n
}

// String returns the decimal wire form of the signature.
func (s Signature) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseSignature converts the decimal wire form back to a Signature.
func ParseSignature(s string) (Signature, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid kernel signature %q: %w", s, err)
	}
	return Signature(v), nil
}

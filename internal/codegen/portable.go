package codegen

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// codeAlign and dataAlign are the entry alignments inside a segment.
const (
	codeAlign = 16
	dataAlign = 8
)

// PortableBackend emits the portable image form: each function
// definition is serialized for the host runtime's dispatcher, each
// global definition is encoded little-endian. The same module and
// options always produce the same bytes.
type PortableBackend struct{}

// Name identifies the backend.
func (PortableBackend) Name() string { return "portable" }

// Generate lays out the code and data segments in module order.
func (PortableBackend) Generate(m *ir.Module, opts Options) (*Image, error) {
	img := &Image{}
	img.Code = append(img.Code, banner(opts)...)

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			// Declarations bind at load time.
			continue
		}
		img.Code = pad(img.Code, codeAlign)
		off, err := safecast.Conv[uint32](len(img.Code))
		if err != nil {
			return nil, fmt.Errorf("code segment overflow at @%s: %w", f.Name(), err)
		}
		body := []byte(f.LLString())
		size, err := safecast.Conv[uint32](len(body))
		if err != nil {
			return nil, fmt.Errorf("function @%s too large: %w", f.Name(), err)
		}
		img.Code = append(img.Code, body...)
		img.Symbols = append(img.Symbols, Symbol{Name: f.Name(), Kind: SymbolFunc, Offset: off, Size: size})
	}

	for _, g := range m.Globals {
		if g.Init == nil {
			continue
		}
		img.Data = pad(img.Data, dataAlign)
		off, err := safecast.Conv[uint32](len(img.Data))
		if err != nil {
			return nil, fmt.Errorf("data segment overflow at @%s: %w", g.Name(), err)
		}
		enc := encodeConst(g.Init)
		size, err := safecast.Conv[uint32](len(enc))
		if err != nil {
			return nil, fmt.Errorf("global @%s too large: %w", g.Name(), err)
		}
		img.Data = append(img.Data, enc...)
		img.Symbols = append(img.Symbols, Symbol{Name: g.Name(), Kind: SymbolVar, Offset: off, Size: size})
	}

	return img, nil
}

// banner heads the code segment with the target so an image can never
// be confused with one built for different options.
func banner(opts Options) []byte {
	var sb strings.Builder
	sb.WriteString("; gridcc portable image\n")
	fmt.Fprintf(&sb, "; target triple=%s cpu=%s features=%s opt=%d\n",
		opts.Triple, opts.CPU, strings.Join(opts.Features, ","), opts.OptLevel)
	return []byte(sb.String())
}

// pad extends the segment with zero bytes up to the alignment.
func pad(seg []byte, align int) []byte {
	for len(seg)%align != 0 {
		seg = append(seg, 0)
	}
	return seg
}

// encodeConst encodes an initializer little-endian. Aggregates are
// packed; anything unrecognized becomes zero fill of its type size.
func encodeConst(c constant.Constant) []byte {
	switch c := c.(type) {
	case *constant.Int:
		size := typeSize(c.Typ)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(c.X.Int64()))
		if size > len(buf) {
			out := make([]byte, size)
			copy(out, buf[:])
			return out
		}
		return append([]byte(nil), buf[:size]...)
	case *constant.Float:
		switch c.Typ.Kind {
		case types.FloatKindFloat:
			f, _ := c.X.Float32()
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
			return buf[:]
		default:
			f, _ := c.X.Float64()
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			return buf[:]
		}
	case *constant.CharArray:
		return append([]byte(nil), c.X...)
	case *constant.Array:
		var out []byte
		for _, elem := range c.Elems {
			out = append(out, encodeConst(elem)...)
		}
		return out
	case *constant.Struct:
		var out []byte
		for _, field := range c.Fields {
			out = append(out, encodeConst(field)...)
		}
		return out
	default:
		return make([]byte, typeSize(c.Type()))
	}
}

// typeSize is the packed byte size of a type in the portable image.
func typeSize(t types.Type) int {
	switch t := t.(type) {
	case *types.IntType:
		return int((t.BitSize + 7) / 8)
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return 2
		case types.FloatKindFloat:
			return 4
		default:
			return 8
		}
	case *types.PointerType:
		return 8
	case *types.ArrayType:
		return int(t.Len) * typeSize(t.ElemType)
	case *types.VectorType:
		return int(t.Len) * typeSize(t.ElemType)
	case *types.StructType:
		n := 0
		for _, f := range t.Fields {
			n += typeSize(f)
		}
		return n
	default:
		return 8
	}
}

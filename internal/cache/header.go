package cache

import (
	"encoding/binary"
	"io"
)

// Cache files start with a fixed 64-byte little-endian header. The
// magic and every dependency timestamp must match or the file is
// treated as a miss.
var magic = [4]byte{'G', 'K', 'C', 1}

const (
	// FormatVersion increments when the file layout changes.
	FormatVersion uint32 = 1
	// recordSchema increments when the Record shape changes.
	recordSchema uint16 = 1

	headerSize = 64
	pageSize   = 4096
)

// Deps are the dependency timestamps a cache file is keyed by: the
// script itself, the two libraries linked into every build, and the
// compiler binary. All four must match for a file to be loadable.
type Deps struct {
	Source   uint32
	Runtime  uint32
	Graphics uint32
	Compiler uint32
}

type header struct {
	Magic     [4]byte
	Version   uint32
	Deps      Deps
	BaseAddr  uint64 // slot base at generation time, for diagnostics
	TableOff  uint32
	TableSize uint32
	CodeOff   uint32
	CodeSize  uint32
	DataOff   uint32
	DataSize  uint32
	Reserved  [8]byte
}

func writeHeader(w io.Writer, h *header) error {
	return binary.Write(w, binary.LittleEndian, h)
}

func readHeader(r io.Reader) (*header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// pageAlign rounds n up to the next page boundary.
func pageAlign(n int) int {
	if rem := n % pageSize; rem != 0 {
		return n + pageSize - rem
	}
	return n
}

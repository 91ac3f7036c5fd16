package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// Miss explains why a cache probe did not produce a loadable file.
type Miss uint8

const (
	MissNone Miss = iota // hit
	MissAbsent
	MissBadMagic
	MissBadVersion
	MissStaleSource
	MissStaleRuntime
	MissStaleGraphics
	MissStaleCompiler
	MissCorrupt
)

// String returns the string representation of Miss.
func (m Miss) String() string {
	switch m {
	case MissNone:
		return "hit"
	case MissAbsent:
		return "absent"
	case MissBadMagic:
		return "bad magic"
	case MissBadVersion:
		return "format version mismatch"
	case MissStaleSource:
		return "source changed"
	case MissStaleRuntime:
		return "runtime library changed"
	case MissStaleGraphics:
		return "graphics library changed"
	case MissStaleCompiler:
		return "compiler changed"
	case MissCorrupt:
		return "corrupt file"
	default:
		return "unknown"
	}
}

// File is a fully read and validated cache file.
type File struct {
	Deps     Deps
	BaseAddr uint64
	Record   Record
	Code     []byte
	Data     []byte
}

// Write serializes a cache file: header, msgpack table record, then the
// code segment page-aligned and the data segment straight after. The
// file appears atomically via a temp file and rename.
func Write(path string, deps Deps, base uintptr, rec *Record, code, data []byte) error {
	rec.Schema = recordSchema
	var tables bytes.Buffer
	if err := msgpack.NewEncoder(&tables).Encode(rec); err != nil {
		return fmt.Errorf("cache: encode tables: %w", err)
	}

	tableSize, err := safecast.Conv[uint32](tables.Len())
	if err != nil {
		return fmt.Errorf("cache: table section too large: %w", err)
	}
	codeOff := pageAlign(headerSize + tables.Len())
	codeSize, err := safecast.Conv[uint32](len(code))
	if err != nil {
		return fmt.Errorf("cache: code segment too large: %w", err)
	}
	dataSize, err := safecast.Conv[uint32](len(data))
	if err != nil {
		return fmt.Errorf("cache: data segment too large: %w", err)
	}
	codeOff32, err := safecast.Conv[uint32](codeOff)
	if err != nil {
		return fmt.Errorf("cache: file too large: %w", err)
	}

	h := header{
		Magic:     magic,
		Version:   FormatVersion,
		Deps:      deps,
		BaseAddr:  uint64(base),
		TableOff:  headerSize,
		TableSize: tableSize,
		CodeOff:   codeOff32,
		CodeSize:  codeSize,
		DataOff:   codeOff32 + codeSize,
		DataSize:  dataSize,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() {
		// Best effort: gone already if the rename happened.
		_ = os.Remove(f.Name())
	}()

	if err := writeHeader(f, &h); err != nil {
		f.Close()
		return fmt.Errorf("cache: write header: %w", err)
	}
	if _, err := f.Write(tables.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("cache: write tables: %w", err)
	}
	if _, err := f.Write(make([]byte, codeOff-headerSize-tables.Len())); err != nil {
		f.Close()
		return fmt.Errorf("cache: pad tables: %w", err)
	}
	if _, err := f.Write(code); err != nil {
		f.Close()
		return fmt.Errorf("cache: write code: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("cache: write data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return os.Rename(f.Name(), path)
}

// Load reads and validates the cache file at path. Absent, stale and
// corrupt files are misses, not errors; the Miss value says why. Only
// environmental failures (permissions, I/O) return an error.
func Load(path string, deps Deps) (*File, Miss, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, MissAbsent, nil
		}
		return nil, MissAbsent, fmt.Errorf("cache: %w", err)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, MissCorrupt, nil
	}
	if h.Magic != magic {
		return nil, MissBadMagic, nil
	}
	if h.Version != FormatVersion {
		return nil, MissBadVersion, nil
	}
	if h.Deps.Source != deps.Source {
		return nil, MissStaleSource, nil
	}
	if h.Deps.Runtime != deps.Runtime {
		return nil, MissStaleRuntime, nil
	}
	if h.Deps.Graphics != deps.Graphics {
		return nil, MissStaleGraphics, nil
	}
	if h.Deps.Compiler != deps.Compiler {
		return nil, MissStaleCompiler, nil
	}

	// Bound every section by the real file size before allocating, so a
	// corrupt header cannot demand gigabytes.
	st, err := f.Stat()
	if err != nil {
		return nil, MissCorrupt, nil
	}
	if !sectionFits(st.Size(), h.TableOff, h.TableSize) ||
		!sectionFits(st.Size(), h.CodeOff, h.CodeSize) ||
		!sectionFits(st.Size(), h.DataOff, h.DataSize) {
		return nil, MissCorrupt, nil
	}

	out := &File{Deps: h.Deps, BaseAddr: h.BaseAddr}

	tables := make([]byte, h.TableSize)
	if _, err := f.ReadAt(tables, int64(h.TableOff)); err != nil {
		return nil, MissCorrupt, nil
	}
	if err := msgpack.NewDecoder(bytes.NewReader(tables)).Decode(&out.Record); err != nil {
		return nil, MissCorrupt, nil
	}
	if out.Record.Schema != recordSchema {
		return nil, MissBadVersion, nil
	}

	out.Code = make([]byte, h.CodeSize)
	if h.CodeSize > 0 {
		if _, err := f.ReadAt(out.Code, int64(h.CodeOff)); err != nil && err != io.EOF {
			return nil, MissCorrupt, nil
		}
	}
	out.Data = make([]byte, h.DataSize)
	if h.DataSize > 0 {
		if _, err := f.ReadAt(out.Data, int64(h.DataOff)); err != nil && err != io.EOF {
			return nil, MissCorrupt, nil
		}
	}
	return out, MissNone, nil
}

func sectionFits(fileSize int64, off, n uint32) bool {
	return int64(off)+int64(n) <= fileSize
}

// Path is the canonical cache file for a resource name. Linked modules
// get their own key so a script never aliases its linked variant.
func Path(dir, resName string, linked bool) string {
	name := sanitize(resName)
	if linked {
		name += ".linked"
	}
	return filepath.Join(dir, name+".gkc")
}

// sanitize keeps resource names filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// DefaultDir is the standard cache location.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "gridcc"), nil
}

// DepsFromFiles derives dependency timestamps from file modification
// times. Empty paths contribute a zero timestamp.
func DepsFromFiles(source, runtime, graphics, compiler string) (Deps, error) {
	var d Deps
	var err error
	if d.Source, err = mtime(source); err != nil {
		return Deps{}, err
	}
	if d.Runtime, err = mtime(runtime); err != nil {
		return Deps{}, err
	}
	if d.Graphics, err = mtime(graphics); err != nil {
		return Deps{}, err
	}
	if d.Compiler, err = mtime(compiler); err != nil {
		return Deps{}, err
	}
	return d, nil
}

func mtime(path string) (uint32, error) {
	if path == "" {
		return 0, nil
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("cache: %w", err)
	}
	// The header stores seconds; truncation matches the file format.
	return uint32(st.ModTime().Unix()), nil
}

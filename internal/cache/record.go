// Package cache persists compiled images keyed by dependency
// timestamps and owns the fixed virtual-address slots they load into.
package cache

// Entry kinds, matching the symbol kinds the backend emits.
const (
	EntryFunc uint8 = 1
	EntryVar  uint8 = 2
)

// Entry locates one symbol inside the cached image. Offsets are
// segment-relative so a cached image can load at any slot.
type Entry struct {
	Name   string
	Kind   uint8
	Offset uint32
	Size   uint32
}

// Pragma is one cached key/value pragma pair.
type Pragma struct {
	Key   string
	Value string
}

// Record is the variable-length table section of a cache file: the
// export tables and the full symbol list of the image.
type Record struct {
	// Schema version for safe invalidation when the record shape changes.
	Schema uint16

	Backend     string   // backend that produced the image
	ExportVars  []string // exported globals, metadata order
	ExportFuncs []string // exported invoke functions, metadata order
	Pragmas     []Pragma
	Symbols     []Entry
}

// Symbol returns the named entry of the record.
func (r *Record) Symbol(name string) (Entry, bool) {
	for _, e := range r.Symbols {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

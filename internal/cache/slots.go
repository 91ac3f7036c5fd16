package cache

import (
	"errors"
	"fmt"
	"sync"
)

// The loader ABI reserves a fixed virtual-address window for cached
// images: a small number of uniform slots, each with room for a code
// segment and a data segment. Cached export tables hold segment
// offsets, so an image is valid in any slot of the same geometry.
const (
	DefaultBase    uintptr = 0x7e000000
	DefaultSlots           = 5
	DefaultCodeMax         = 128 << 10
	DefaultDataMax         = 128 << 10
)

var (
	// ErrNoFreeSlot means every address slot is occupied. Loading must
	// fail; there is no fallback address space.
	ErrNoFreeSlot = errors.New("cache: no free address slot")
	// ErrImageTooLarge means a segment exceeds the slot geometry.
	ErrImageTooLarge = errors.New("cache: image exceeds slot size")
)

// Geometry describes the slot window. The zero value means the default
// ABI constants.
type Geometry struct {
	Base    uintptr
	Slots   int
	CodeMax int
	DataMax int
}

func (g Geometry) withDefaults() Geometry {
	if g.Base == 0 {
		g.Base = DefaultBase
	}
	if g.Slots == 0 {
		g.Slots = DefaultSlots
	}
	if g.CodeMax == 0 {
		g.CodeMax = DefaultCodeMax
	}
	if g.DataMax == 0 {
		g.DataMax = DefaultDataMax
	}
	return g
}

// SlotSize is the span of one slot: code segment then data segment.
func (g Geometry) SlotSize() int { return g.CodeMax + g.DataMax }

// Fits reports whether an image fits a slot.
func (g Geometry) Fits(codeLen, dataLen int) bool {
	return codeLen <= g.CodeMax && dataLen <= g.DataMax
}

// SlotTable hands out address slots. It is shared between compiler
// instances and safe for concurrent use.
type SlotTable struct {
	geo Geometry

	mu    sync.Mutex
	taken []bool
}

// NewSlotTable builds a table for the geometry; zero fields fall back
// to the ABI defaults.
func NewSlotTable(geo Geometry) *SlotTable {
	geo = geo.withDefaults()
	return &SlotTable{geo: geo, taken: make([]bool, geo.Slots)}
}

// Geometry returns the table's slot geometry.
func (t *SlotTable) Geometry() Geometry { return t.geo }

// Acquire reserves the lowest free slot.
func (t *SlotTable) Acquire() (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, used := range t.taken {
		if used {
			continue
		}
		t.taken[i] = true
		return &Slot{
			table: t,
			index: i,
			base:  t.geo.Base + uintptr(i*t.geo.SlotSize()),
		}, nil
	}
	return nil, fmt.Errorf("%w: all %d slots in use", ErrNoFreeSlot, len(t.taken))
}

// Free reports how many slots are available.
func (t *SlotTable) Free() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, used := range t.taken {
		if !used {
			n++
		}
	}
	return n
}

// Slot is one reserved address range. Release returns it to the table.
type Slot struct {
	table *SlotTable
	index int
	base  uintptr

	mu       sync.Mutex
	released bool
}

// Base is the slot's fixed virtual address.
func (s *Slot) Base() uintptr { return s.base }

// Index is the slot's position in the table.
func (s *Slot) Index() int { return s.index }

// Size is the slot's total span in bytes.
func (s *Slot) Size() int { return s.table.geo.SlotSize() }

// CodeMax is the code segment capacity.
func (s *Slot) CodeMax() int { return s.table.geo.CodeMax }

// DataMax is the data segment capacity.
func (s *Slot) DataMax() int { return s.table.geo.DataMax }

// DataBase is the fixed address of the slot's data segment.
func (s *Slot) DataBase() uintptr { return s.base + uintptr(s.table.geo.CodeMax) }

// Release returns the slot to the table. Safe to call twice.
func (s *Slot) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.table.mu.Lock()
	s.table.taken[s.index] = false
	s.table.mu.Unlock()
}

//go:build linux

package cache

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SlotsSupported reports whether fixed-address mapping works here.
func SlotsSupported() bool { return true }

// MapSlot maps an anonymous writable region over the slot's fixed
// address range. MAP_FIXED_NOREPLACE refuses to clobber a mapping that
// already occupies the window.
func MapSlot(s *Slot) ([]byte, error) {
	addr := unsafe.Pointer(s.Base()) //nolint:govet // fixed loader address
	p, err := unix.MmapPtr(-1, 0, addr, uintptr(s.Size()),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED_NOREPLACE)
	if err != nil {
		return nil, fmt.Errorf("cache: map slot %d at %#x: %w", s.Index(), s.Base(), err)
	}
	if uintptr(p) != s.Base() {
		// Pre-4.17 kernels ignore MAP_FIXED_NOREPLACE and may place the
		// mapping elsewhere; that region is useless as a slot.
		_ = unix.MunmapPtr(p, uintptr(s.Size()))
		return nil, fmt.Errorf("cache: slot %d landed at %#x, want %#x", s.Index(), uintptr(p), s.Base())
	}
	return unsafe.Slice((*byte)(p), s.Size()), nil
}

// UnmapSlot releases a mapping produced by MapSlot.
func UnmapSlot(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.MunmapPtr(unsafe.Pointer(&b[0]), uintptr(len(b)))
}

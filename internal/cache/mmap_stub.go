//go:build !linux

package cache

import "errors"

// SlotsSupported reports whether fixed-address mapping works here.
func SlotsSupported() bool { return false }

// MapSlot is unavailable off Linux; the pipeline falls back to heap
// images with caching disabled.
func MapSlot(s *Slot) ([]byte, error) {
	return nil, errors.New("cache: fixed-address slots are not supported on this platform")
}

// UnmapSlot matches the Linux signature; nothing to release.
func UnmapSlot(b []byte) error { return nil }

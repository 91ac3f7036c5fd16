package cache

import "unsafe"

// BufferBase is the address of a heap image, used when fixed slots are
// unavailable. The caller must keep the slice alive for as long as the
// address is handed out.
func BufferBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

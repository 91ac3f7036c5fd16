// Package runtimeembed carries the builtin GridScript runtime library.
// Scripts that declare the gs_* helpers link against it when no
// external runtime library is configured.
package runtimeembed

import (
	_ "embed"
)

//go:embed lib/runtime.ll
var runtimeLL []byte

// Name is the library name recorded for link and cache bookkeeping.
const Name = "builtin-runtime.ll"

// Runtime returns the builtin runtime library as bitcode assembly. The
// returned slice is a copy.
func Runtime() []byte {
	return append([]byte(nil), runtimeLL...)
}

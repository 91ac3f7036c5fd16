package buildpipeline

import (
	"fmt"
	"strings"

	"gridcc/internal/meta"
	"gridcc/internal/script"
)

// UndefinedExports lists metadata-exported functions that have no body
// in the module. Compiling such a script produces an image whose export
// tables bind those names to nothing, so the build refuses it up front.
func UndefinedExports(src *script.Source) []string {
	if src == nil {
		return nil
	}
	info := src.Info()
	mod := src.Module()
	seen := make(map[string]struct{})
	var missing []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		fn := meta.FindFunc(mod, name)
		if fn == nil || len(fn.Blocks) == 0 {
			missing = append(missing, name)
		}
	}
	for _, k := range info.Kernels {
		add(k.Name)
	}
	for _, fname := range info.Funcs {
		add(fname)
	}
	return missing
}

// ValidateExports ensures every exported kernel and invoke function is
// defined after linking.
func ValidateExports(src *script.Source) error {
	missing := UndefinedExports(src)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("exports remain undefined after linking: %s (link the library that defines them)",
		strings.Join(missing, ", "))
}

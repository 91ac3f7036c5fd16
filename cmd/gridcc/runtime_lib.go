package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	runtimeembed "gridcc/runtime"
)

// materializeBuiltinRuntime writes the embedded runtime library into
// the cache directory. The file is only rewritten when its content
// changed, so its timestamp stays stable and cached images survive
// across runs.
func materializeBuiltinRuntime(cacheDir string) (string, error) {
	if cacheDir == "" {
		return "", fmt.Errorf("the builtin runtime library needs a cache directory")
	}
	data := runtimeembed.Runtime()
	path := filepath.Join(cacheDir, runtimeembed.Name)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return path, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write builtin runtime: %w", err)
	}
	return path, nil
}

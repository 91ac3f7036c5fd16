package buildpipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CollectScripts expands build targets into script paths: files pass
// through, directories contribute their .ll files sorted by name.
func CollectScripts(targets []string) ([]string, error) {
	var scripts []string
	seen := make(map[string]struct{})
	appendScript := func(path string) {
		path = filepath.Clean(path)
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		scripts = append(scripts, path)
	}

	for _, target := range targets {
		if target == "" {
			continue
		}
		st, err := os.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("build target %q: %w", target, err)
		}
		if !st.IsDir() {
			appendScript(target)
			continue
		}
		entries, err := os.ReadDir(target)
		if err != nil {
			return nil, fmt.Errorf("build target %q: %w", target, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".ll") {
				continue
			}
			found = append(found, filepath.Join(target, e.Name()))
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("build target %q contains no .ll scripts", target)
		}
		sort.Strings(found)
		for _, f := range found {
			appendScript(f)
		}
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no build targets")
	}
	return scripts, nil
}

// DisplayName renders a script path for progress output: relative to
// baseDir when possible, slash-separated.
func DisplayName(path, baseDir string) string {
	clean := filepath.Clean(path)
	base := strings.TrimSpace(baseDir)
	if base != "" {
		if abs, err := filepath.Abs(base); err == nil {
			base = abs
		}
		if abs, err := filepath.Abs(clean); err == nil {
			if rel, err := filepath.Rel(base, abs); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
				clean = rel
			}
		}
	}
	return filepath.ToSlash(clean)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/spf13/cobra"

	"gridcc/internal/fusion"
	"gridcc/internal/script"
	"gridcc/internal/trace"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse --name NAME [flags] SCRIPT.ll:SLOT...",
	Short: "Fuse a kernel chain into one function",
	Long: `Merge the named scripts into one module and synthesize a fused kernel
that runs the chain members in order. Chain members are given as
SCRIPT.ll:SLOT where SLOT indexes the script's kernel table.`,
	Args: cobra.MinimumNArgs(1),
	RunE: fuseExecution,
}

// chainRef is one SCRIPT.ll:SLOT argument.
type chainRef struct {
	path string
	slot int
}

func fuseExecution(cmd *cobra.Command, args []string) error {
	fusedName, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	renames, err := cmd.Flags().GetStringArray("rename-invoke")
	if err != nil {
		return err
	}
	if strings.TrimSpace(fusedName) == "" {
		return fmt.Errorf("--name is required")
	}

	traceCleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer traceCleanup()
	tr := trace.FromContext(cmd.Context())

	refs := make([]chainRef, 0, len(args))
	for _, arg := range args {
		ref, err := parseChainRef(arg)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	// Load each script once, in first-appearance order, and merge them
	// all into the destination module the fused kernel lands in.
	sources := make(map[string]*script.Source)
	dst := ir.NewModule()
	for _, ref := range refs {
		if _, ok := sources[ref.path]; ok {
			continue
		}
		src, err := loadScript(ref.path)
		if err != nil {
			return err
		}
		if err := script.Merge(dst, src.Module()); err != nil {
			return fmt.Errorf("failed to merge %s: %w", ref.path, err)
		}
		sources[ref.path] = src
	}

	chain := make([]fusion.Member, 0, len(refs))
	for _, ref := range refs {
		src := sources[ref.path]
		if ref.slot >= len(src.Info().Kernels) {
			return fmt.Errorf("%s has no kernel slot %d (%d kernels)", ref.path, ref.slot, len(src.Info().Kernels))
		}
		chain = append(chain, fusion.Member{Source: src, Slot: ref.slot})
	}

	if err := fusion.Fuse(chain, fusedName, dst, tr); err != nil {
		return err
	}

	for _, spec := range renames {
		ref, newName, err := parseRenameSpec(spec)
		if err != nil {
			return err
		}
		src, ok := sources[ref.path]
		if !ok {
			return fmt.Errorf("--rename-invoke %s: script is not part of the chain", spec)
		}
		if ref.slot >= len(src.Info().Funcs) {
			return fmt.Errorf("%s has no invoke slot %d (%d invokes)", ref.path, ref.slot, len(src.Info().Funcs))
		}
		if err := fusion.RenameInvoke(src, ref.slot, newName, dst, tr); err != nil {
			return err
		}
	}

	return writeModule(dst, outputPath, len(chain))
}

// parseChainRef splits SCRIPT.ll:SLOT.
func parseChainRef(arg string) (chainRef, error) {
	idx := strings.LastIndex(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return chainRef{}, fmt.Errorf("invalid chain member %q (expected SCRIPT.ll:SLOT)", arg)
	}
	slot, err := strconv.Atoi(arg[idx+1:])
	if err != nil || slot < 0 {
		return chainRef{}, fmt.Errorf("invalid kernel slot in %q (expected SCRIPT.ll:SLOT)", arg)
	}
	return chainRef{path: filepath.Clean(arg[:idx]), slot: slot}, nil
}

// parseRenameSpec splits SCRIPT.ll:SLOT=NEWNAME.
func parseRenameSpec(spec string) (chainRef, string, error) {
	eq := strings.LastIndex(spec, "=")
	if eq <= 0 || eq == len(spec)-1 {
		return chainRef{}, "", fmt.Errorf("invalid --rename-invoke %q (expected SCRIPT.ll:SLOT=NAME)", spec)
	}
	ref, err := parseChainRef(spec[:eq])
	if err != nil {
		return chainRef{}, "", fmt.Errorf("invalid --rename-invoke %q (expected SCRIPT.ll:SLOT=NAME)", spec)
	}
	return ref, spec[eq+1:], nil
}

func loadScript(path string) (*script.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %q: %w", path, err)
	}
	src, err := script.Parse(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// writeModule renders the module as IR text to the output path, or to
// stdout when the path is empty or "-".
func writeModule(m *ir.Module, path string, kernels int) error {
	if path == "" || path == "-" {
		_, err := m.WriteTo(os.Stdout)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", path, err)
	}
	if _, err := m.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, fprintfErr := fmt.Fprintf(os.Stdout, "fused %d kernels into %s\n", kernels, filepath.ToSlash(path))
	return fprintfErr
}

func init() {
	fuseCmd.Flags().StringP("name", "n", "", "name of the fused kernel (required)")
	fuseCmd.Flags().StringP("output", "o", "", "write the fused module here (- or empty for stdout)")
	fuseCmd.Flags().StringArray("rename-invoke", nil, "rename an invoke as SCRIPT.ll:SLOT=NAME (repeatable)")
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [path|name]",
	Short: "Initialize a new gridcc project",
	Long: `Initialize a new gridcc project by creating a project manifest (gridcc.toml)
and a sample kernel script (kernels/invert.ll). If [path|name] is omitted,
initializes the current directory. If a non-existing name is provided, a
directory will be created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

// runInit initializes a gridcc project at the specified target path (or the
// current working directory when no argument or "." is provided) by creating
// a gridcc.toml manifest and a sample kernel script.
//
// It resolves the target path, creates the directory if it does not exist,
// derives a project name from the directory basename (falling back to
// "gridcc-project" for invalid names), and refuses to initialize if
// gridcc.toml already exists.
func runInit(cmd *cobra.Command, args []string) error {
	// Resolve target directory
	var target string
	if len(args) == 0 || args[0] == "." {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		target = wd
	} else {
		// treat as path or name relative to cwd
		arg := args[0]
		if !filepath.IsAbs(arg) {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			target = filepath.Join(wd, arg)
		} else {
			target = arg
		}
	}

	// Ensure directory exists
	if st, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %q: %w", target, err)
			}
		} else {
			return err
		}
	} else if !st.IsDir() {
		return fmt.Errorf("%q is not a directory", target)
	}

	// Determine project name from directory basename
	name := filepath.Base(target)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "gridcc-project"
	}

	// Create manifest file if not exists
	manifestPath := filepath.Join(target, "gridcc.toml")
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("project already initialized: %s exists", manifestPath)
	}

	manifest := buildDefaultManifest(name)
	if err := os.WriteFile(manifestPath, []byte(manifest), os.FileMode(0o600)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	// Create the sample kernel if not exists
	scriptPath := filepath.Join(target, "kernels", "invert.ll")
	createdScript := false
	if _, err := os.Stat(scriptPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
			return fmt.Errorf("failed to create kernels directory: %w", err)
		}
		if err := os.WriteFile(scriptPath, []byte(defaultKernelScript()), 0o600); err != nil {
			return fmt.Errorf("failed to write kernels/invert.ll: %w", err)
		}
		createdScript = true
	}

	rel := target
	if wd, err := os.Getwd(); err == nil {
		if r, err2 := filepath.Rel(wd, target); err2 == nil {
			rel = r
		}
	}
	fmt.Fprintf(os.Stdout, "Initialized gridcc project in %s\n", rel)
	fmt.Fprintf(os.Stdout, "  - gridcc.toml\n")
	if createdScript {
		fmt.Fprintf(os.Stdout, "  - kernels/invert.ll\n")
	} else {
		fmt.Fprintf(os.Stdout, "  - kernels/invert.ll (existing)\n")
	}
	return nil
}

// buildDefaultManifest returns a minimal TOML manifest for a gridcc project
// using the provided package name.
func buildDefaultManifest(name string) string {
	// Minimal TOML manifest used as a project marker.
	return fmt.Sprintf(`# GridScript project manifest
[package]
name = "%s"
version = "0.1.0"

[build]
scripts = ["kernels"]

# [target]
# triple = "aarch64-unknown-linux-gnu"
# cpu = "generic"
# opt = "3"

# [libs]
# runtime = "builtin"
`, name)
}

// defaultKernelScript returns the placeholder kernel used when initializing
// a new project: one exported global, one invert kernel and one invoke.
func defaultKernelScript() string {
	return `; GridScript sample kernel (placeholder)

@factor = global i32 2

define i32 @invert(i32 %v) {
entry:
	%r = sub i32 255, %v
	ret i32 %r
}

define void @set_factor(i32 %n) {
entry:
	store i32 %n, i32* @factor
	ret void
}

!gs_export_var = !{!0}
!gs_export_func = !{!1}
!gs_export_kernel_name = !{!2}
!gs_export_kernel = !{!3}
!gs_pragma = !{!4}

!0 = !{!"factor"}
!1 = !{!"set_factor"}
!2 = !{!"invert"}
!3 = !{!"67"}
!4 = !{!"version", !"1"}
`
}

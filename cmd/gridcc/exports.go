package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gridcc/internal/buildpipeline"
	"gridcc/internal/compiler"
)

var exportsCmd = &cobra.Command{
	Use:   "exports [flags] SCRIPT.ll",
	Short: "Show the export tables of a compiled script",
	Long: `Compile a script (or load it from the image cache) and print its
exported variables, invoke functions, kernels and pragmas with the
addresses they bind to.`,
	Args: cobra.ExactArgs(1),
	RunE: exportsExecution,
}

func exportsExecution(cmd *cobra.Command, args []string) error {
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return err
	}

	traceCleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer traceCleanup()
	profCleanup, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer profCleanup()

	manifest, _, err := loadProjectManifest(".")
	if err != nil {
		return err
	}
	settings, err := resolveBuildSettings(cmd, manifest, "debug")
	if err != nil {
		return err
	}
	env := settings.newEnvironment(cmd)

	req := buildpipeline.CompileRequest{
		ScriptPath:  args[0],
		RuntimeLib:  settings.runtimeLib,
		GraphicsLib: settings.graphicsLib,
		Env:         env,
		NoCache:     noCache,
	}
	res, err := buildpipeline.CompileScript(cmd.Context(), &req)
	if err != nil {
		return err
	}
	defer res.Compiler.Close()

	printExportReport(cmd.OutOrStdout(), res.Compiler, env, res.CacheHit)
	return nil
}

func printExportReport(out io.Writer, c *compiler.Compiler, env *compiler.Environment, cacheHit bool) {
	heading := color.New(color.Bold)

	state := "compiled"
	if cacheHit {
		state = "loaded from cache"
	}
	fmt.Fprintf(out, "%s: %s\n", c.Name(), state)
	fmt.Fprintf(out, "backend: %s\n", env.Backend().Name())
	fmt.Fprintf(out, "target: %s\n", env.Target().Triple)

	info := c.Source().Info()

	if len(info.Kernels) > 0 {
		heading.Fprintln(out, "\nkernels:")
		for slot, k := range info.Kernels {
			fmt.Fprintf(out, "  %2d  %-24s %s  %#x\n", slot, k.Name, k.Signature, c.Lookup(k.Name))
		}
	}

	if len(info.Vars) > 0 {
		addrs := make([]uintptr, len(info.Vars))
		c.ExportVars(addrs)
		heading.Fprintln(out, "\nvariables:")
		for slot, name := range info.Vars {
			fmt.Fprintf(out, "  %2d  %-24s %#x\n", slot, name, addrs[slot])
		}
	}

	if len(info.Funcs) > 0 {
		addrs := make([]uintptr, len(info.Funcs))
		c.ExportFuncs(addrs)
		heading.Fprintln(out, "\ninvokes:")
		for slot, name := range info.Funcs {
			if base, size, ok := c.FunctionBinary(name); ok {
				fmt.Fprintf(out, "  %2d  %-24s %#x  %d bytes\n", slot, name, base, size)
			} else {
				fmt.Fprintf(out, "  %2d  %-24s %#x\n", slot, name, addrs[slot])
			}
		}
	}

	if len(info.Pragmas) > 0 {
		heading.Fprintln(out, "\npragmas:")
		for _, p := range info.Pragmas {
			fmt.Fprintf(out, "  %s = %s\n", p.Key, p.Value)
		}
	}
}

func init() {
	registerTargetFlags(exportsCmd)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gridcc/internal/cache"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove gridcc build artifacts (target directory)",
	Long:  "Remove the target directory holding compiled images, and with --cache the image cache as well.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	withCache, err := cmd.Flags().GetBool("cache")
	if err != nil {
		return err
	}
	cacheDirFlag, err := cmd.Flags().GetString("cache-dir")
	if err != nil {
		return err
	}

	baseDir := "."
	if len(args) > 0 && args[0] != "" {
		baseDir = args[0]
	}
	baseDir, manifest, err := resolveCleanBase(baseDir)
	if err != nil {
		return err
	}
	targetDir := filepath.Join(baseDir, "target")
	if err := removeDir(targetDir, baseDir, "target directory"); err != nil {
		return err
	}

	if !withCache {
		return nil
	}
	cacheDir := cacheDirFlag
	if cacheDir == "" && manifest != nil {
		cacheDir = manifest.resolvePath(manifest.Config.Cache.Dir)
	}
	if cacheDir == "" {
		cacheDir, err = cache.DefaultDir()
		if err != nil {
			return fmt.Errorf("failed to resolve cache directory: %w", err)
		}
	}
	return removeDir(cacheDir, baseDir, "cache directory")
}

func removeDir(dir, baseDir, label string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintf(os.Stdout, "%s not found\n", label)
			return nil
		}
		return fmt.Errorf("failed to stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %q: %w", dir, err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "removed %s\n", formatPathForOutput(baseDir, dir))
	return nil
}

// resolveCleanBase anchors clean at the manifest root when one is in
// scope, so cleaning from a subdirectory hits the project's target dir.
func resolveCleanBase(base string) (string, *projectManifest, error) {
	info, err := os.Stat(base)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat %q: %w", base, err)
	}
	if !info.IsDir() {
		base = filepath.Dir(base)
	}
	manifest, ok, err := loadProjectManifest(base)
	if err != nil {
		return "", nil, err
	}
	if ok {
		return manifest.Root, manifest, nil
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return base, nil, nil
	}
	return abs, nil, nil
}

func init() {
	cleanCmd.Flags().Bool("cache", false, "also remove the image cache")
	cleanCmd.Flags().String("cache-dir", "", "cache directory to remove (defaults to the project or user cache)")
}

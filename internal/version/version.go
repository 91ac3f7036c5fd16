package version

import "github.com/fatih/color"

// Build metadata for the gridcc CLI.
// The component variables can be overridden at build time via -ldflags.

var (
	major = "0"
	minor = "1"
	patch = "0"
	pre   = "-dev"

	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	// Version is the semantic version of the CLI, colorized when the
	// output is a terminal.
	Version = versionMajorColor.Sprint(major) + "." + versionMinorColor.Sprint(minor) + "." + versionPatchColor.Sprint(patch) + pre

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// GitMessage is an optional git commit message.
	GitMessage = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Plain returns the version without color sequences, for trace output
// and machine-readable formats.
func Plain() string {
	return major + "." + minor + "." + patch + pre
}

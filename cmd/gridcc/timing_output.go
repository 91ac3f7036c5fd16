package main

import (
	"fmt"
	"io"
	"time"

	"gridcc/internal/buildpipeline"
)

func printStageTimings(out io.Writer, timings buildpipeline.Timings) {
	if out == nil {
		return
	}
	var printErr error
	if timings.Has(buildpipeline.StageRead) {
		_, printErr = fmt.Fprintf(out, "read %.1f ms\n", toMillis(timings.Duration(buildpipeline.StageRead)))
		if printErr != nil {
			panic(printErr)
		}
	}
	if timings.Has(buildpipeline.StageLink) {
		_, printErr = fmt.Fprintf(out, "linked %.1f ms\n", toMillis(timings.Duration(buildpipeline.StageLink)))
		if printErr != nil {
			panic(printErr)
		}
	}
	if timings.Has(buildpipeline.StageCache) {
		_, printErr = fmt.Fprintf(out, "cache probe %.1f ms\n", toMillis(timings.Duration(buildpipeline.StageCache)))
		if printErr != nil {
			panic(printErr)
		}
	}
	if timings.Has(buildpipeline.StageCodegen) {
		_, printErr = fmt.Fprintf(out, "codegen %.1f ms\n", toMillis(timings.Duration(buildpipeline.StageCodegen)))
		if printErr != nil {
			panic(printErr)
		}
	}
	if timings.Has(buildpipeline.StageWrite) {
		_, printErr = fmt.Fprintf(out, "wrote %.1f ms\n", toMillis(timings.Duration(buildpipeline.StageWrite)))
		if printErr != nil {
			panic(printErr)
		}
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

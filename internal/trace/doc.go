// Package trace provides the tracing subsystem for the gridcc backend.
//
// Trace events track pipeline stages, per-script processing, fusion
// decisions and cache activity, to help diagnose slow or misbehaving
// builds.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	gridcc build --trace=- --trace-level=stage kernels.ll
//
// # Levels
//
// Tracing verbosity is controlled by levels:
//
//   - LevelOff: No tracing
//   - LevelError: Only failure points
//   - LevelStage: Driver and stage boundaries
//   - LevelDetail: Per-script events
//   - LevelDebug: Everything including symbol-level events
//
// # Scopes
//
// Events are categorized by scope:
//
//   - ScopeDriver: Top-level CLI operations
//   - ScopeStage: Pipeline stages (read, link, cache, codegen, write)
//   - ScopeScript: Per-script processing
//   - ScopeSymbol: Symbol and kernel level detail
//
// # Context Propagation
//
// Tracers travel through the pipeline via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeStage, "codegen", parentID)
//	defer span.End("")
package trace

// Package services defines shared utilities consumed by the scheduler, the
// workflow orchestrator, and the collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, iteration rounds, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so stage failures carry a
//     classification (configuration, stage failure, partial failure, ...)
//     that survives wrapping and can be reported without string matching.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// classification, observability) stays uniform across the pipeline.
package services

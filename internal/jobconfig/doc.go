// Package jobconfig parses and validates the per-job configuration a caller
// submits to the scheduler.
//
// Job files are TOML or YAML, chosen by extension, and decoded strictly:
// unknown keys are rejected, every stage section must state `enabled`
// explicitly, and fields an enabled stage needs must be present. Problems are
// collected into a single ConfigError (which unwraps to
// services.ErrConfiguration) so callers see every mistake at once instead of
// fixing them one run at a time.
package jobconfig

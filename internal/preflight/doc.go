// Package preflight provides readiness checks for the directories, tool
// commands, and notification endpoint bemflow depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure so operators
//     see a missing simulator before the first job reaches it.
//   - The CLI "bemflow doctor" command prints the same results as a table.
//
// Checks for optional features are skipped when the feature is not configured.
package preflight

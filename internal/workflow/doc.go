// Package workflow runs one job's stages in their fixed canonical order.
//
// The Orchestrator walks a Catalogue of stage descriptors. Before each stage
// it checks the job's cancel signal, then the stage's enable flag, then that
// every output the stage needs is present. Failures are classified by the
// stage's criticality: fatal failures end the job in error, recoverable ones
// leave the stage's output absent and the run continues. Finalizers (package,
// cleanup) run on every terminal path so partial results are always
// delivered.
//
// In iterative mode the modify..revalidate stages are replaced by a single
// iterate stage that hands the loop to the iteration controller.
package workflow

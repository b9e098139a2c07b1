// Package iteration runs the refinement loop that re-targets poorly
// performing buildings across rounds until a convergence criterion fires.
//
// Each round selects targets with a Strategy, escalates modification
// intensity through a Schedule, then modifies, re-simulates, re-parses, and
// re-validates through an Executor before Criterion decides whether to stop.
// Round-level failures never abort the job on their own: they consume
// patience, and only MaxConsecutiveFailures failures in a row force a hard
// stop. Cancellation is observed before each round and between sub-steps.
package iteration

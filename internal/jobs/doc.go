// Package jobs holds the job registry: job records, their lifecycle state
// machine, the FIFO wait queue, and the cooperative cancel token.
//
// Every mutation goes through Registry methods, each a single check-and-set
// or queue push/pop under one mutex. The registry re-checks its invariants
// after each mutation and reports violations as *RegistryInvariantError.
package jobs

// Package scheduler owns job admission and execution units. Submit registers
// a job, Start admits it against the concurrency bound, and each running job
// gets one goroutine that drives the workflow orchestrator and then performs
// the terminal bookkeeping: registry transition with at most one FIFO
// promotion, log sentinel, history snapshot, and notification.
package scheduler

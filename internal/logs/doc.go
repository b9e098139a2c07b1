// Package logs reads log files written by the daemon: it tails the daemon log
// by byte offset and decodes per-job JSON log lines back into job log
// messages once a job has left the registry.
package logs

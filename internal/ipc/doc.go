// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, the request/response DTOs, and the
// conversion from job records to wire representations. Job documents travel
// as raw TOML or YAML text and are decoded daemon-side so the CLI and the
// daemon agree on one parser.
package ipc

// Package config loads, normalizes, and validates bemflow daemon configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BEMFLOW_NTFY_TOPIC. The Config type centralizes every knob the daemon and
// CLI need: storage locations, scheduler bounds, log channel back-pressure,
// the external tool commands that implement each collaborator, and
// notification settings.
//
// Per-job configuration lives in package jobconfig; this package only covers
// the long-lived daemon process.
package config

// Package notifications delivers job lifecycle events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to nil-check. Per-event toggles and a short dedup window
// keep repeated events for the same job from flooding the topic.
package notifications

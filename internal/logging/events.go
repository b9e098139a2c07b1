package logging

import (
	"log/slog"

	"bemflow/internal/services"
)

// FieldImpact carries the user-facing consequence of a warning.
const FieldImpact = "impact"

// kindHints are the operator next steps used when a warning or error carries
// an error_kind but no explicit error_hint.
var kindHints = map[string]string{
	"configuration":   "fix the configuration and resubmit the job",
	"external_tool":   "check the command configured under [tools]",
	"timeout":         "raise [tools] timeout_seconds or shrink the batch",
	"validation":      "review the validation thresholds in the job config",
	"partial_failure": "inspect the failed buildings in the job log",
	"not_found":       "check the job id or the referenced path",
	"transient":       "retry the job",
}

const defaultHint = "see the job log for details"

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact. A missing hint is derived from error_kind when present.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withEventDefaults(attrs, eventType)
	if !hasAttrKey(attrs, FieldImpact) {
		attrs = append(attrs, String(FieldImpact, "the operation continued without this step"))
	}
	logger.Warn(msg, Args(attrs...)...)
}

// ErrorWithContext logs an error that always carries event_type and
// error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.Error(msg, Args(withEventDefaults(attrs, eventType)...)...)
}

// ErrorAttrs expands err into the error, error_kind and, when present,
// error_hint attributes.
func ErrorAttrs(err error) []Attr {
	if err == nil {
		return nil
	}
	details := services.Details(err)
	attrs := []Attr{Error(err), String(FieldErrorKind, details.Kind)}
	if details.Hint != "" {
		attrs = append(attrs, String(FieldErrorHint, details.Hint))
	}
	return attrs
}

func withEventDefaults(attrs []Attr, eventType string) []Attr {
	if !hasAttrKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !hasAttrKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, hintFor(attrs)))
	}
	return attrs
}

func hintFor(attrs []Attr) string {
	for _, attr := range attrs {
		if attr.Key != FieldErrorKind {
			continue
		}
		if hint, ok := kindHints[attr.Value.String()]; ok {
			return hint
		}
	}
	return defaultHint
}

func hasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

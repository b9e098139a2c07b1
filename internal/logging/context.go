package logging

import (
	"context"
	"log/slog"

	"bemflow/internal/services"
)

// Keys shared by every bemflow log line. The job, stage and component keys
// become the subject of console lines and top-level members of JSON lines.
const (
	FieldJobID         = "job_id"
	FieldStage         = "stage"
	FieldComponent     = "component"
	FieldRound         = "round"
	FieldCorrelationID = "correlation_id" // IPC request that triggered the work
	FieldEventType     = "event_type"
	FieldErrorKind     = "error_kind"
	FieldErrorHint     = "error_hint"
)

// WithContext stamps logger with the job, stage, round and request carried by
// ctx. Stage code logs through it so its lines land under the right subject.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var attrs []Attr
	if id, ok := services.JobIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		attrs = append(attrs, String(FieldStage, stage))
	}
	if round, ok := services.RoundFromContext(ctx); ok {
		attrs = append(attrs, Int(FieldRound, round))
	}
	if req, ok := services.RequestIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldCorrelationID, req))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(Args(attrs...)...)
}

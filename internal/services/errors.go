package services

import (
	"errors"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrStageFailure   = errors.New("stage failure")
	ErrPartialFailure = errors.New("partial failure")
	ErrCanceled       = errors.New("canceled")
	ErrExternalTool   = errors.New("external tool error")
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrTransient      = errors.New("transient failure")
)

var markerKinds = []struct {
	marker error
	kind   string
}{
	{ErrConfiguration, "configuration"},
	{ErrStageFailure, "stage_failure"},
	{ErrPartialFailure, "partial_failure"},
	{ErrCanceled, "canceled"},
	{ErrExternalTool, "external_tool"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrTimeout, "timeout"},
	{ErrTransient, "transient"},
}

// ServiceError carries the classification and context attached by Wrap.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	var b strings.Builder
	if e.Marker != nil {
		b.WriteString(e.Marker.Error())
		b.WriteString(": ")
	}
	b.WriteString(detail)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// ErrorKind reports the classification string for the wrapped marker.
func (e *ServiceError) ErrorKind() string {
	return kindFor(e.Marker)
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches an operator hint to a ServiceError. Other errors are
// returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		svcErr.Hint = strings.TrimSpace(hint)
	}
	return err
}

// ErrorDetails is the flattened view used when logging a failure.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts classification and context from err. Errors that were not
// produced by Wrap report only a kind derived from any marker they wrap.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return ErrorDetails{
			Kind:      svcErr.ErrorKind(),
			Stage:     svcErr.Stage,
			Operation: svcErr.Operation,
			Message:   svcErr.Message,
			Hint:      svcErr.Hint,
			Cause:     svcErr.Cause,
		}
	}
	return ErrorDetails{Kind: kindFor(err), Message: err.Error()}
}

func kindFor(err error) string {
	if err == nil {
		return ""
	}
	for _, mk := range markerKinds {
		if errors.Is(err, mk.marker) {
			return mk.kind
		}
	}
	return "unknown"
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

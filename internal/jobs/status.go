package jobs

import "strings"

// Status represents the lifecycle of a job record.
type Status string

const (
	StatusCreated  Status = "created"
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

var allStatuses = []Status{
	StatusCreated,
	StatusQueued,
	StatusRunning,
	StatusFinished,
	StatusError,
	StatusCanceled,
}

type statusTransition struct {
	from Status
	to   Status
}

var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusCreated, to: StatusRunning}:  {},
	{from: StatusCreated, to: StatusQueued}:   {},
	{from: StatusQueued, to: StatusRunning}:   {},
	{from: StatusQueued, to: StatusCanceled}:  {},
	{from: StatusRunning, to: StatusFinished}: {},
	{from: StatusRunning, to: StatusError}:    {},
	{from: StatusRunning, to: StatusCanceled}: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a name into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCanceled
}

// CanTransition reports whether from → to is a valid lifecycle step.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

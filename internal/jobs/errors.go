package jobs

import (
	"errors"
	"fmt"

	"bemflow/internal/services"
)

var (
	// ErrInvalidTransition marks requests for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrUnknownJob is returned for ids the registry does not hold.
	ErrUnknownJob = fmt.Errorf("unknown job: %w", services.ErrNotFound)
	// ErrDuplicateJob is returned when Add sees an id twice.
	ErrDuplicateJob = errors.New("duplicate job id")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// RegistryInvariantError reports internal registry corruption. It indicates a
// bug and is never expected under correct locking.
type RegistryInvariantError struct {
	Invariant string
	Detail    string
}

func (e *RegistryInvariantError) Error() string {
	return fmt.Sprintf("job registry invariant %q violated: %s", e.Invariant, e.Detail)
}

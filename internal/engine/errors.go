package engine

import (
	"fmt"

	"siteline/internal/workflow"
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// AuthorizationError wraps an authorizer denial.
type AuthorizationError struct {
	Err error
}

func (e AuthorizationError) Error() string { return e.Err.Error() }
func (e AuthorizationError) Unwrap() error { return e.Err }

// InvalidTransitionError reports an action that is not a declared edge
// from the record's current status.
type InvalidTransitionError struct {
	Kind   string
	Status string
	Action workflow.Action
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s is not valid for %s record in status %s", e.Action, e.Kind, e.Status)
}

// ConflictError reports a lost optimistic-concurrency race. The caller
// may re-read the record and retry the same logical operation.
type ConflictError struct {
	RecordID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("record %s was modified concurrently; re-read and retry", e.RecordID)
}

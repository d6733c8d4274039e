package automation

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrAutomationNotFound) {
//	    // handle not found case
//	}
var (
	// ErrAutomationNotFound is returned when an automation ID does not exist.
	ErrAutomationNotFound = errors.New("automation: not found")

	// ErrAutomationExists is returned when creating an automation with an ID that already exists.
	ErrAutomationExists = errors.New("automation: already exists")

	// ErrAutomationDisabled is returned when a disabled automation is triggered manually.
	ErrAutomationDisabled = errors.New("automation: disabled")

	// ErrMaxExecutions is returned when an automation has reached its execution limit.
	ErrMaxExecutions = errors.New("automation: max executions reached")

	// ErrInvalidAutomation is returned when automation validation fails.
	ErrInvalidAutomation = errors.New("automation: invalid")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("automation: execution not found")

	// ErrConflictNotFound is returned when a conflict ID does not exist.
	ErrConflictNotFound = errors.New("automation: conflict not found")

	// ErrConflictResolved is returned when manually resolving an already-resolved conflict.
	ErrConflictResolved = errors.New("automation: conflict already resolved")

	// ErrNotParticipant is returned when the selected rule of a manual
	// resolution is not one of the conflict's participants.
	ErrNotParticipant = errors.New("automation: rule not a conflict participant")
)

// ValidationErrors collects every validation failure found in an automation.
// Validation is not fail-fast: callers see all problems at once.
type ValidationErrors struct {
	Errors []string
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("automation: validation failed: %s", strings.Join(v.Errors, "; "))
}

// Unwrap allows errors.Is(err, ErrInvalidAutomation) checks.
func (v *ValidationErrors) Unwrap() error {
	return ErrInvalidAutomation
}

// Add records a validation failure.
func (v *ValidationErrors) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any failures were recorded.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// ActionExecutionError wraps a single action dispatch failure with the
// action's identity, so execution records can attribute the abort.
type ActionExecutionError struct {
	ActionID   string
	ActionType ActionType
	Err        error
}

// Error implements the error interface.
func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s (%s): %v", e.ActionID, e.ActionType, e.Err)
}

// Unwrap returns the underlying dispatch error.
func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

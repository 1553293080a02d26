package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a failed transition so callers can branch without
// parsing messages.
type Reason string

const (
	// ReasonNotFound covers absent stories, fragments and choices,
	// including dangling graph edges discovered at traversal time.
	ReasonNotFound Reason = "not_found"

	// ReasonRequirementsNotMet carries an itemized list of what is missing.
	ReasonRequirementsNotMet Reason = "requirements_not_met"

	// ReasonInvalidTransition covers calls that make no sense from the
	// user's current position: no active story, navigation dead-ends,
	// going back from the start of history.
	ReasonInvalidTransition Reason = "invalid_transition"

	// ReasonConflictingState covers concurrent-mutation conflicts and
	// starting a story while one is already in progress.
	ReasonConflictingState Reason = "conflicting_state"

	// ReasonPersistenceFailure surfaces storage-layer errors. The caller's
	// transition is guaranteed not committed.
	ReasonPersistenceFailure Reason = "persistence_failure"
)

// Error is the structured failure returned by engine transitions. Expected
// outcomes (not found, requirements, invalid transitions) are values of this
// type, never panics.
type Error struct {
	Reason  Reason
	Message string
	Missing []string // populated for ReasonRequirementsNotMet
	cause   error
}

func (e *Error) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Missing, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ReasonOf extracts the machine reason from an engine error chain.
func ReasonOf(err error) (Reason, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason, true
	}
	return "", false
}

func notFound(msg string) *Error {
	return &Error{Reason: ReasonNotFound, Message: msg}
}

func requirementsNotMet(missing []string) *Error {
	return &Error{
		Reason:  ReasonRequirementsNotMet,
		Message: "requirements not met",
		Missing: missing,
	}
}

func invalidTransition(msg string) *Error {
	return &Error{Reason: ReasonInvalidTransition, Message: msg}
}

func conflictingState(msg string) *Error {
	return &Error{Reason: ReasonConflictingState, Message: msg}
}

func persistenceFailure(cause error) *Error {
	return &Error{Reason: ReasonPersistenceFailure, Message: "persistence failure", cause: cause}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session exists for a pin.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when a caller's identity may not perform the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState is returned when the action is not valid in the session's lifecycle state.
	ErrInvalidState = errors.New("action not valid in current session state")
	// ErrDuplicateSubmission is returned for a second answer to the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrNoMoreQuestions is returned when advancing past the last question.
	ErrNoMoreQuestions = errors.New("no more questions available")
	// ErrTransientIO marks storage or transport hiccups; the caller may retry.
	ErrTransientIO = errors.New("transient io failure")

	// ErrParticipantNotFound is returned when an identity is unknown to the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuestionNotFound indicates a submitted question id is not the current question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrIdentityConflict is returned when a fresh join targets an identity bound elsewhere.
	ErrIdentityConflict = errors.New("identity already bound to another connection")
	// ErrInvalidPayload is returned for malformed or incomplete inbound payloads.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrDuplicateConnection is returned when a transport handle is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrUnknownConnection is returned for events from an unregistered connection.
	ErrUnknownConnection = errors.New("connection not registered")
)

// Transient wraps a backend failure so callers can match ErrTransientIO.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}

// Code maps an error to the stable code reported to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate_submission"
	case errors.Is(err, ErrNoMoreQuestions):
		return "no_more_questions"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	case errors.Is(err, ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, ErrQuestionNotFound):
		return "question_not_found"
	case errors.Is(err, ErrIdentityConflict):
		return "identity_conflict"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrDuplicateConnection), errors.Is(err, ErrUnknownConnection):
		return "connection_error"
	default:
		return "internal"
	}
}

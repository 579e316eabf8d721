package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/lobby/internal/membership"
)

// Error kinds. Every error a service returns to its caller matches exactly
// one of them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrDecryption = errors.New("decryption failed")
	ErrStorage    = errors.New("storage unavailable")
)

// Error pairs a kind with the specific failure. Its message is the specific
// failure's message.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func kindError(kind error, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

var (
	ErrOneChannelAtATime = &Error{Kind: ErrValidation, Err: membership.ErrOneChannel}
	ErrAlreadyJoined     = &Error{Kind: ErrValidation, Err: membership.ErrAlreadyJoined}
	ErrJoinFirst         = &Error{Kind: ErrValidation, Err: membership.ErrJoinFirst}
	ErrAlreadyLeft       = &Error{Kind: ErrValidation, Err: membership.ErrAlreadyLeft}
	ErrNoneJoined        = kindError(ErrValidation, "none joined")
	ErrEmptyMessage      = kindError(ErrValidation, "message content is required")

	ErrChannelNotFound = &Error{Kind: ErrNotFound, Err: membership.ErrChannelNotFound}
	ErrMessageNotFound = kindError(ErrNotFound, "message not found")
	ErrUserNotFound    = kindError(ErrNotFound, "user not found")

	ErrNotMessageOwner = kindError(ErrForbidden, "only the message sender can perform this action")
	ErrAdminOnly       = kindError(ErrForbidden, "only administrators can manage channels")

	ErrChannelNameTaken = kindError(ErrConflict, "channel name already exists")
	ErrEmailTaken       = kindError(ErrConflict, "email already taken")
	ErrUsernameTaken    = kindError(ErrConflict, "username already taken")
)

// ErrInvalidCreds and ErrSessionExpired are authentication failures; they
// never reach an operation.
var (
	ErrInvalidCreds   = errors.New("invalid email or password")
	ErrSessionExpired = errors.New("session expired")
)

// DecryptionError marks one message whose body could not be opened.
type DecryptionError struct {
	MessageID uuid.UUID
	Err       error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("message %s: %v", e.MessageID, e.Err)
}

func (e *DecryptionError) Unwrap() []error {
	return []error{ErrDecryption, e.Err}
}

// fromMembership maps a state machine rejection to its service error.
func fromMembership(err error) error {
	switch {
	case errors.Is(err, membership.ErrOneChannel):
		return ErrOneChannelAtATime
	case errors.Is(err, membership.ErrAlreadyJoined):
		return ErrAlreadyJoined
	case errors.Is(err, membership.ErrJoinFirst):
		return ErrJoinFirst
	case errors.Is(err, membership.ErrAlreadyLeft):
		return ErrAlreadyLeft
	case errors.Is(err, membership.ErrChannelNotFound):
		return ErrChannelNotFound
	default:
		return err
	}
}

// storage classifies an error out of the store. Service errors pass through;
// anything else is a storage failure.
func storage(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	return &Error{Kind: ErrStorage, Err: err}
}

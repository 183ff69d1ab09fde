package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all use cases. Typed errors below unwrap to
// one of these so callers can branch with errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// TransitionError reports an action attempted from a disallowed state.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %q to %q",
		e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError reports rejected input before any side effect happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DeliveryError wraps a failed email or Telegram send.
type DeliveryError struct {
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
}

// Is matches ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

func (e *DeliveryError) Unwrap() error { return e.Err }

// NotFoundError builds an ErrNotFound-wrapping error for an entity.
func NotFoundError(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// IsInvalidTransition reports whether err is an invalid state transition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsUnauthorized reports whether err is an assignment policy violation.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err refers to a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is rejected input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsDeliveryFailed reports whether err is a channel delivery failure.
func IsDeliveryFailed(err error) bool { return errors.Is(err, ErrDeliveryFailed) }

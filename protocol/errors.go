package protocol

import (
	"errors"
	"fmt"
)

// Reason is a stable, machine-readable rejection code returned to clients.
type Reason string

const (
	ReasonUnauthorized           Reason = "UNAUTHORIZED"
	ReasonExpired                Reason = "EXPIRED"
	ReasonForbidden              Reason = "FORBIDDEN"
	ReasonConflict               Reason = "CONFLICT"
	ReasonAlreadyQueued          Reason = "ALREADY_QUEUED"
	ReasonAlreadyInSession       Reason = "ALREADY_IN_SESSION"
	ReasonNotQueued              Reason = "NOT_QUEUED"
	ReasonInsufficientCohort     Reason = "INSUFFICIENT_COHORT"
	ReasonFormationTimeout       Reason = "FORMATION_TIMEOUT"
	ReasonRoundClosed            Reason = "ROUND_CLOSED"
	ReasonDuplicate              Reason = "DUPLICATE"
	ReasonUnauthorizedSubmission Reason = "UNAUTHORIZED_SUBMISSION"
	ReasonInvalidSignature       Reason = "INVALID_SIGNATURE"
	ReasonDigestMismatch         Reason = "DIGEST_MISMATCH"
	ReasonAborted                Reason = "ABORTED"
	ReasonUnknownRecipient       Reason = "UNKNOWN_RECIPIENT"
	ReasonInvalidRequest         Reason = "INVALID_REQUEST"
	ReasonNotFound               Reason = "NOT_FOUND"
	ReasonNotInSession           Reason = "NOT_IN_SESSION"
	ReasonInternal               Reason = "INTERNAL"
)

// Error carries a Reason together with a human readable message.
// Two Errors match under errors.Is when their reasons are equal.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// Errorf builds a reason-coded error with a formatted message.
func Errorf(reason Reason, format string, args ...any) error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason from err, or ReasonInternal if err carries none.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonInternal
}

var (
	ErrUnauthorized           = &Error{Reason: ReasonUnauthorized}
	ErrExpired                = &Error{Reason: ReasonExpired}
	ErrForbidden              = &Error{Reason: ReasonForbidden}
	ErrConflict               = &Error{Reason: ReasonConflict}
	ErrAlreadyQueued          = &Error{Reason: ReasonAlreadyQueued}
	ErrAlreadyInSession       = &Error{Reason: ReasonAlreadyInSession}
	ErrNotQueued              = &Error{Reason: ReasonNotQueued}
	ErrInsufficientCohort     = &Error{Reason: ReasonInsufficientCohort}
	ErrFormationTimeout       = &Error{Reason: ReasonFormationTimeout}
	ErrRoundClosed            = &Error{Reason: ReasonRoundClosed}
	ErrDuplicate              = &Error{Reason: ReasonDuplicate}
	ErrUnauthorizedSubmission = &Error{Reason: ReasonUnauthorizedSubmission}
	ErrInvalidSignature       = &Error{Reason: ReasonInvalidSignature}
	ErrDigestMismatch         = &Error{Reason: ReasonDigestMismatch}
	ErrAborted                = &Error{Reason: ReasonAborted}
	ErrUnknownRecipient       = &Error{Reason: ReasonUnknownRecipient}
	ErrInvalidRequest         = &Error{Reason: ReasonInvalidRequest}
	ErrNotFound               = &Error{Reason: ReasonNotFound}
	ErrNotInSession           = &Error{Reason: ReasonNotInSession}
)

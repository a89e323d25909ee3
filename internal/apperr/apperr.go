package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for the calling layer
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindMismatch   Kind = "mismatch"
	KindExternal   Kind = "external"
)

// Kind sentinels, match with errors.Is
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrMismatch   = &Error{Kind: KindMismatch}
	ErrExternal   = &Error{Kind: KindExternal}
)

// Specific errors. Each one also matches its kind sentinel.
var (
	ErrUnknownWallet      = Validation("unknown wallet")
	ErrInvalidWallet      = Validation("invalid wallet address")
	ErrBadSlot            = Validation("slot index out of range")
	ErrAlienNotOwned      = Validation("alien not owned by wallet")
	ErrEmptyFleet         = Validation("no aliens assigned to ship")
	ErrUnknownPlanet      = Validation("unknown planet")
	ErrBadShipLevel       = Validation("invalid ship level")
	ErrIntentNotFound     = NotFound("claim intent not found")
	ErrAlienNotFound      = NotFound("alien not found")
	ErrExpeditionActive   = Conflict("cannot change assignments during expedition")
	ErrAlreadyActive      = Conflict("expedition already active")
	ErrNotActive          = Conflict("no active expedition")
	ErrSlotOccupied       = Conflict("slot already occupied")
	ErrAlreadyAssigned    = Conflict("alien already assigned to a slot")
	ErrNotAssigned        = Conflict("alien is not assigned to any slot")
	ErrNoFreeSlot         = Conflict("no free slot")
	ErrAlreadyRegistered  = Conflict("wallet already registered")
	ErrAlreadyPaid        = Conflict("claim intent already paid")
	ErrIntentExpired      = Conflict("claim intent expired")
	ErrIntentVoided       = Conflict("claim intent voided")
	ErrPaymentInFlight    = Conflict("claim payment in progress")
	ErrEarningsMismatch   = Mismatch("claim value does not match server accrual")
	ErrPriceUnavailable   = External("price oracle unavailable")
	ErrPaymentFailed      = External("payment failed")
	ErrPaymentUnconfirmed = External("payment not confirmed yet")
)

// Error is a classified domain error
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality against a bare sentinel and identity otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }
func NotFound(msg string) *Error   { return &Error{Kind: KindNotFound, Msg: msg} }
func Conflict(msg string) *Error   { return &Error{Kind: KindConflict, Msg: msg} }
func Mismatch(msg string) *Error   { return &Error{Kind: KindMismatch, Msg: msg} }
func External(msg string) *Error   { return &Error{Kind: KindExternal, Msg: msg} }

// Wrap attaches cause to a specific error, keeping both matchable.
func Wrap(base *Error, cause error) error {
	return &wrapped{base: base, cause: cause}
}

// Wrapf is Wrap with a formatted detail instead of a cause.
func Wrapf(base *Error, format string, args ...any) error {
	return &wrapped{base: base, cause: fmt.Errorf(format, args...)}
}

type wrapped struct {
	base  *Error
	cause error
}

func (w *wrapped) Error() string {
	return w.base.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.base, w.cause}
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

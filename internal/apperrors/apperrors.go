// Package apperrors defines the error kinds the settlement core reports to
// its callers. Every error leaving a service carries exactly one Kind.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidSignature  Kind = "InvalidSignature"
	KindDuplicatePayment  Kind = "DuplicatePayment"
	KindEmptySelection    Kind = "EmptySelection"
	KindAddressNotFound   Kind = "AddressNotFound"
	KindInsufficientStock Kind = "InsufficientStock"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "Validation"
	KindForbidden         Kind = "Forbidden"
	KindGateway           Kind = "Gateway"
	KindStorage           Kind = "Storage"
)

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperrors.ErrDuplicatePayment)
// works for wrapped instances carrying details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil && t.Details == nil
}

var (
	ErrInvalidSignature  = &Error{Kind: KindInvalidSignature}
	ErrDuplicatePayment  = &Error{Kind: KindDuplicatePayment}
	ErrEmptySelection    = &Error{Kind: KindEmptySelection}
	ErrAddressNotFound   = &Error{Kind: KindAddressNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf reports the kind of err. Errors that never passed through this
// package are storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStorage
}

func InvalidSignature() *Error {
	return New(KindInvalidSignature, "payment signature mismatch")
}

func DuplicatePayment(gatewayPaymentID string) *Error {
	return New(KindDuplicatePayment, "payment already processed").
		With("gateway_payment_id", gatewayPaymentID)
}

func EmptySelection() *Error {
	return New(KindEmptySelection, "no items selected for checkout")
}

func AddressNotFound(addressID int64) *Error {
	return New(KindAddressNotFound, "address not found").With("address_id", addressID)
}

func InsufficientStock(variantID int64, requested, available int) *Error {
	return New(KindInsufficientStock, fmt.Sprintf("insufficient stock for variant %d", variantID)).
		With("variant_id", variantID).
		With("requested", requested).
		With("available", available)
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		With("from", from).
		With("to", to)
}

func NotFound(what string) *Error {
	return New(KindNotFound, what+" not found")
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func Gateway(message string, err error) *Error {
	return Wrap(KindGateway, message, err)
}

func Storage(message string, err error) *Error {
	return Wrap(KindStorage, message, err)
}

// OrStorage returns err unchanged when it already carries a kind and wraps
// it as a storage failure otherwise.
func OrStorage(message string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return Storage(message, err)
}

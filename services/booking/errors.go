package booking

import (
	"errors"
	"fmt"
)

// Error codes, one per distinct real-world consequence for the caller.
const (
	CodeInvalidInput              = "invalidInput"
	CodeNotFound                  = "notFound"
	CodeAlreadyTerminal           = "alreadyTerminal"
	CodePreconditionFailed        = "preconditionFailed"
	CodePaymentVerificationFailed = "paymentVerificationFailed"
	CodeGatewayUnavailable        = "gatewayUnavailable"
	CodeStorageUnavailable        = "storageUnavailable"
)

type BookingError struct {
	Code    string
	Message string
}

func (e *BookingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches by code so errors.Is works against code sentinels.
func (e *BookingError) Is(target error) bool {
	var be *BookingError
	if !errors.As(target, &be) {
		return false
	}
	return be.Code == e.Code
}

func NewInvalidInputError(msg string) error {
	return &BookingError{Code: CodeInvalidInput, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &BookingError{Code: CodeNotFound, Message: msg}
}

func NewAlreadyTerminalError(msg string) error {
	return &BookingError{Code: CodeAlreadyTerminal, Message: msg}
}

func NewPreconditionFailedError(msg string) error {
	return &BookingError{Code: CodePreconditionFailed, Message: msg}
}

func NewPaymentVerificationFailedError(msg string) error {
	return &BookingError{Code: CodePaymentVerificationFailed, Message: msg}
}

func NewGatewayUnavailableError(msg string) error {
	return &BookingError{Code: CodeGatewayUnavailable, Message: msg}
}

func NewStorageUnavailableError(msg string) error {
	return &BookingError{Code: CodeStorageUnavailable, Message: msg}
}

// HasCode reports whether err carries the given booking error code.
func HasCode(err error, code string) bool {
	var be *BookingError
	return errors.As(err, &be) && be.Code == code
}

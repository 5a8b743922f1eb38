// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrValidation         = errors.New("validation failed")
	ErrAuthentication     = errors.New("authentication failed")
	ErrSessionExpired     = errors.New("session expired")
	ErrMarketUnsupported  = errors.New("market not supported")
	ErrOrderRejected      = errors.New("order rejected")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidState       = errors.New("invalid order state")
	ErrBrokerTimeout      = errors.New("broker call timed out")
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrAccountUnavailable = errors.New("no account configured")
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderNum    string
	ProductCode string
	Action      string
	Code        string // broker reason code, if any
	Reason      string
	Err         error
}

func (e *OrderError) Error() string {
	code := ""
	if e.Code != "" {
		code = " (" + e.Code + ")"
	}
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s%s: %v", e.OrderNum, e.Action, e.ProductCode, e.Reason, code, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s%s", e.OrderNum, e.Action, e.ProductCode, e.Reason, code)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderNum, productCode, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderNum:    orderNum,
		ProductCode: productCode,
		Action:      action,
		Reason:      reason,
		Err:         err,
	}
}

// Rejected builds an OrderError for a broker-side rejection.
func Rejected(orderNum, productCode, action string, be *BrokerError) *OrderError {
	return &OrderError{
		OrderNum:    orderNum,
		ProductCode: productCode,
		Action:      action,
		Code:        be.Code,
		Reason:      be.Message,
		Err:         ErrOrderRejected,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// TimeoutError is returned when a broker call exceeds its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("broker timeout [%s] after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrBrokerTimeout
}

// Kind classifies an error for transport-level mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindRejected       Kind = "rejected"
	KindTimeout        Kind = "timeout"
	KindBroker         Kind = "broker"
	KindInternal       Kind = "internal"
)

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrMarketUnsupported):
		return KindValidation
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrAccountUnavailable):
		return KindAuthentication
	case errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrOrderRejected):
		return KindRejected
	case errors.Is(err, ErrBrokerTimeout):
		return KindTimeout
	case errors.Is(err, ErrBrokerUnavailable), errors.Is(err, ErrCircuitOpen):
		return KindBroker
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return KindBroker
	}
	return KindInternal
}

// IsRetryableRead reports whether a read call may be repeated after err.
func IsRetryableRead(err error) bool {
	return errors.Is(err, ErrBrokerTimeout) || errors.Is(err, ErrBrokerUnavailable)
}

// Reason extracts the broker reason code and message carried by err.
func Reason(err error) (code, message string) {
	var oe *OrderError
	if errors.As(err, &oe) && oe.Code != "" {
		return oe.Code, oe.Reason
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Code, be.Message
	}
	return "", ""
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

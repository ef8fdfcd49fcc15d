package types

import "errors"

// ErrorClass is the normalized failure taxonomy surfaced to callers.
type ErrorClass string

const (
	ErrWalletUnavailable      ErrorClass = "WALLET_UNAVAILABLE"
	ErrUserRejected           ErrorClass = "USER_REJECTED"
	ErrUserCancelled          ErrorClass = "USER_CANCELLED"
	ErrConnectionFailed       ErrorClass = "CONNECTION_FAILED"
	ErrNetworkMismatch        ErrorClass = "NETWORK_MISMATCH"
	ErrInsufficientBalance    ErrorClass = "INSUFFICIENT_BALANCE"
	ErrInsufficientGas        ErrorClass = "INSUFFICIENT_GAS"
	ErrSimulationFailed       ErrorClass = "SIMULATION_FAILED"
	ErrExecutionFailed        ErrorClass = "EXECUTION_FAILED"
	ErrBackendRecordingFailed ErrorClass = "BACKEND_RECORDING_FAILED"
	ErrBalanceUnknown         ErrorClass = "BALANCE_UNKNOWN"
	ErrPurchaseInProgress     ErrorClass = "PURCHASE_IN_PROGRESS"
	ErrUnknown                ErrorClass = "UNKNOWN"
)

// IsCancellation reports whether the class means the user dismissed a wallet prompt.
func (c ErrorClass) IsCancellation() bool {
	return c == ErrUserRejected || c == ErrUserCancelled
}

// BeforeTransfer reports whether failures of this class are guaranteed to
// happen before any token movement, which makes them safe to retry.
func (c ErrorClass) BeforeTransfer() bool {
	switch c {
	case ErrWalletUnavailable, ErrUserRejected, ErrConnectionFailed, ErrNetworkMismatch,
		ErrInsufficientBalance, ErrInsufficientGas, ErrSimulationFailed, ErrBalanceUnknown,
		ErrPurchaseInProgress:
		return true
	}
	return false
}

// PaymentError carries a classified failure and its underlying cause.
type PaymentError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Class)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError builds a PaymentError.
func NewPaymentError(class ErrorClass, msg string, cause error) *PaymentError {
	return &PaymentError{Class: class, Message: msg, Err: cause}
}

// ClassOf extracts the class of err, or ErrUnknown.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrUnknown
}

// ConfigError reports invalid configuration.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

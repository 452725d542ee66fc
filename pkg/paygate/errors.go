package paygate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

// Sentinel errors for gate rejections. Every rejection returned by the gate
// is a *PaymentError that unwraps to one of these.
var (
	// ErrInvalidTransactionFormat indicates the proof transaction could not be decoded.
	ErrInvalidTransactionFormat = errors.New("paygate: invalid transaction format")

	// ErrReplayDetected indicates the derivation prefix was already consumed.
	ErrReplayDetected = errors.New("paygate: derivation prefix already used")

	// ErrInsufficientPayment indicates the transaction pays less than required.
	ErrInsufficientPayment = errors.New("paygate: insufficient payment")

	// ErrMissingProtocolFee indicates the protocol fee output is absent or too small.
	ErrMissingProtocolFee = errors.New("paygate: missing protocol fee")

	// ErrDelegateVerification indicates the wallet delegate rejected or failed.
	ErrDelegateVerification = errors.New("paygate: wallet delegate verification failed")

	// ErrMalformedProof indicates the payment header is not a valid proof.
	ErrMalformedProof = errors.New("paygate: malformed payment proof")

	// ErrInternal indicates a server-side failure unrelated to the proof.
	ErrInternal = errors.New("paygate: internal error")
)

// PaymentError is a typed gate rejection.
type PaymentError struct {
	// Code is the machine-readable error code.
	Code ErrorCode

	// Status is the HTTP status the rejection maps to.
	Status int

	// Message is the human-readable message returned to the client.
	Message string

	// Details carries structured context such as paid and required amounts.
	Details map[string]interface{}

	// Err is the sentinel, possibly wrapping the underlying cause.
	Err error
}

func (e *PaymentError) Error() string {
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetails adds context to the error.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func invalidTransaction(cause error) *PaymentError {
	msg := cause.Error()
	if !errors.Is(cause, txcodec.ErrInvalidFormat) {
		msg = "invalid transaction format: " + msg
	}
	return &PaymentError{
		Code:    ErrCodeInvalidTransaction,
		Status:  http.StatusBadRequest,
		Message: msg,
		Err:     fmt.Errorf("%w: %w", ErrInvalidTransactionFormat, cause),
	}
}

func replayDetected(prefix string) *PaymentError {
	return (&PaymentError{
		Code:    ErrCodeReplayDetected,
		Status:  http.StatusBadRequest,
		Message: "payment already used: derivation prefix has been consumed",
		Err:     ErrReplayDetected,
	}).WithDetails("derivationPrefix", prefix)
}

func insufficientPayment(paid, required uint64) *PaymentError {
	return (&PaymentError{
		Code:    ErrCodeInsufficientPayment,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("insufficient payment: paid %d satoshis, required %d", paid, required),
		Err:     ErrInsufficientPayment,
	}).WithDetails("satoshisPaid", paid).WithDetails("satoshisRequired", required)
}

func missingProtocolFee(required uint64) *PaymentError {
	return (&PaymentError{
		Code:    ErrCodeMissingFee,
		Status:  http.StatusPaymentRequired,
		Message: fmt.Sprintf("missing protocol fee: an output of at least %d satoshis is required", required),
		Err:     ErrMissingProtocolFee,
	}).WithDetails("feeSatoshisRequired", required)
}

func delegateFailure(cause error) *PaymentError {
	return &PaymentError{
		Code:    ErrCodePaymentFailed,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("payment verification failed: %v", cause),
		Err:     fmt.Errorf("%w: %w", ErrDelegateVerification, cause),
	}
}

func malformedProof(cause error) *PaymentError {
	return &PaymentError{
		Code:    ErrCodeMalformedPayment,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("malformed payment header: %v", cause),
		Err:     fmt.Errorf("%w: %w", ErrMalformedProof, cause),
	}
}

func internalError(op string, cause error) *PaymentError {
	return &PaymentError{
		Code:    ErrCodePaymentInternal,
		Status:  http.StatusInternalServerError,
		Message: "internal payment processing error",
		Err:     fmt.Errorf("%w: %s: %w", ErrInternal, op, cause),
	}
}

// asPaymentError normalizes err into a *PaymentError, treating unknown errors
// as internal failures.
func asPaymentError(op string, err error) *PaymentError {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	return internalError(op, err)
}

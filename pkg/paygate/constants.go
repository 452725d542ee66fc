package paygate

// ProtocolVersion is announced in every challenge.
const ProtocolVersion = "1.0"

// DefaultDerivationSuffix is assumed when a proof omits its derivation suffix.
const DefaultDerivationSuffix = "x402"

// Request headers.
const (
	// HeaderPayment carries the JSON payment proof.
	HeaderPayment = "x-bsv-payment"

	// HeaderIdentityKey carries the caller's identity public key, passed to
	// the wallet delegate as the payment sender.
	HeaderIdentityKey = "x-bsv-auth-identity-key"
)

// Challenge response headers.
const (
	HeaderVersion           = "payment-version"
	HeaderSatoshisRequired  = "payment-satoshis-required"
	HeaderDerivationPrefix  = "payment-derivation-prefix"
	HeaderAddress           = "payment-address"
	HeaderFeeSatoshis       = "fee-satoshis-required"
	HeaderFeeKeyID          = "fee-kid"
	HeaderFeeDerivationSufx = "fee-derivation-suffix"
	HeaderFeeIdentityKey    = "fee-identity-key"
	HeaderFeeAddress        = "fee-address"
)

// Success response headers.
const (
	HeaderSatoshisPaid = "payment-satoshis-paid"
	HeaderTxID         = "payment-txid"
)

// ErrorCode identifies a gate response for programmatic handling.
type ErrorCode string

const (
	ErrCodePaymentRequired     ErrorCode = "ERR_PAYMENT_REQUIRED"
	ErrCodeMalformedPayment    ErrorCode = "ERR_MALFORMED_PAYMENT"
	ErrCodeInvalidTransaction  ErrorCode = "ERR_INVALID_TRANSACTION"
	ErrCodeReplayDetected      ErrorCode = "ERR_REPLAY_DETECTED"
	ErrCodeInsufficientPayment ErrorCode = "ERR_INSUFFICIENT_PAYMENT"
	ErrCodeMissingFee          ErrorCode = "ERR_MISSING_FEE"
	ErrCodePaymentFailed       ErrorCode = "ERR_PAYMENT_FAILED"
	ErrCodePaymentInternal     ErrorCode = "ERR_PAYMENT_INTERNAL"
)

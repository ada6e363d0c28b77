package x402shop

import (
	"errors"
	"net/http"
	"time"
)

// ErrorType groups externally visible failures by caller remedy.
type ErrorType string

const (
	InvalidRequest  ErrorType = "invalid_request"  // Missing or malformed field.
	PaymentRequired ErrorType = "payment_required" // Payment evidence missing or rejected.
	NotFound        ErrorType = "not_found"        // Unknown cart, session, order, or key.
	UpstreamFailure ErrorType = "upstream_failure" // Paid outbound fetch failed after settlement.
	ProcessingError ErrorType = "processing_error" // Downstream or internal failure.
)

// ErrorCode is a machine-readable identifier for the specific failure.
type ErrorCode string

const (
	EmptyCart           ErrorCode = "empty_cart"           // Checkout against an empty or missing cart.
	UnknownSku          ErrorCode = "unknown_sku"          // Item references a sku outside the catalog.
	CartNotFound        ErrorCode = "cart_not_found"       // Cart id does not resolve.
	SessionNotFound     ErrorCode = "session_not_found"    // Session id does not resolve.
	PaymentInvalid      ErrorCode = "payment_invalid"      // Verifier rejected the proof.
	DuplicateRequest    ErrorCode = "duplicate_request"    // Safe duplicate with the same idempotency key.
	IdempotencyConflict ErrorCode = "idempotency_conflict" // Same idempotency key raced an in-flight fulfillment.
	MissingURL          ErrorCode = "missing_url"          // Fact check without a target url.
	FactcheckFailed     ErrorCode = "factcheck_failed"     // Upstream fetch failed after payment.
	MissingReceipt      ErrorCode = "missing_receipt"      // Verify call without a receipt token.
	VerifyFailed        ErrorCode = "verify_failed"        // Receipt signature or encoding rejected.
	KeyNotFound         ErrorCode = "key_not_found"        // Unknown signing key id.
	MissingAuth         ErrorCode = "missing_authorization"
	InvalidAuth         ErrorCode = "invalid_authorization"
)

// Error represents a structured error payload returned to callers.
type Error struct {
	Type    ErrorType `json:"error"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Param   *string   `json:"param,omitempty"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

type errorOption func(*Error)

// WithOffendingParam sets the JSON path for the field that triggered the error.
func WithOffendingParam(jsonPath string) errorOption {
	return func(er *Error) {
		er.Param = &jsonPath
	}
}

// withErrorCode overrides the machine-readable code on a typed error.
func withErrorCode(code ErrorCode) errorOption {
	return func(er *Error) {
		er.Code = code
	}
}

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) errorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) errorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// NewInvalidRequestError builds a Bad Request error payload.
func NewInvalidRequestError(message string, opts ...errorOption) *Error {
	return newError(InvalidRequest, ErrorCode(InvalidRequest), message, append([]errorOption{WithStatusCode(http.StatusBadRequest)}, opts...)...)
}

// NewNotFoundError builds a Not Found error payload with the given code.
func NewNotFoundError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(NotFound, code, message, append([]errorOption{WithStatusCode(http.StatusNotFound)}, opts...)...)
}

// NewPaymentRequiredError builds a 402 error payload with the given code.
func NewPaymentRequiredError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(PaymentRequired, code, message, append([]errorOption{WithStatusCode(http.StatusPaymentRequired)}, opts...)...)
}

// NewProcessingError builds an Internal Server Error payload.
func NewProcessingError(message string, opts ...errorOption) *Error {
	return newError(ProcessingError, ErrorCode(ProcessingError), message, append([]errorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}

// Sentinel errors used by the store implementations. Handlers translate them
// into the typed payloads above.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCartNotFound    = errors.New("cart not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrSessionPaid     = errors.New("session already paid with a different proof")
)

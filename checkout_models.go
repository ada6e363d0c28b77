package x402shop

import (
	"encoding/json"
	"time"

	"github.com/oapi-codegen/runtime"
)

// MessageInfoContentType defines model for MessageInfo.ContentType.
type MessageInfoContentType string

// Defines values for MessageInfoContentType.
const (
	MessageInfoContentTypeMarkdown MessageInfoContentType = "markdown"
	MessageInfoContentTypePlain    MessageInfoContentType = "plain"
)

// MessageErrorCode defines model for MessageError.Code.
type MessageErrorCode string

// Defines values for MessageErrorCode.
const (
	MessageErrorCodePaymentDeclined MessageErrorCode = "payment_declined"
	MessageErrorCodeSessionExpired  MessageErrorCode = "session_expired"
	MessageErrorCodeOutOfStock      MessageErrorCode = "out_of_stock"
)

// AddItemRequest adds quantity of one sku to an existing cart.
type AddItemRequest struct {
	SKU string `json:"sku" validate:"required,sku"`
	// Qty defaults to 1 when omitted.
	Qty int `json:"qty,omitempty" validate:"omitempty,gt=0"`
}

// CheckoutRequest submits a cart for fulfillment. Payment evidence travels
// in the X-402-Session / X-402-Proof headers, not the body.
type CheckoutRequest struct {
	CartID string `json:"cart_id" validate:"required"`
}

// VerifyRequest carries a receipt token for offline verification.
type VerifyRequest struct {
	Receipt string `json:"receipt"`
}

// VerifyResponse reports the verification outcome for a receipt.
type VerifyResponse struct {
	Valid   bool           `json:"valid"`
	Header  map[string]any `json:"header,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
}

// CatalogResponse lists the purchasable products.
type CatalogResponse struct {
	Items []Product `json:"items"`
}

// CartResponse wraps a cart for cart read/mutation endpoints.
type CartResponse struct {
	Cart *Cart `json:"cart"`
}

// LineItem is a cart item with its unit price resolved from the catalog.
type LineItem struct {
	SKU          string `json:"sku"`
	Qty          int    `json:"qty"`
	UnitPriceUSD Amount `json:"unit_price_usd"`
}

// Totals breaks down an order amount. Tax and fees are extension points and
// currently always zero.
type Totals struct {
	Subtotal   Amount `json:"subtotal"`
	Tax        Amount `json:"tax"`
	Fees       Amount `json:"fees"`
	GrandTotal Amount `json:"grand_total"`
}

// Order is the immutable fulfillment record returned to the caller. Its
// serialized form is exactly what the receipt content hash covers.
type Order struct {
	OrderID   string     `json:"order_id"`
	Items     []LineItem `json:"items"`
	Totals    Totals     `json:"totals"`
	CreatedAt time.Time  `json:"created_at"`
}

// PaymentMeta records how a stored order was paid.
type PaymentMeta struct {
	SessionID  string    `json:"session_id"`
	ProofID    string    `json:"proof_id"`
	Payer      string    `json:"payer"`
	VerifiedAt time.Time `json:"verified_at"`
}

// StoredOrder is the persisted order together with its receipt token and
// payment metadata. Orders are never deleted.
type StoredOrder struct {
	Order
	Receipt string      `json:"receipt"`
	Payment PaymentMeta `json:"payment"`
}

// X402Details is the payment instruction block inside a 402 challenge.
type X402Details struct {
	Chain             string `json:"chain"`
	Currency          string `json:"currency"`
	AmountUSD         Amount `json:"amount_usd"`
	FacilitatorVerify bool   `json:"facilitator_verify"`
	SessionID         string `json:"session_id"`
	PayEndpointHint   string `json:"pay_endpoint_hint,omitempty"`
}

// PeacDetails points the payer at the policy the purchase is made under.
type PeacDetails struct {
	Policy   string `json:"policy"`
	Receipts string `json:"receipts"`
}

// PaymentChallenge is the structured payment-required signal. It always
// carries a usable session id: fresh when no proof was presented, the
// in-flight one when verification failed.
type PaymentChallenge struct {
	Error    ErrorCode   `json:"error"`
	Message  string      `json:"message"`
	X402     X402Details `json:"x402"`
	Peac     PeacDetails `json:"peac"`
	Messages []Message   `json:"messages,omitempty"`
}

// LedgerOrder is one row of the ledger listing.
type LedgerOrder struct {
	OrderID    string    `json:"order_id"`
	CreatedAt  time.Time `json:"created_at"`
	Total      Amount    `json:"total"`
	ItemsCount int       `json:"items_count"`
	Payer      string    `json:"payer"`
	HasReceipt bool      `json:"has_receipt"`
}

// LedgerSummary aggregates the full order set.
type LedgerSummary struct {
	TotalOrders     int    `json:"total_orders"`
	TotalRevenueUSD Amount `json:"total_revenue_usd"`
	Currency        string `json:"currency"`
	Chain           string `json:"chain"`
}

// LedgerResponse is the ledger endpoint body.
type LedgerResponse struct {
	Summary LedgerSummary `json:"summary"`
	Orders  []LedgerOrder `json:"orders"`
}

// Message defines model for PaymentChallenge.messages.Item.
type Message struct {
	union json.RawMessage
}

// MessageInfo defines model for MessageInfo.
type MessageInfo struct {
	Content     string                 `json:"content"`
	ContentType MessageInfoContentType `json:"content_type"`

	// Param RFC 9535 JSONPath
	Param *string `json:"param,omitempty"`
	Type  string  `json:"type"`
}

// MessageError defines model for MessageError.
type MessageError struct {
	Code        MessageErrorCode       `json:"code"`
	Content     string                 `json:"content"`
	ContentType MessageInfoContentType `json:"content_type"`

	// Param RFC 9535 JSONPath
	Param *string `json:"param,omitempty"`
	Type  string  `json:"type"`
}

// AsMessageInfo returns the union data inside the Message as a MessageInfo
func (t Message) AsMessageInfo() (MessageInfo, error) {
	var body MessageInfo
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageInfo overwrites any union data inside the Message as the provided MessageInfo
func (t *Message) FromMessageInfo(v MessageInfo) error {
	v.Type = "info"
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeMessageInfo performs a merge with any union data inside the Message, using the provided MessageInfo
func (t *Message) MergeMessageInfo(v MessageInfo) error {
	v.Type = "info"
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// AsMessageError returns the union data inside the Message as a MessageError
func (t Message) AsMessageError() (MessageError, error) {
	var body MessageError
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMessageError overwrites any union data inside the Message as the provided MessageError
func (t *Message) FromMessageError(v MessageError) error {
	v.Type = "error"
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// MergeMessageError performs a merge with any union data inside the Message, using the provided MessageError
func (t *Message) MergeMessageError(v MessageError) error {
	v.Type = "error"
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	merged, err := runtime.JSONMerge(t.union, b)
	t.union = merged
	return err
}

// MarshalJSON serializes the underlying union for Message.
func (t Message) MarshalJSON() ([]byte, error) {
	b, err := t.union.MarshalJSON()
	return b, err
}

// UnmarshalJSON loads union data for Message.
func (t *Message) UnmarshalJSON(b []byte) error {
	err := t.union.UnmarshalJSON(b)
	return err
}

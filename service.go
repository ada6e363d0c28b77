package x402shop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peacprotocol/x402shop/receipt"
)

type serviceConfig struct {
	chain          string
	currency       string
	publicOrigin   string
	policyURL      string
	policySnapshot json.RawMessage
	clock          func() time.Time
	webhook        *Webhook
	sessions       SessionStore
	carts          CartStore
	orders         OrderStore
	factChecker    FactChecker
	factCheckPrice Amount
}

// ServiceOption customizes a [Service].
type ServiceOption func(*serviceConfig)

// WithChain sets the settlement chain advertised in challenges. Default "base".
func WithChain(chain string) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.chain = chain
	}
}

// WithCurrency sets the settlement currency. Default "USDC".
func WithCurrency(currency string) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.currency = currency
	}
}

// WithPublicOrigin sets the origin used to build policy, verify, and payment
// hint URLs.
func WithPublicOrigin(origin string) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.publicOrigin = strings.TrimRight(origin, "/")
	}
}

// WithPolicy sets the usage policy URL and the document snapshot embedded in
// every receipt. The snapshot must be valid JSON; it is canonicalized once
// here so receipt bytes do not depend on source formatting.
func WithPolicy(url string, snapshot []byte) ServiceOption {
	canonical, err := receipt.CanonicalizePolicy(snapshot)
	if err != nil {
		panic("shop: policy snapshot: " + err.Error())
	}
	return func(cfg *serviceConfig) {
		cfg.policyURL = url
		cfg.policySnapshot = canonical
	}
}

// WithSessionStore injects the session store. Default in-memory.
func WithSessionStore(store SessionStore) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.sessions = store
	}
}

// WithCartStore injects the cart store. Default in-memory.
func WithCartStore(store CartStore) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.carts = store
	}
}

// WithOrderStore injects the order store. Default in-memory.
func WithOrderStore(store OrderStore) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.orders = store
	}
}

// WithOrderWebhook emits an order_created event after each fulfillment.
// Delivery failures never affect the checkout response.
func WithOrderWebhook(webhook *Webhook) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.webhook = webhook
	}
}

// WithFactChecker injects the fetcher behind the fact-check resource.
// Default is an HTTP fetcher with a 6s timeout.
func WithFactChecker(checker FactChecker) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.factChecker = checker
	}
}

// WithFactCheckPrice sets the flat price quoted for one fact check.
// Default "0.01".
func WithFactCheckPrice(price Amount) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.factCheckPrice = price
	}
}

// serviceWithClock provides deterministic time in tests.
func serviceWithClock(fn func() time.Time) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.clock = fn
	}
}

// CheckoutResult is the terminal outcome of one checkout attempt: either a
// payment challenge or a fulfilled order with its receipt. Body holds the
// exact serialized order the caller must receive; its hash is what the
// receipt's response descriptor binds.
type CheckoutResult struct {
	Challenge *PaymentChallenge
	Order     *Order
	Body      []byte
	Receipt   string
}

type idemEntry struct {
	done   chan struct{}
	result *CheckoutResult
	err    error
}

// Service is the checkout orchestrator: catalog lookup, cart totals,
// challenge issuance, verification dispatch, idempotent fulfillment, and
// ledger aggregation.
type Service struct {
	catalog     Catalog
	issuer      *receipt.Issuer
	verifier    PaymentVerifier
	sessions    SessionStore
	carts       CartStore
	orders      OrderStore
	cfg         serviceConfig
	facilitator bool

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	fulfilled    map[string]*CheckoutResult
	idempotency  map[string]*idemEntry
}

// NewService wires the orchestrator. The catalog, issuer, and verifier are
// required; stores default to the in-memory implementations.
func NewService(catalog Catalog, issuer *receipt.Issuer, verifier PaymentVerifier, opts ...ServiceOption) *Service {
	if len(catalog) == 0 {
		panic("shop: catalog is required")
	}
	if issuer == nil {
		panic("shop: receipt issuer is required")
	}
	if verifier == nil {
		panic("shop: payment verifier is required")
	}
	cfg := serviceConfig{
		chain:          "base",
		currency:       "USDC",
		clock:          time.Now,
		factCheckPrice: MustAmount("0.01"),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.sessions == nil {
		cfg.sessions = NewMemorySessionStore()
	}
	if cfg.carts == nil {
		cfg.carts = NewMemoryCartStore()
	}
	if cfg.orders == nil {
		cfg.orders = NewMemoryOrderStore()
	}
	if cfg.factChecker == nil {
		cfg.factChecker = NewHTTPFactChecker()
	}
	_, facilitator := verifier.(*FacilitatorVerifier)
	return &Service{
		catalog:      catalog,
		issuer:       issuer,
		verifier:     verifier,
		sessions:     cfg.sessions,
		carts:        cfg.carts,
		orders:       cfg.orders,
		cfg:          cfg,
		facilitator:  facilitator,
		sessionLocks: make(map[string]*sync.Mutex),
		fulfilled:    make(map[string]*CheckoutResult),
		idempotency:  make(map[string]*idemEntry),
	}
}

// Catalog returns the product list.
func (s *Service) Catalog(_ context.Context) []Product {
	items := make([]Product, len(s.catalog))
	copy(items, s.catalog)
	return items
}

// CreateCart allocates an empty cart.
func (s *Service) CreateCart(ctx context.Context) (*Cart, error) {
	cart, err := s.carts.Create(ctx)
	if err != nil {
		return nil, NewProcessingError("create cart: " + err.Error())
	}
	return cart, nil
}

// GetCart reads a cart.
func (s *Service) GetCart(ctx context.Context, id string) (*Cart, error) {
	cart, err := s.carts.Get(ctx, id)
	if errors.Is(err, ErrCartNotFound) {
		return nil, NewNotFoundError(CartNotFound, "cart not found")
	}
	if err != nil {
		return nil, NewProcessingError("get cart: " + err.Error())
	}
	return cart, nil
}

// AddItem accumulates quantity of a catalog sku onto the cart.
func (s *Service) AddItem(ctx context.Context, cartID, sku string, qty int) (*Cart, error) {
	if qty <= 0 {
		qty = 1
	}
	if _, ok := s.catalog.Product(sku); !ok {
		return nil, NewInvalidRequestError("unknown sku", WithOffendingParam("sku"), withErrorCode(UnknownSku))
	}
	cart, err := s.carts.AddItem(ctx, cartID, sku, qty)
	if errors.Is(err, ErrCartNotFound) {
		return nil, NewNotFoundError(CartNotFound, "cart not found")
	}
	if err != nil {
		return nil, NewProcessingError("add item: " + err.Error())
	}
	return cart, nil
}

// Checkout runs the payment state machine for one attempt. Every return is
// terminal for the attempt: a challenge, an order with receipt, or a typed
// error that mutated nothing.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest, pctx *PaymentContext) (*CheckoutResult, error) {
	if pctx == nil {
		pctx = &PaymentContext{}
	}
	cart, err := s.carts.Get(ctx, req.CartID)
	if errors.Is(err, ErrCartNotFound) || (err == nil && cart.Empty()) {
		return nil, NewInvalidRequestError("cart is empty or not found", withErrorCode(EmptyCart))
	}
	if err != nil {
		return nil, NewProcessingError("get cart: " + err.Error())
	}
	items, totals, err := s.totals(cart)
	if err != nil {
		return nil, err
	}

	hint := s.cfg.publicOrigin + "/shop/checkout"

	// NoProof: quote the amount, bind it to a fresh session, challenge.
	if pctx.Proof == "" {
		sess, err := s.sessions.Create(ctx, "cart:"+cart.ID, totals.GrandTotal)
		if err != nil {
			return nil, NewProcessingError("create session: " + err.Error())
		}
		return &CheckoutResult{Challenge: s.challenge("Pay via x402 and retry with proof", sess.ID, sess.Amount, hint, infoMessage("Retry checkout with the X-402-Session and X-402-Proof headers"))}, nil
	}

	sess, err := s.sessions.Get(ctx, pctx.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		// Never trust an unrecognized session id: challenge with a fresh one.
		fresh, err := s.sessions.Create(ctx, "cart:"+cart.ID, totals.GrandTotal)
		if err != nil {
			return nil, NewProcessingError("create session: " + err.Error())
		}
		return &CheckoutResult{Challenge: s.challenge("Session not found", fresh.ID, fresh.Amount, hint)}, nil
	}
	if err != nil {
		return nil, NewProcessingError("get session: " + err.Error())
	}

	attempt := func() (*CheckoutResult, error) {
		return s.redeem(ctx, sess, pctx, func(ctx context.Context, payer string, now time.Time) (*CheckoutResult, error) {
			return s.fulfillOrder(ctx, sess, items, totals, pctx.Proof, payer, now)
		})
	}
	if key := pctx.IdempotencyKey; key != "" {
		return s.withIdempotencyKey(key, attempt)
	}
	return attempt()
}

// FactCheck gates one outbound page fetch behind the same payment flow as
// checkout. The fetched evidence is returned with a receipt whose subject is
// "factcheck" and whose content hash binds the exact response body.
func (s *Service) FactCheck(ctx context.Context, targetURL string, pctx *PaymentContext) (*CheckoutResult, error) {
	if pctx == nil {
		pctx = &PaymentContext{}
	}
	if targetURL == "" {
		return nil, NewInvalidRequestError("Provide ?url=", withErrorCode(MissingURL), WithOffendingParam("url"))
	}
	parsed, err := url.Parse(targetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, NewInvalidRequestError("url must be absolute http or https", WithOffendingParam("url"))
	}

	hint := s.cfg.publicOrigin + "/factcheck"

	if pctx.Proof == "" {
		sess, err := s.sessions.Create(ctx, "factcheck:"+targetURL, s.cfg.factCheckPrice)
		if err != nil {
			return nil, NewProcessingError("create session: " + err.Error())
		}
		return &CheckoutResult{Challenge: s.challenge("Pay via x402 and retry with proof", sess.ID, sess.Amount, hint)}, nil
	}

	sess, err := s.sessions.Get(ctx, pctx.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		fresh, err := s.sessions.Create(ctx, "factcheck:"+targetURL, s.cfg.factCheckPrice)
		if err != nil {
			return nil, NewProcessingError("create session: " + err.Error())
		}
		return &CheckoutResult{Challenge: s.challenge("Session not found", fresh.ID, fresh.Amount, hint)}, nil
	}
	if err != nil {
		return nil, NewProcessingError("get session: " + err.Error())
	}

	return s.redeem(ctx, sess, pctx, func(ctx context.Context, payer string, now time.Time) (*CheckoutResult, error) {
		return s.fulfillFactCheck(ctx, sess, targetURL, pctx.Proof, payer, now)
	})
}

// fulfillFactCheck runs after payment settled; a fetch failure is therefore
// reported as an upstream failure, not a payment problem.
func (s *Service) fulfillFactCheck(ctx context.Context, sess *Session, targetURL, proofID, payer string, now time.Time) (*CheckoutResult, error) {
	check, err := s.cfg.factChecker.Check(ctx, targetURL)
	if err != nil {
		return nil, NewHTTPError(http.StatusBadGateway, UpstreamFailure, FactcheckFailed, err.Error())
	}

	body, err := json.Marshal(struct {
		URL    string          `json:"url"`
		Result FactCheckResult `json:"result"`
	}{targetURL, check})
	if err != nil {
		return nil, NewProcessingError("serialize fact check: " + err.Error())
	}

	token, err := s.issuer.Issue(receipt.Payload{
		IssuedAt: now,
		Subject:  "factcheck",
		Request:  receipt.RequestDescriptor{Method: "GET", Path: "/factcheck", Query: "url=" + url.QueryEscape(targetURL)},
		Response: receipt.ResponseDescriptor{Status: 200, BodySHA256: receipt.ContentHash(body)},
		Payment:  s.paymentDescriptor(sess, proofID, payer),
		Policy: receipt.Policy{
			AiprefURL:      s.policyURL(),
			AiprefSnapshot: s.cfg.policySnapshot,
		},
		VerifyURL: s.cfg.publicOrigin + "/verify",
	})
	if err != nil {
		return nil, NewProcessingError("issue receipt: " + err.Error())
	}
	return &CheckoutResult{Body: body, Receipt: token}, nil
}

// withIdempotencyKey claims key before fulfillment starts. Concurrent or
// later submissions with the same key wait for the first attempt and receive
// its outcome; a failed attempt releases the key so the caller can retry.
func (s *Service) withIdempotencyKey(key string, attempt func() (*CheckoutResult, error)) (*CheckoutResult, error) {
	s.mu.Lock()
	if entry, ok := s.idempotency[key]; ok {
		s.mu.Unlock()
		<-entry.done
		return entry.result, entry.err
	}
	entry := &idemEntry{done: make(chan struct{})}
	s.idempotency[key] = entry
	s.mu.Unlock()

	entry.result, entry.err = attempt()
	completed := entry.err == nil && entry.result != nil && entry.result.Order != nil

	s.mu.Lock()
	if !completed {
		delete(s.idempotency, key)
	}
	s.mu.Unlock()
	close(entry.done)
	return entry.result, entry.err
}

// fulfillFunc builds the paid response for one redeemed session.
type fulfillFunc func(ctx context.Context, payer string, now time.Time) (*CheckoutResult, error)

// redeem is the per-session critical section: verification and fulfillment
// run under one lock keyed by session id, so a single proof can never produce
// two receipts even under concurrent retries. Store locks are never held
// while the verifier call is in flight. A completed fulfillment is replayed
// only to the proof that paid the session; any other proof is rejected.
func (s *Service) redeem(ctx context.Context, sess *Session, pctx *PaymentContext, fulfill fulfillFunc) (*CheckoutResult, error) {
	lock := s.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	done := s.fulfilled[sess.ID]
	s.mu.Unlock()
	if done != nil {
		current, err := s.sessions.Get(ctx, sess.ID)
		if err != nil || !current.Paid || current.ProofID != pctx.Proof {
			return &CheckoutResult{Challenge: s.rejection(sess)}, nil
		}
		return done, nil
	}

	verification, err := s.verifier.Verify(ctx, sess.ID, pctx.Proof)
	if err != nil || !verification.Valid {
		return &CheckoutResult{Challenge: s.rejection(sess)}, nil
	}

	payer := verification.Payer
	if payer == "" {
		payer = "unknown"
	}
	if err := s.sessions.MarkPaid(ctx, sess.ID, pctx.Proof, payer); err != nil {
		return &CheckoutResult{Challenge: s.rejection(sess)}, nil
	}

	now := s.cfg.clock().UTC().Truncate(time.Second)
	result, err := fulfill(ctx, payer, now)
	if err != nil || result.Challenge != nil {
		return result, err
	}
	s.mu.Lock()
	s.fulfilled[sess.ID] = result
	s.mu.Unlock()
	return result, nil
}

func (s *Service) fulfillOrder(ctx context.Context, sess *Session, items []LineItem, totals Totals, proofID, payer string, now time.Time) (*CheckoutResult, error) {
	order := &Order{
		OrderID:   newOrderID(),
		Items:     items,
		Totals:    totals,
		CreatedAt: now,
	}
	body, err := json.Marshal(order)
	if err != nil {
		return nil, NewProcessingError("serialize order: " + err.Error())
	}

	token, err := s.issueReceipt(order, body, sess, proofID, payer, now)
	if err != nil {
		return nil, NewProcessingError("issue receipt: " + err.Error())
	}

	stored := &StoredOrder{
		Order:   *order,
		Receipt: token,
		Payment: PaymentMeta{
			SessionID:  sess.ID,
			ProofID:    proofID,
			Payer:      payer,
			VerifiedAt: now,
		},
	}
	if err := s.orders.Put(ctx, stored); err != nil {
		return nil, NewProcessingError("store order: " + err.Error())
	}

	if s.cfg.webhook != nil {
		go func() {
			_ = s.cfg.webhook.SendOrderCreated(context.WithoutCancel(ctx), stored)
		}()
	}
	return &CheckoutResult{Order: order, Body: body, Receipt: token}, nil
}

func (s *Service) issueReceipt(order *Order, body []byte, sess *Session, proofID, payer string, now time.Time) (string, error) {
	orderBlock, err := json.Marshal(struct {
		OrderID string     `json:"order_id"`
		Items   []LineItem `json:"items"`
		Totals  Totals     `json:"totals"`
	}{order.OrderID, order.Items, order.Totals})
	if err != nil {
		return "", err
	}
	return s.issuer.Issue(receipt.Payload{
		IssuedAt: now,
		Subject:  "order",
		Request:  receipt.RequestDescriptor{Method: "POST", Path: "/shop/checkout", Query: ""},
		Response: receipt.ResponseDescriptor{Status: 200, BodySHA256: receipt.ContentHash(body)},
		Payment:  s.paymentDescriptor(sess, proofID, payer),
		Order:    orderBlock,
		Policy: receipt.Policy{
			AiprefURL:      s.policyURL(),
			AiprefSnapshot: s.cfg.policySnapshot,
		},
		VerifyURL: s.cfg.publicOrigin + "/verify",
	})
}

func (s *Service) paymentDescriptor(sess *Session, proofID, payer string) receipt.PaymentDescriptor {
	return receipt.PaymentDescriptor{
		Rail:      "x402",
		Amount:    json.Number(sess.Amount.String()),
		Currency:  s.cfg.currency,
		Chain:     s.cfg.chain,
		ProofID:   proofID,
		SessionID: sess.ID,
		Payer:     payer,
	}
}

// Ledger recomputes the revenue summary from the full order set on every
// call, so it can never drift from the underlying store.
func (s *Service) Ledger(ctx context.Context) (*LedgerResponse, error) {
	stored, err := s.orders.List(ctx)
	if err != nil {
		return nil, NewProcessingError("list orders: " + err.Error())
	}
	rows := make([]LedgerOrder, 0, len(stored))
	revenue := zeroAmount()
	for _, o := range stored {
		revenue = revenue.Add(o.Totals.GrandTotal)
		rows = append(rows, LedgerOrder{
			OrderID:    o.OrderID,
			CreatedAt:  o.CreatedAt,
			Total:      o.Totals.GrandTotal,
			ItemsCount: len(o.Items),
			Payer:      o.Payment.Payer,
			HasReceipt: o.Receipt != "",
		})
	}
	return &LedgerResponse{
		Summary: LedgerSummary{
			TotalOrders:     len(rows),
			TotalRevenueUSD: revenue.RoundMinorUnit(),
			Currency:        s.cfg.currency,
			Chain:           s.cfg.chain,
		},
		Orders: rows,
	}, nil
}

// totals resolves unit prices and computes the order totals in fixed-point
// decimal, rounded half-up at minor-unit precision. Tax and fees are
// extension points, currently zero.
func (s *Service) totals(cart *Cart) ([]LineItem, Totals, error) {
	items := make([]LineItem, 0, len(cart.Items))
	subtotal := zeroAmount()
	for _, item := range cart.Items {
		product, ok := s.catalog.Product(item.SKU)
		if !ok {
			return nil, Totals{}, NewInvalidRequestError("unknown sku "+item.SKU, withErrorCode(UnknownSku))
		}
		items = append(items, LineItem{SKU: item.SKU, Qty: item.Qty, UnitPriceUSD: product.PriceUSD})
		subtotal = subtotal.Add(product.PriceUSD.MulInt(item.Qty))
	}
	subtotal = subtotal.RoundMinorUnit()
	tax := zeroAmount()
	fees := zeroAmount()
	return items, Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Fees:       fees,
		GrandTotal: subtotal.Add(tax).Add(fees).RoundMinorUnit(),
	}, nil
}

func (s *Service) challenge(message, sessionID string, amount Amount, payEndpointHint string, msgs ...Message) *PaymentChallenge {
	return &PaymentChallenge{
		Error:   ErrorCode(PaymentRequired),
		Message: message,
		X402: X402Details{
			Chain:             s.cfg.chain,
			Currency:          s.cfg.currency,
			AmountUSD:         amount.RoundMinorUnit(),
			FacilitatorVerify: s.facilitator,
			SessionID:         sessionID,
			PayEndpointHint:   payEndpointHint,
		},
		Peac: PeacDetails{
			Policy:   s.policyURL(),
			Receipts: "required",
		},
		Messages: msgs,
	}
}

// rejection is the terminal payment-invalid challenge: the session survives
// with its quoted amount, so the client can retry with a valid proof.
func (s *Service) rejection(sess *Session) *PaymentChallenge {
	var msg Message
	_ = msg.FromMessageError(MessageError{
		Code:        MessageErrorCodePaymentDeclined,
		Content:     "Payment verification failed",
		ContentType: MessageInfoContentTypePlain,
	})
	return &PaymentChallenge{
		Error:   PaymentInvalid,
		Message: "Payment verification failed",
		X402: X402Details{
			Chain:             s.cfg.chain,
			Currency:          s.cfg.currency,
			AmountUSD:         sess.Amount.RoundMinorUnit(),
			FacilitatorVerify: s.facilitator,
			SessionID:         sess.ID,
		},
		Peac: PeacDetails{
			Policy:   s.policyURL(),
			Receipts: "required",
		},
		Messages: []Message{msg},
	}
}

func (s *Service) policyURL() string {
	if s.cfg.policyURL != "" {
		return s.cfg.policyURL
	}
	return s.cfg.publicOrigin + "/aipref.json"
}

func (s *Service) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[id] = lock
	}
	return lock
}

func infoMessage(content string) Message {
	var msg Message
	_ = msg.FromMessageInfo(MessageInfo{
		Content:     content,
		ContentType: MessageInfoContentTypePlain,
	})
	return msg
}

func newOrderID() string {
	return "ord_" + strings.Split(uuid.NewString(), "-")[0]
}

package x402shop

import (
	"net/http"

	"github.com/peacprotocol/x402shop/receipt"
)

// Handler wires the shop, receipt verification, and public key routes to a
// [Service] over net/http's ServeMux. It embeds anywhere an http.Handler does.
type Handler struct {
	service *Service
	keys    receipt.KeySet
	mux     *http.ServeMux
	cfg     config
}

// NewHandler builds a [Handler] for the service. The key set backs the
// offline verification and public key routes.
func NewHandler(service *Service, keys receipt.KeySet, opts ...Option) *Handler {
	if service == nil {
		panic("shop: service is required")
	}
	if len(keys) == 0 {
		panic("shop: key set is required")
	}
	var cfg config
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	h := &Handler{
		service: service,
		keys:    keys,
		mux:     http.NewServeMux(),
		cfg:     cfg,
	}
	h.registerRoutes(cfg.middleware...)
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pctx := paymentContextFromRequest(r)
	ctx := contextWithPaymentContext(r.Context(), pctx)
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) registerRoutes(middleware ...Middleware) {
	h.mux.HandleFunc("GET /shop/catalog", applyMiddleware(h.handleCatalog, middleware...))
	h.mux.HandleFunc("POST /shop/cart", applyMiddleware(h.handleCreateCart, middleware...))
	h.mux.HandleFunc("GET /shop/cart/{id}", applyMiddleware(h.handleGetCart, middleware...))
	h.mux.HandleFunc("POST /shop/cart/{id}/add", applyMiddleware(h.handleAddItem, middleware...))
	h.mux.HandleFunc("POST /shop/checkout", applyMiddleware(h.handleCheckout, middleware...))
	h.mux.HandleFunc("GET /factcheck", applyMiddleware(h.handleFactCheck, middleware...))
	h.mux.HandleFunc("GET /shop/ledger", applyMiddleware(h.handleLedger, append(middleware, h.authenticationMiddleware)...))
	h.mux.HandleFunc("POST /verify", applyMiddleware(h.handleVerify, middleware...))
	h.mux.HandleFunc("GET /public-keys/{kid}", applyMiddleware(h.handlePublicKey, middleware...))
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CatalogResponse{Items: h.service.Catalog(r.Context())})
}

func (h *Handler) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.CreateCart(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("cart id is required"))
		return
	}
	cart, err := h.service.GetCart(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CartResponse{Cart: cart})
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, NewInvalidRequestError("cart id is required"))
		return
	}
	var req AddItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	cart, err := h.service.AddItem(r.Context(), id, req.SKU, req.Qty)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CartResponse{Cart: cart})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, NewInvalidRequestError(err.Error()))
		return
	}
	result, err := h.service.Checkout(r.Context(), req, PaymentContextFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeCheckoutResult(w, result)
}

func (h *Handler) handleFactCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.FactCheck(r.Context(), r.URL.Query().Get("url"), PaymentContextFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeCheckoutResult(w, result)
}

// writeCheckoutResult sends either the 402 challenge or the paid body with
// its receipt header. The body bytes go out exactly as hashed.
func writeCheckoutResult(w http.ResponseWriter, result *CheckoutResult) {
	if result.Challenge != nil {
		writeChallenge(w, result.Challenge)
		return
	}
	w.Header().Set("Access-Control-Expose-Headers", "PEAC-Receipt")
	w.Header().Set("PEAC-Receipt", result.Receipt)
	w.Header().Set("Cache-Control", "no-store")
	writeRawJSON(w, http.StatusOK, result.Body)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.service.Ledger(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyResponse{Valid: false, Error: string(InvalidRequest), Message: err.Error()})
		return
	}
	if req.Receipt == "" {
		writeJSON(w, http.StatusBadRequest, VerifyResponse{Valid: false, Error: string(MissingReceipt)})
		return
	}
	result := receipt.Verify(req.Receipt, h.keys)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, VerifyResponse{Valid: false, Error: result.Code, Message: result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, Header: result.Header, Payload: result.Payload})
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	kid := r.PathValue("kid")
	key, ok := h.keys.Get(kid)
	if !ok {
		writeJSONError(w, NewNotFoundError(KeyNotFound, "key not found"))
		return
	}
	// Key material is immutable once published under a kid.
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	writeJSON(w, http.StatusOK, receipt.PublicJWK(kid, key))
}

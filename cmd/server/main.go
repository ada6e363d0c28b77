// Command server runs the x402-gated shop with receipt issuance, offline
// verification, and public key distribution.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peacprotocol/x402shop"
	"github.com/peacprotocol/x402shop/receipt"
	"github.com/peacprotocol/x402shop/storage/sqlite"
)

type config struct {
	Addr         string `env:"ADDR" envDefault:":8787"`
	PublicOrigin string `env:"PUBLIC_ORIGIN" envDefault:"http://localhost:8787"`

	Chain     string `env:"X402_CHAIN" envDefault:"base"`
	Currency  string `env:"X402_CURRENCY" envDefault:"USDC"`
	AmountUSD string `env:"X402_AMOUNT_USD" envDefault:"0.01"`

	DemoMode  bool   `env:"DEMO_MODE" envDefault:"false"`
	DemoToken string `env:"DEMO_TOKEN" envDefault:"demo-pay-ok-123"`

	FacilitatorVerifyURL string `env:"FACILITATOR_VERIFY_URL"`
	FacilitatorAPIKey    string `env:"FACILITATOR_API_KEY"`

	PrivateJWKFile string `env:"PEAC_PRIVATE_JWK" envDefault:"keys/peac-ed25519.private.jwk.json"`
	PublicJWKFile  string `env:"PEAC_PUBLIC_JWK" envDefault:"keys/peac-ed25519.public.jwk.json"`
	PolicyFile     string `env:"AIPREF_FILE" envDefault:"public/aipref.json"`

	OrdersDB      string        `env:"ORDERS_DB"`
	SessionTTL    time.Duration `env:"SESSION_TTL"`
	LedgerAPIKey  string        `env:"LEDGER_API_KEY"`
	WebhookURL    string        `env:"ORDER_WEBHOOK_URL"`
	WebhookSecret string        `env:"ORDER_WEBHOOK_SECRET"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	issuer, keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}
	policy, err := loadPolicy(cfg.PolicyFile, logger)
	if err != nil {
		return err
	}

	amount, err := x402shop.NewAmount(cfg.AmountUSD)
	if err != nil {
		return err
	}
	verifier := buildVerifier(cfg, amount, logger)

	serviceOpts := []x402shop.ServiceOption{
		x402shop.WithChain(cfg.Chain),
		x402shop.WithCurrency(cfg.Currency),
		x402shop.WithPublicOrigin(cfg.PublicOrigin),
		x402shop.WithPolicy(cfg.PublicOrigin+"/aipref.json", policy),
		x402shop.WithFactCheckPrice(amount),
	}
	if cfg.SessionTTL > 0 {
		serviceOpts = append(serviceOpts, x402shop.WithSessionStore(
			x402shop.NewMemorySessionStore(x402shop.WithSessionTTL(cfg.SessionTTL))))
	}
	if cfg.OrdersDB != "" {
		store, err := sqlite.Open(cfg.OrdersDB)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		serviceOpts = append(serviceOpts, x402shop.WithOrderStore(store))
		logger.Info("using sqlite order store", "path", cfg.OrdersDB)
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret != "" {
		serviceOpts = append(serviceOpts, x402shop.WithOrderWebhook(
			x402shop.NewWebhook(cfg.WebhookURL, []byte(cfg.WebhookSecret))))
	}

	service := x402shop.NewService(defaultCatalog(), issuer, verifier, serviceOpts...)

	handlerOpts := []x402shop.Option{}
	if cfg.LedgerAPIKey != "" {
		key := cfg.LedgerAPIKey
		handlerOpts = append(handlerOpts, x402shop.WithAuthenticator(
			x402shop.AuthenticatorFunc(func(_ context.Context, apiKey string) error {
				if apiKey != key {
					return errors.New("invalid ledger api key")
				}
				return nil
			})))
	}
	handler := x402shop.NewHandler(service, keys, handlerOpts...)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(cors)
	router.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"service":"peac-x402-shop"}`))
	})
	router.Get("/aipref.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(policy)
	})
	router.Mount("/", handler)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("shop listening", "addr", cfg.Addr, "origin", cfg.PublicOrigin, "demo", cfg.DemoMode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func loadKeys(cfg config) (*receipt.Issuer, receipt.KeySet, error) {
	privRaw, err := os.ReadFile(cfg.PrivateJWKFile)
	if err != nil {
		return nil, nil, err
	}
	privJWK, err := receipt.ParseJWK(privRaw)
	if err != nil {
		return nil, nil, err
	}
	priv, err := privJWK.PrivateKey()
	if err != nil {
		return nil, nil, err
	}
	issuer, err := receipt.NewIssuer(priv, privJWK.KID)
	if err != nil {
		return nil, nil, err
	}

	pubRaw, err := os.ReadFile(cfg.PublicJWKFile)
	if err != nil {
		return nil, nil, err
	}
	pubJWK, err := receipt.ParseJWK(pubRaw)
	if err != nil {
		return nil, nil, err
	}
	pub, err := pubJWK.PublicKey()
	if err != nil {
		return nil, nil, err
	}
	keys := receipt.KeySet{}
	keys.Add(pubJWK.KID, pub)
	return issuer, keys, nil
}

func loadPolicy(path string, logger *slog.Logger) ([]byte, error) {
	policy, err := os.ReadFile(path)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	logger.Warn("policy file missing, serving minimal default", "path", path)
	return []byte(`{"version":"0.1","usage":"paid","train":false}`), nil
}

func buildVerifier(cfg config, amount x402shop.Amount, logger *slog.Logger) x402shop.PaymentVerifier {
	if cfg.DemoMode {
		logger.Info("demo mode enabled, pay with header", "header", "X-402-Proof", "token", cfg.DemoToken)
		return x402shop.DemoVerifier{
			Token:    cfg.DemoToken,
			Amount:   amount,
			Currency: cfg.Currency,
			Chain:    cfg.Chain,
		}
	}
	if cfg.FacilitatorVerifyURL == "" || cfg.FacilitatorAPIKey == "" {
		logger.Warn("facilitator not configured; all payment proofs will be rejected")
	}
	return x402shop.NewFacilitatorVerifier(cfg.FacilitatorVerifyURL, cfg.FacilitatorAPIKey)
}

func defaultCatalog() x402shop.Catalog {
	return x402shop.Catalog{
		{SKU: "sku_tea", Title: "Premium Tea Sample", PriceUSD: x402shop.MustAmount("0.01")},
		{SKU: "sku_cof", Title: "Artisan Coffee Sample", PriceUSD: x402shop.MustAmount("0.02")},
		{SKU: "sku_choc", Title: "Dark Chocolate Bar", PriceUSD: x402shop.MustAmount("0.02")},
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).Truncate(time.Millisecond).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// cors exposes the receipt header to browser-based buyers.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Accept,X-402-Proof,X-402-Session,Idempotency-Key,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

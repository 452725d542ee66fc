package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/siddimore/bsv-paygate/internal/config"
	"github.com/siddimore/bsv-paygate/pkg/paygate"
	"github.com/siddimore/bsv-paygate/pkg/paygate/redisreplay"
)

var serveFlags struct {
	listen    string
	backend   string
	recipient string
	network   string
	price     uint64
	wallet    string
	exempt    []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway reverse proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if cfg.Backend == "" {
			return errors.New("backend URL is required; use --backend or PAYGATE_BACKEND_URL")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "gateway listen address")
	f.StringVar(&serveFlags.backend, "backend", "", "backend URL to proxy to (e.g. http://localhost:3000)")
	f.StringVar(&serveFlags.recipient, "recipient", "", "recipient address for payments")
	f.StringVar(&serveFlags.network, "network", "", "mainnet, testnet or regtest")
	f.Uint64Var(&serveFlags.price, "price", 0, "price per request in satoshis")
	f.StringVar(&serveFlags.wallet, "wallet", "", "wallet endpoint for delegated verification")
	f.StringSliceVar(&serveFlags.exempt, "exempt", nil, "comma-separated exempt path prefixes")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = serveFlags.listen
	}
	if f.Changed("backend") {
		cfg.Backend = serveFlags.backend
	}
	if f.Changed("recipient") {
		cfg.RecipientAddress = serveFlags.recipient
	}
	if f.Changed("network") {
		cfg.Network = serveFlags.network
	}
	if f.Changed("price") {
		cfg.Price = serveFlags.price
	}
	if f.Changed("wallet") {
		cfg.Wallet.Endpoint = serveFlags.wallet
	}
	if f.Changed("exempt") {
		cfg.ExemptPaths = serveFlags.exempt
	}
}

// gateway is the assembled serving stack.
type gateway struct {
	gate     *paygate.Gate
	receipts paygate.ReceiptStore
	registry *prometheus.Registry
	log      *slog.Logger
	closers  []func() error
}

func (gw *gateway) Close() {
	for _, c := range gw.closers {
		if err := c(); err != nil {
			gw.log.Warn("close failed", "error", err)
		}
	}
}

func buildGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gateway, error) {
	params, err := paygate.NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	gw := &gateway{
		registry: prometheus.NewRegistry(),
		log:      log,
	}
	gw.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gcfg := paygate.Config{
		RecipientAddress: cfg.RecipientAddress,
		Network:          params,
		Pricing:          cfg.Pricing(),
		Fee:              cfg.Fee,
		Metrics:          paygate.NewMetrics(gw.registry),
		Logger:           log,
		ExemptPaths:      cfg.ExemptPaths,
		DelegateTimeout:  cfg.Wallet.Timeout,
	}

	if cfg.Wallet.Endpoint != "" {
		gcfg.Wallet = paygate.NewHTTPWallet(paygate.WalletConfig{
			Endpoint:   cfg.Wallet.Endpoint,
			Originator: cfg.Wallet.Originator,
			Timeout:    cfg.Wallet.Timeout,
		})
	}

	switch cfg.Replay.Backend {
	case "redis":
		guard, err := redisreplay.New(ctx, cfg.Replay.Redis)
		if err != nil {
			return nil, err
		}
		gw.closers = append(gw.closers, guard.Close)
		gcfg.Replay = guard
	default:
		gcfg.Replay = paygate.NewMemoryReplayGuard(cfg.Replay.Capacity, cfg.Replay.Prune)
	}

	if cfg.Receipts.Enabled {
		gw.receipts = paygate.NewInMemoryReceiptStore(cfg.Receipts.MaxSize)
		gcfg.Receipts = gw.receipts
	}

	gw.gate, err = paygate.New(gcfg)
	if err != nil {
		gw.Close()
		return nil, err
	}
	return gw, nil
}

// newProxy forwards admitted requests to target, passing the accepted
// payment on in the success headers.
func newProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Header.Set("X-Origin-Host", target.Host)
		req.Header.Del(paygate.HeaderPayment)
		// only the gate may vouch for a payment
		req.Header.Del(paygate.HeaderTxID)
		req.Header.Del(paygate.HeaderSatoshisPaid)
		if v, ok := paygate.FromContext(req.Context()); ok && v.TxID != "" {
			req.Header.Set(paygate.HeaderSatoshisPaid, strconv.FormatUint(v.SatoshisPaid, 10))
			req.Header.Set(paygate.HeaderTxID, v.TxID)
		}
	}
	return proxy
}

func (gw *gateway) router(backend http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(gw.httpLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gw.registry, promhttp.HandlerOpts{}))
	if gw.receipts != nil {
		r.Get("/receipts", paygate.ReceiptsHandler(gw.receipts))
	}
	r.Handle("/*", gw.gate.Middleware(backend))
	return r
}

func (gw *gateway) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(gw.log, next)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := cfg.NewLogger(os.Stderr)

	target, err := url.Parse(cfg.Backend)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      gw.router(newProxy(target)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting payment gateway",
			"listenAddress", cfg.Listen,
			"backend", cfg.Backend,
			"price", cfg.Price,
			"recipient", cfg.RecipientAddress,
			"replay", cfg.Replay.Backend,
			"delegated", cfg.Wallet.Endpoint != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful HTTP server shutdown failed", "err", err)
		return err
	}
	log.Info("HTTP server gracefully stopped")
	return nil
}

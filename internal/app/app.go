package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/messaging/kafka"
	"github.com/xenking/kart-checkout/internal/outbox"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	redisstore "github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := newRedis(cfg.Redis.Addr)
	if err != nil {
		return errors.Wrap(err, "create redis client")
	}
	defer func() { _ = rdb.Close() }()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)
	cartStore := redisstore.NewCartStore(rdb, cfg.Redis.CartTTL)

	// Domain services.
	ledger := coupon.NewLedger(couponRepo)
	carts := cart.NewService(cartStore, productRepo)
	broker, verifiers := newPayments(cfg, lg, productRepo, ledger)
	materializer := order.NewMaterializer(orderRepo, loyaltyPolicy(cfg.Checkout))
	checkoutSvc, err := checkout.NewService(broker, materializer, m.MeterProvider(), verifiers...)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	var providers []string
	for _, p := range broker.Providers() {
		providers = append(providers, string(p))
	}
	lg.Info("Payment providers configured", zap.Strings("providers", providers))

	// HTTP handlers.
	h := handler.New(handler.Config{Production: cfg.Production}, handler.Deps{
		Products: productRepo,
		Orders:   orderRepo,
		Checkout: checkoutSvc,
		Coupons:  ledger,
		Carts:    carts,
		Tokens:   auth.NewTokenVerifier([]byte(cfg.Auth.AccessTokenSecret)),
	})

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:            cfg.RateLimit.Max,
		Window:         cfg.RateLimit.Window,
		TrustForwarded: cfg.RateLimit.TrustForwarded,
	})

	root := newRouter(zctx.From(ctx), m, cfg, healthSvc, limiter, h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           root,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return limiter.Run(gCtx)
	})

	if cfg.Kafka.Enabled {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers, lg.Named("kafka"))
		defer func() { _ = pub.Close() }()
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.PingCheck(pub))

		relay := outbox.NewRelay(outboxRepo, pub, cfg.Outbox.Interval, cfg.Outbox.Batch, lg.Named("outbox"))
		g.Go(func() error {
			return relay.Run(gCtx)
		})
	} else {
		lg.Warn("Kafka disabled, order events stay in the outbox")
	}

	healthSvc.Start(gCtx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newRouter mounts the API and health probes behind the shared middleware.
// Route patterns are resolved by chi, so the middlewares are registered on
// the root router rather than wrapped around it.
func newRouter(
	lg *zap.Logger,
	t httpmiddleware.Telemetry,
	cfg *Config,
	healthSvc *health.Health,
	limiter *httpmiddleware.RateLimiter,
	api http.Handler,
) chi.Router {
	root := chi.NewRouter()
	root.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins:          cfg.CORS.Origins,
			Headers:          []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		limiter.Middleware(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("kart-api", t),
		httpmiddleware.LogRequests(),
	)
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", api)
	return root
}

// newRedis accepts either host:port or a redis:// URL.
func newRedis(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func loyaltyPolicy(cfg CheckoutConfig) coupon.Policy {
	p := coupon.DefaultPolicy()
	p.Threshold = cfg.LoyaltyThreshold
	p.Percentage = cfg.LoyaltyPercent
	p.Validity = cfg.LoyaltyValidity
	return p
}

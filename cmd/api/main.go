package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/auth"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/promo"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/internal/verification"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/hcaptcha"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	var dispatcher orders.Dispatcher
	if cfg.PubSub.Enabled(cfg.GCP) {
		psClient, psErr := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if psErr != nil {
			return fmt.Errorf("bootstrap pubsub: %w", psErr)
		}
		defer func() { err = multierr.Append(err, psClient.Close()) }()

		publisher := psClient.ConfirmationPublisher()
		defer publisher.Stop()

		pubsubDispatcher, dispatchErr := orders.NewPubSubDispatcher(publisher)
		if dispatchErr != nil {
			return fmt.Errorf("create confirmation dispatcher: %w", dispatchErr)
		}
		dispatcher = pubsubDispatcher
	} else {
		logg.Warn(ctx, "order confirmations disabled: pubsub not configured")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	captcha, err := hcaptcha.NewClient(cfg.Verification)
	if err != nil {
		return fmt.Errorf("create verification provider: %w", err)
	}
	verificationService, err := verification.NewService(
		verification.NewRedisStore(redisClient),
		verification.NewHCaptchaProvider(captcha),
		cfg.Verification,
		metrics.NewVerificationMetrics(registry),
		logg,
	)
	if err != nil {
		return fmt.Errorf("create verification service: %w", err)
	}

	productRepo := product.NewRepository(dbClient.DB())
	productService, err := product.NewService(productRepo)
	if err != nil {
		return fmt.Errorf("create product service: %w", err)
	}

	cartService, err := cart.NewService(dbClient, cart.NewRepository(dbClient.DB()), productRepo, cfg.Checkout, logg)
	if err != nil {
		return fmt.Errorf("create cart service: %w", err)
	}

	promoService, err := promo.NewService(promo.NewRepository(dbClient.DB()), cartService, cfg.Checkout, logg)
	if err != nil {
		return fmt.Errorf("create promo service: %w", err)
	}

	addressService, err := address.NewService(address.NewRepository(dbClient.DB()))
	if err != nil {
		return fmt.Errorf("create address service: %w", err)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Tx:             dbClient,
		Repo:           orders.NewRepository(dbClient.DB()),
		Products:       productRepo,
		Carts:          cartService,
		Addresses:      addressService,
		Promos:         promoService,
		Gate:           verificationService,
		Dispatcher:     dispatcher,
		Checkout:       cfg.Checkout,
		PublishTimeout: cfg.PubSub.PublishTimeout,
		Metrics:        metrics.NewCheckoutMetrics(registry),
		Logger:         logg,
	})
	if err != nil {
		return fmt.Errorf("create order service: %w", err)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:  users.NewRepository(dbClient.DB()),
		Gate:      verificationService,
		Hasher:    security.NewHasher(cfg.Password),
		JWTConfig: cfg.JWT,
		Logger:    logg,
	})
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:           cfg,
			Logger:           logg,
			DB:               dbClient,
			Redis:            redisClient,
			IdempotencyStore: redisClient,
			RateLimiter:      redisClient,
			Gatherer:         registry,
			Products:         productService,
			Carts:            cartService,
			Promos:           promoService,
			Addresses:        addressService,
			Orders:           orderService,
			Verification:     verificationService,
			Auth:             authService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

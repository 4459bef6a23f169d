package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/auth"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/promo"
	"github.com/angelmondragon/storefront-backend/internal/verification"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies is everything the HTTP surface needs. Nil services answer 500.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger

	DB               db.Pinger
	Redis            redis.Pinger
	IdempotencyStore redis.IdempotencyStore
	RateLimiter      rateLimiter
	Gatherer         prometheus.Gatherer

	Products     product.Service
	Carts        cart.Service
	Promos       promo.Service
	Addresses    address.Service
	Orders       orders.Service
	Verification verification.Service
	Auth         auth.Service
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)
	idempotent := middleware.Idempotency(deps.IdempotencyStore, cfg.Checkout.IdempotencyTTL, logg)

	r.Route("/api", func(r chi.Router) {
		r.Use(
			otelhttp.NewMiddleware("storefront-api"),
			middleware.OptionalAuth(cfg.JWT, logg),
		)

		r.Get("/products", controllers.ProductList(deps.Products, logg))
		r.Get("/products/{productID}", controllers.ProductDetail(deps.Products, logg))

		r.Route("/cart", func(r chi.Router) {
			r.With(idempotent).Post("/", cartcontrollers.CartCreate(deps.Carts, logg))
			r.Get("/", cartcontrollers.CartFetch(deps.Carts, logg))
			r.Post("/add", cartcontrollers.CartAddItem(deps.Carts, logg))
			r.Post("/update", cartcontrollers.CartUpdateItem(deps.Carts, logg))
			r.Post("/remove", cartcontrollers.CartRemoveItem(deps.Carts, logg))
			r.Get("/{cartID}", cartcontrollers.CartDetail(deps.Carts, logg))
			r.Delete("/{cartID}", cartcontrollers.CartDelete(deps.Carts, logg))
		})

		r.Post("/promo/apply", controllers.PromoApply(deps.Promos, logg))

		r.Route("/addresses", func(r chi.Router) {
			r.Post("/", controllers.AddressCreate(deps.Addresses, logg))
			r.With(middleware.RequireAuth(logg)).Get("/", controllers.AddressList(deps.Addresses, logg))
			r.Get("/{addressID}", controllers.AddressDetail(deps.Addresses, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(idempotent).Post("/", ordercontrollers.CreateOrder(deps.Orders, logg))
			r.Get("/{orderID}", ordercontrollers.GetOrder(deps.Orders, logg))
		})

		r.Route("/verification", func(r chi.Router) {
			r.Post("/challenges", controllers.VerificationIssue(deps.Verification, logg))
			r.Get("/challenges/{challengeID}", controllers.VerificationStatus(deps.Verification, logg))
			r.Post("/verify", controllers.VerificationVerify(deps.Verification, logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, deps.RateLimiter, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
			r.With(middleware.AuthRateLimit(registerPolicy, deps.RateLimiter, logg)).Post("/register", controllers.AuthRegister(deps.Auth, logg))
		})
	})

	return r
}

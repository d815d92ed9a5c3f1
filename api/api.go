package api

import (
	"context"
	_ "embed"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/orion/revocation"
	"github.com/jmcleod/orion/storage"
)

const sweepInterval = time.Minute

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo    storage.Repository
	tokens  *tokenSigner
	revoked revocation.List
	audit   *auditLogger
	metrics *metricsCollector
	logger  zerolog.Logger

	registry *prometheus.Registry
	alertFn  AlertFunc

	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	now        func() time.Time

	accountLimiter   *backoffLimiter
	ipLimiter        *backoffLimiter
	globalLimiter    *windowLimiter
	regIPLimiter     *backoffLimiter
	regGlobalLimiter *windowLimiter

	trustedProxies []netip.Prefix
	allowedOrigins []string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger used for request and audit logging.
// If not set, logging is disabled.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithRevocationList sets where rotated and logged-out refresh tokens are
// recorded. Defaults to an in-process list.
func WithRevocationList(l revocation.List) Option {
	return func(a *API) {
		a.revoked = l
	}
}

// WithSigningKey sets the HS256 key for session tokens. Without it a random
// key is generated, so sessions do not survive a restart.
func WithSigningKey(key []byte) Option {
	return func(a *API) {
		a.signingKey = key
	}
}

// WithTokenTTL sets the access and refresh token lifetimes. A zero value
// keeps the default.
func WithTokenTTL(access, refresh time.Duration) Option {
	return func(a *API) {
		a.accessTTL = access
		a.refreshTTL = refresh
	}
}

// WithTrustedProxies configures reverse-proxy CIDRs/IPs whose
// X-Forwarded-For / X-Real-IP headers are trusted for client IP extraction.
func WithTrustedProxies(proxies []string) (Option, error) {
	parsed, err := parseTrustedProxies(proxies)
	if err != nil {
		return nil, err
	}
	return func(a *API) {
		a.trustedProxies = parsed
	}, nil
}

// WithAllowedOrigins sets the browser origins allowed to make credentialed
// cross-origin requests.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		a.allowedOrigins = origins
	}
}

// WithAlertFunc registers a callback for login and refresh failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithRegistry sets the Prometheus registry the API registers its
// collectors on and serves from /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *API) {
		a.registry = reg
	}
}

// WithClock overrides the time source used to issue and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(a *API) {
		a.bcryptCost = cost
	}
}

// New creates a new API instance.
func New(repo storage.Repository, opts ...Option) *API {
	a := &API{
		repo:             repo,
		logger:           zerolog.Nop(),
		bcryptCost:       bcrypt.DefaultCost,
		accountLimiter:   newBackoffLimiter(accountPolicy),
		ipLimiter:        newBackoffLimiter(ipPolicy),
		globalLimiter:    newWindowLimiter(globalLoginPolicy),
		regIPLimiter:     newBackoffLimiter(registrationIPPolicy),
		regGlobalLimiter: newWindowLimiter(globalRegistrationPolicy),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.revoked == nil {
		a.revoked = revocation.NewMemory()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.tokens = newTokenSigner(a.signingKey, a.accessTTL, a.refreshTTL)
	if a.now != nil {
		a.tokens.now = a.now
	}
	a.signingKey = nil
	a.metrics = newMetricsCollector(a.registry, a.alertFn)
	a.audit = newAuditLogger(a.logger, a.metrics, a.extractClientIP)
	return a
}

// StartSweeper periodically drops expired rate-limit records until ctx is
// done.
func (a *API) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.accountLimiter.sweep()
				a.ipLimiter.sweep()
				a.regIPLimiter.sweep()
			}
		}
	}()
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requestLogger)
	r.Use(a.metrics.instrument)
	r.Use(a.CORSMiddleware)
	r.Use(SecurityHeaders)

	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Post("/login", a.Login)
	r.Post("/users/", a.CreateUser)

	r.Group(func(r chi.Router) {
		r.Use(a.CSRFMiddleware)
		r.Post("/refresh", a.Refresh)
		r.Post("/logout", a.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Use(a.CSRFMiddleware)
		r.Get("/me", a.Me)
		r.Get("/users/", a.ListUsers)
		r.Get("/users/{email}", a.GetUser)
		r.Put("/users/{email}", a.UpdateUser)
		r.Delete("/users/{email}", a.DeleteUser)
	})

	return r
}

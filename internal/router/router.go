package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/towndir/internal/handler/cache"
	"github.com/jwalitptl/towndir/internal/handler/directory"
	"github.com/jwalitptl/towndir/internal/handler/email"
	"github.com/jwalitptl/towndir/internal/handler/health"
	promhandler "github.com/jwalitptl/towndir/internal/handler/prometheus"
	"github.com/jwalitptl/towndir/internal/handler/suppression"
	"github.com/jwalitptl/towndir/internal/handler/token"
	"github.com/jwalitptl/towndir/internal/handler/unsubscribe"
	"github.com/jwalitptl/towndir/internal/middleware"
	"github.com/jwalitptl/towndir/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Handlers groups every route owner the router mounts.
type Handlers struct {
	Health      *health.Handler
	Cache       *cache.Handler
	Email       *email.Handler
	Suppression *suppression.Handler
	Token       *token.Handler
	Directory   *directory.Handler
	Unsubscribe *unsubscribe.Handler
}

type RouterConfig struct {
	RateLimit        bool
	RateRPS          float64
	RateBurst        int
	UnsubscribeRPS   float64
	UnsubscribeBurst int
	RequestTimeout   time.Duration
	CORSConfig       middleware.CORSConfig
	SecurityConfig   middleware.SecurityConfig
	MetricsPrefix    string
	// Registerer receives the HTTP metrics.
	Registerer prometheus.Registerer
	Debug      bool
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	config   RouterConfig
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, log *logger.Logger, config RouterConfig) *Router {
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New() // Use New() instead of Default() for more control

	if config.Registerer == nil {
		config.Registerer = prometheus.NewRegistry()
	}
	if config.MetricsPrefix == "" {
		config.MetricsPrefix = "towndir_http"
	}
	httpMetrics := promhandler.New(config.Registerer, config.MetricsPrefix)

	// Add core middlewares. RequestID runs first so every later log line
	// and error response carries it.
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		httpMetrics.Middleware(),
		middleware.ErrorHandler(log),
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.SecurityHeaders(config.SecurityConfig),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
	)

	// Add CORS with config
	engine.Use(middleware.CORS(config.CORSConfig))

	if config.RateLimit {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   config.RateRPS,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		config:   config,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Health check endpoints
	r.handlers.Health.RegisterRoutes(api)

	// Public routes
	r.setupPublicRoutes(api)

	// Protected routes
	admin := api.Group("/admin")
	admin.Use(r.auth.Authenticate())
	r.setupAdminRoutes(admin)
}

func (r *Router) setupPublicRoutes(rg *gin.RouterGroup) {
	r.handlers.Directory.RegisterRoutes(rg, middleware.Cache(middleware.DefaultCacheConfig()))

	throttle := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   r.config.UnsubscribeRPS,
		Burst: r.config.UnsubscribeBurst,
	})
	r.handlers.Unsubscribe.RegisterRoutes(rg, throttle.RateLimit())
	r.handlers.Token.RegisterPublicRoutes(rg, throttle.RateLimit())
}

func (r *Router) setupAdminRoutes(rg *gin.RouterGroup) {
	for _, h := range []Handler{
		r.handlers.Cache,
		r.handlers.Email,
		r.handlers.Suppression,
		r.handlers.Token,
	} {
		h.RegisterRoutes(rg)
	}
	r.handlers.Directory.RegisterAdminRoutes(rg)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

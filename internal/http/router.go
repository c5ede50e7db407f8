package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/repo"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Metrics is optional; a nil Prom skips request metrics and a nil Gatherer
// leaves /metrics unmounted.
type Metrics struct {
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
}

// NewRouter fails only when cfg.TrustedProxies holds something that is not an
// IP or CIDR.
func NewRouter(log *slog.Logger, store repo.Store, cfg config.Config, metrics Metrics) (*gin.Engine, error) {
	if !cfg.IsDev() && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	if metrics.Prom != nil {
		r.Use(metrics.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	}

	// health
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return store.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if metrics.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.IsDev() {
		r.GET("/docs", handlers.SwaggerUI)
		r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)
	}

	// users
	usersHandler := handlers.NewUsersHandler(store)

	users := r.Group("/users")
	if cfg.RateLimitPerMinute > 0 {
		rl := middlewares.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		users.Use(rl.RateLimiterMiddleware(middlewares.KeyByIP))
	}
	if cfg.MaxBodyBytes > 0 {
		users.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	}
	users.Use(middlewares.RequireJSON())

	users.POST("", usersHandler.CreateUser)
	users.GET("", usersHandler.ListUsers)
	users.GET("/:id", usersHandler.GetUserByID)
	users.PUT("/:id", usersHandler.UpdateUser)
	users.DELETE("/:id", usersHandler.DeleteUser)

	return r, nil
}

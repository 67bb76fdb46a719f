package api

import (
	"net/http"
	"time"

	"loyalty-checkin/pkg/auth"
	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/health"
	"loyalty-checkin/pkg/middleware"
	"loyalty-checkin/services/realtime"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(
		NewHandler,
		NewRouter,
	),
)

type RouterParams struct {
	fx.In
	Config   *config.Config
	Handler  *Handler
	Realtime *realtime.Handler
	Health   health.HealthService
	Verifier *auth.Verifier
}

// NewRouter builds the gin engine and wraps it for tracing.
func NewRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(), middleware.Error())

	corsCfg := cors.DefaultConfig()
	if len(p.Config.Server.CorsOrigins) > 0 {
		corsCfg.AllowOrigins = p.Config.Server.CorsOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowHeaders("Authorization")
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewUserRateLimiter(p.Config.RateLimit.RPS, p.Config.RateLimit.Burst)

	v1 := r.Group("/v1", middleware.Authenticate(p.Verifier))
	{
		v1.POST("/checkins", limiter.Middleware(), p.Handler.CheckIn)
		v1.POST("/roulette/spins", limiter.Middleware(), p.Handler.Spin)

		me := v1.Group("/me")
		me.GET("/profile", p.Handler.Profile)
		me.GET("/streak", p.Handler.Streak)
		me.GET("/coupons", p.Handler.Coupons)
		me.GET("/spins", p.Handler.Spins)
		me.GET("/checkins", p.Handler.History)

		v1.GET("/realtime/stream", p.Realtime.Stream)

		admin := v1.Group("/admin", middleware.RequireAdmin())
		admin.POST("/coupons", p.Handler.GrantCoupon)
		admin.POST("/spins", p.Handler.GrantSpins)
		admin.POST("/streaks/:user_id/rebuild", p.Handler.RebuildStreak)
		admin.PUT("/settings/:key", p.Handler.UpdateSetting)
	}

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

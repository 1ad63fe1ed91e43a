package httpapi

import (
	"net/http"

	"ecoquest/pkg/config"
	"ecoquest/pkg/health"
	"ecoquest/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	health.Module,
	fx.Provide(
		NewEngine,
		NewHandler,
		middleware.NewAuthenticator,
	),
	fx.Invoke(registerOperationalEndpoints),
)

// AllowedHeaders are the request headers browsers may send cross origin.
var AllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", "idempotency-key"}

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error(cfg.HTTP.StrictStatusCodes))
	return r
}

// NewHandler wraps the engine with CORS so OPTIONS preflight is answered for
// every route, including ones gin does not know.
func NewHandler(cfg *config.Config, r *gin.Engine) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: cfg.Cors.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: AllowedHeaders,
		MaxAge:         600,
	}).Handler(r)
}

func registerOperationalEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

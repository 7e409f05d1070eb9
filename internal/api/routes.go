package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Rajchodisetti/market-data/internal/auth"
	"github.com/Rajchodisetti/market-data/internal/observ"
)

// NewRouter builds the engine with CORS, identity and request logging.
func NewRouter(h *Handler, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h))
	router.Use(cors.New(corsConfig(corsOrigins)))

	SetupRoutes(router, h)
	return router
}

func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Healthz)
	router.GET("/metrics", gin.WrapH(observ.Handler()))

	md := router.Group("/market-data", auth.Middleware())
	{
		md.GET("/options", h.GetOptions)
		md.GET("/admin/stats", auth.Elevated(), h.GetAdminStats)
		md.GET("/:location", auth.Required(), h.GetMarketData)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", auth.HeaderUserID, auth.HeaderTier},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		labels := map[string]string{"route": c.FullPath(), "status": http.StatusText(c.Writer.Status())}
		observ.IncCounter("http_requests_total", labels)
		observ.RecordDuration("http_request_duration", time.Since(start), map[string]string{"route": c.FullPath()})

		h.logger.WithFields(map[string]any{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}

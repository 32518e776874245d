package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RemoteCache reports the redis tier's breaker state.
type RemoteCache interface {
	RemoteState() string
}

type Handler struct {
	db       Pinger
	cache    RemoteCache
	gatherer prometheus.Gatherer
}

func NewHandler(db Pinger, cache RemoteCache, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		db:       db,
		cache:    cache,
		gatherer: gatherer,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
		health.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// ReadinessCheck needs the database. An open redis breaker degrades the
// cache but the API still answers, so it is reported without failing.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	cacheState := h.cache.RemoteState()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
			"cache":  cacheState,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "cache": cacheState})
}

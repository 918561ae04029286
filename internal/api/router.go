package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"iv-monitor-backend/config"
	"iv-monitor-backend/internal/mw"
	"iv-monitor-backend/internal/store"
)

// NewRouter creates and configures the status API router. The status
// endpoint is served live; history endpoints sit behind the cache.
func NewRouter(cfg config.ServerConfig, s store.Store, webpushOptions *webpush.Options, snapshots SnapshotSource) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, snapshots)

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	rateLimiter := mw.RateLimit(limit, 5)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/status", handler.GetStatus)
		api.GET("/sessions", caching, handler.GetSessions)
		api.GET("/events", caching, handler.GetEvents)
		api.GET("/calibration", caching, handler.GetCalibration)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/storage"
)

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db            *storage.DB
	redis         *redis.Client
	scenarioCache *scenario.Cache
	startedAt     time.Time
	logger        *logrus.Logger
}

// NewHealthHandler creates a health handler. db may be nil when running
// without Postgres.
func NewHealthHandler(db *storage.DB, redisClient *redis.Client, scenarioCache *scenario.Cache, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		db:            db,
		redis:         redisClient,
		scenarioCache: scenarioCache,
		startedAt:     time.Now(),
		logger:        logger,
	}
}

// GetHealth returns the basic health status.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := HealthStatus{
		Status:    "ok",
		Service:   "tail-optimizer",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	// Database is optional: solving works without it.
	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			response.Status = "degraded"
			response.Checks["database"] = "failed: " + err.Error()
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = "not_configured"
	}

	// Redis is critical: jobs and results live there.
	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		response.Status = "unhealthy"
		response.Checks["redis"] = "failed: " + err.Error()
	} else {
		response.Checks["redis"] = "ok"
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	} else if response.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, response)
}

// GetReady returns the readiness status.
func (h *HealthHandler) GetReady(c *gin.Context) {
	response := HealthStatus{
		Status:    "ready",
		Service:   "tail-optimizer",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		response.Status = "not_ready"
		response.Checks["redis"] = "failed: " + err.Error()
	} else {
		response.Checks["redis"] = "ok"
	}

	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			// Optimization still works without the database.
			response.Checks["database"] = "failed: " + err.Error()
		} else {
			response.Checks["database"] = "ok"
		}
	}

	statusCode := http.StatusOK
	if response.Status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// GetMetrics returns service metrics, including scenario cache counters.
func (h *HealthHandler) GetMetrics(c *gin.Context) {
	metrics := map[string]interface{}{
		"service":        "tail-optimizer",
		"timestamp":      time.Now(),
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	}

	stats := h.scenarioCache.Stats()
	metrics["scenario_cache"] = map[string]interface{}{
		"hits":         stats.Hits,
		"misses":       stats.Misses,
		"evictions":    stats.Evictions,
		"sample_calls": stats.SampleCalls,
		"bytes":        stats.Bytes,
		"entries":      stats.Entries,
	}

	if dbSize, err := h.redis.DBSize(c.Request.Context()).Result(); err == nil {
		metrics["redis"] = map[string]interface{}{"total_keys": dbSize}
	}
	if resultKeys, err := h.redis.Keys(c.Request.Context(), "result:job:*").Result(); err == nil {
		metrics["result_cache"] = map[string]interface{}{"cached_results": len(resultKeys)}
	}

	if h.db != nil {
		if sqlDB, err := h.db.DB.DB(); err == nil {
			stats := sqlDB.Stats()
			metrics["database"] = map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
			}
		}
	}

	c.JSON(http.StatusOK, metrics)
}

package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/idcache"
	"sjsage522/dealingest/internal/pipeline"
	"sjsage522/dealingest/internal/store"
	"sjsage522/dealingest/logger"
	apperrors "sjsage522/dealingest/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Ingester is the pipeline surface the admin endpoints drive
type Ingester interface {
	RunOnce(ctx context.Context) (*pipeline.Summary, error)
	Cleanup(ctx context.Context, days int) (int64, error)
	Stats() pipeline.CycleStats
	State() pipeline.State
	Running() bool
	Categories() []deal.Category
	Cache() *idcache.Cache
}

// Handler serves the admin endpoints
type Handler struct {
	ingest        Ingester
	stats         store.StatsReader
	strategy      string
	retentionDays int
	startedAt     time.Time
	log           *logger.Logger
}

// NewHandler creates a handler. stats may be nil when the store cannot report counts.
func NewHandler(ingest Ingester, stats store.StatsReader, strategy string, retentionDays int, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		ingest:        ingest,
		stats:         stats,
		strategy:      strategy,
		retentionDays: retentionDays,
		startedAt:     time.Now(),
		log:           log,
	}
}

// Endpoints lists every route for the index and 404 answers
var Endpoints = map[string]string{
	"GET /":             "service information",
	"GET /health":       "liveness",
	"GET /status":       "cycle and cache status",
	"GET /stats":        "stored deal counts",
	"GET /cache/search": "cached identifiers matching ?q=pattern",
	"POST /crawl":       "run one ingestion cycle",
	"POST /cleanup":     "delete old records, ?days=N",
}

// Index describes the service and its endpoints
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":    "dealingest",
		"source":     "알구몬",
		"strategy":   h.strategy,
		"categories": h.ingest.Categories(),
		"endpoints":  Endpoints,
	})
}

// Health reports liveness and uptime
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Status reports cycle counters, the current step and cache efficiency
func (h *Handler) Status(c *gin.Context) {
	cache := h.ingest.Cache()
	status := "idle"
	if h.ingest.Running() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"state":      h.ingest.State(),
		"strategy":   h.strategy,
		"crawler":    h.ingest.Stats(),
		"cache":      cache.Stats(),
		"efficiency": cache.Efficiency(),
		"categories": h.ingest.Categories(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// Stats reports stored deal counts alongside cache stats
func (h *Handler) Stats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "store does not report statistics"})
		return
	}

	st, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Store stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store stats unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": st,
		"cache": h.ingest.Cache().Stats(),
	})
}

// Crawl runs one cycle. The cycle outlives a disconnecting client.
func (h *Handler) Crawl(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())

	sum, err := h.ingest.RunOnce(ctx)
	if errors.Is(err, pipeline.ErrCycleInProgress) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Manual ingestion cycle failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": apperrors.Message(err), "summary": sum})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary": sum})
}

// Cleanup deletes old records using ?days=N, or the configured retention
func (h *Handler) Cleanup(c *gin.Context) {
	days := h.retentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "days must be a positive integer"})
			return
		}
		days = n
	}

	deleted, err := h.ingest.Cleanup(c.Request.Context(), days)
	if err != nil {
		h.log.Error().Err(err).Int("days", days).Msg("Manual cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": apperrors.Message(err), "deleted": deleted})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "days": days, "deleted": deleted})
}

// CacheSearch lists cached identifiers matching the ?q= pattern
func (h *Handler) CacheSearch(c *gin.Context) {
	pattern := c.Query("q")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	ids, err := h.ingest.Cache().Search(pattern)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pattern": pattern, "count": len(ids), "ids": ids})
}

// NotFound answers unknown routes with the endpoint list
func (h *Handler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":              "Not found",
		"path":               c.Request.URL.Path,
		"availableEndpoints": Endpoints,
	})
}

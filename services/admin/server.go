package admin

import (
	"time"

	"sjsage522/dealingest/logger"

	"github.com/gin-gonic/gin"
)

// NewServer creates the gin engine with all routes configured
func NewServer(handler *Handler, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/", handler.Index)
	r.GET("/health", handler.Health)
	r.GET("/status", handler.Status)
	r.GET("/stats", handler.Stats)
	r.GET("/cache/search", handler.CacheSearch)
	r.POST("/crawl", handler.Crawl)
	r.POST("/cleanup", handler.Cleanup)

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
	r.NoRoute(handler.NotFound)

	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

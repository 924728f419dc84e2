// Package api exposes the orchestrator over HTTP. Server mode serves a
// small JSON API for starting and inspecting runs, a websocket stream of
// progress events, and a prometheus scrape endpoint.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
	"github.com/xkilldash9x/driftnet-cli/internal/metrics"
	"github.com/xkilldash9x/driftnet-cli/internal/orchestrator"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
)

// Server wires the orchestrator, event hub and metrics registry behind a
// gin router.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	orch     *orchestrator.Orchestrator
	hub      *events.Hub
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	health   *proxy.HealthStore

	router     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router and registers all routes. The gatherer is the
// prometheus registry the collector was registered with; /metrics serves it.
func NewServer(cfg *config.Config, logger *zap.Logger, orch *orchestrator.Orchestrator,
	hub *events.Hub, collector *metrics.Collector, gatherer prometheus.Gatherer) *Server {

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("api"),
		orch:     orch,
		hub:      hub,
		metrics:  collector,
		gatherer: gatherer,
		router:   router,
	}

	s.setupRoutes()

	return s
}

// UseHealthStore enables the proxy-status endpoint. Without a store the
// endpoint reports persistence as disabled.
func (s *Server) UseHealthStore(hs *proxy.HealthStore) {
	s.health = hs
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/proxy-status", s.handleProxyStatus)
	api.POST("/runs", s.handleStartRun)
	api.GET("/runs/:id", s.handleGetRun)
	api.POST("/runs/:id/stop", s.handleStopRun)
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server listening.", zap.String("addr", s.cfg.Server.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down.")
	s.hub.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Debug("Request handled.",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// FullPath keeps the :id placeholder so run IDs do not explode
		// label cardinality.
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(c.Request.Method, endpoint, status)
		s.metrics.RecordAPIDuration(c.Request.Method, endpoint, time.Since(start).Seconds())
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	reg := s.orch.Registry()
	c.JSON(http.StatusOK, gin.H{
		"activeRuns":  reg.ActiveCount(),
		"runs":        reg.Snapshots(),
		"subscribers": s.hub.SubscriberCount(),
	})
}

func (s *Server) handleProxyStatus(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"persistence": false})
		return
	}

	summary, err := s.health.Summary()
	if err != nil {
		s.logger.Error("Health summary failed.", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "proxy health store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"persistence":    true,
		"trackedProxies": summary.TrackedProxies,
		"healthy":        summary.Healthy,
		"lastTested":     summary.LastTested,
	})
}

func (s *Server) handleStartRun(c *gin.Context) {
	var rc config.RunConfig
	if err := c.ShouldBindJSON(&rc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	// The run outlives the request; it is cancelled through the registry,
	// not through the client connection.
	runID, err := s.orch.StartRunAsync(context.Background(), rc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Run accepted.",
		zap.String("run_id", runID[:8]),
		zap.String("target", string(rc.Target)))
	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}

func (s *Server) handleGetRun(c *gin.Context) {
	snap, ok := s.orch.Registry().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStopRun(c *gin.Context) {
	id := c.Param("id")
	if !s.orch.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	s.logger.Info("Run stop requested.", zap.String("run_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "stop requested", "runId": id})
}

// Package web exposes the detector over HTTP: the authenticated
// detection API, the dashboard pages and the statistics endpoints.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uivision/button-detect/internal/config"
	"github.com/uivision/button-detect/internal/detect"
	"github.com/uivision/button-detect/internal/logger"
	"github.com/uivision/button-detect/internal/state"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// Server is the HTTP front of the detection service
type Server struct {
	config     *config.ServerConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	detector   *detect.Detector
	store      *state.Store
	apiKeys    map[string]bool
	version    string
	startTime  time.Time
}

// NewServer creates a new web server around a constructed detector and
// log store.
func NewServer(cfg *config.ServerConfig, detector *detect.Detector, store *state.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	apiKeys := make(map[string]bool, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		apiKeys[key] = true
	}

	s := &Server{
		config:    cfg,
		logger:    log,
		router:    router,
		detector:  detector,
		store:     store,
		apiKeys:   apiKeys,
		version:   "dev",
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version reported by /api/status
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}

	go func() {
		s.logger.Info("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", "error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API and page routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/stats", s.handleStats)
		api.GET("/logs", s.handleListLogs)

		// The authenticated detection endpoint used by API clients
		api.POST("/detect", s.requireAPIKey(), s.handleAPIDetect)
	}

	// Web UI endpoints (no API key, local dashboard use)
	s.router.POST("/detect", s.handleWebDetect)
	s.router.GET("/", s.servePage("index.html"))
	s.router.GET("/dashboard", s.servePage("dashboard.html"))
	s.router.GET("/logs", s.servePage("logs.html"))
}

// servePage serves an embedded static page.
func (s *Server) servePage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := fs.ReadFile(staticContentFS, name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", content)
	}
}

// requireAPIKey rejects requests without a configured X-API-Key.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API Key"})
			return
		}
		if !s.apiKeys[key] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key"})
			return
		}
		c.Set("api_key", key)
		c.Next()
	}
}

// requestID attaches a request id to the context and response headers.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// ginLogger creates a gin middleware for logging requests through zap
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

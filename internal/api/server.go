// Package api exposes the prediction pipeline over HTTP and websockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/internal/middleware"
	"github.com/sle-predictor-server/internal/render"
	"github.com/sle-predictor-server/internal/service"
)

// shutdownTimeout bounds graceful shutdown once the context is cancelled.
const shutdownTimeout = 30 * time.Second

// HealthChecker is implemented by dependencies that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the collaborators the server routes requests to.
// Database is optional.
type Dependencies struct {
	Predictor *service.PredictionService
	Renderer  *render.PDFRenderer
	Database  HealthChecker
	Logger    *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	router        *gin.Engine
	server        *http.Server
	predictor     *service.PredictionService
	renderer      *render.PDFRenderer
	database      HealthChecker
	logger        *logrus.Logger
	upgrader      websocket.Upgrader
	startedAt     time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewPDFRenderer("")
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.CorrelationIDHeader},
		ExposeHeaders: []string{"Content-Disposition", middleware.CorrelationIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	server := &Server{
		configManager: configManager,
		router:        router,
		predictor:     deps.Predictor,
		renderer:      renderer,
		database:      deps.Database,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
		startedAt: time.Now(),
	}

	server.setupRoutes(cfg)

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(cfg *domain.Config) {
	s.router.GET("/health", s.handleHealth)

	// Submissions over HTTP and over the stream draw from one per-client budget.
	limit := middleware.RateLimit(cfg.RateLimit)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/schema", s.handleSchema)

		// The stream is long-lived and bounded by its own read deadline.
		v1.GET("/predictions/stream", limit, s.handleStream)

		predictions := v1.Group("/predictions", middleware.RequestTimeout(cfg.Server.RequestTimeout))
		predictions.POST("", limit, s.handleCreatePrediction)
		predictions.GET("", s.handleListPredictions)
		predictions.GET("/:id", s.handleGetPrediction)
		predictions.GET("/:id/csv", s.handleExportCSV)
		predictions.GET("/:id/report", s.handleReport)
		predictions.GET("/:id/report.pdf", s.handleReportPDF)
	}
}

// originChecker mirrors the CORS policy for websocket upgrades.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

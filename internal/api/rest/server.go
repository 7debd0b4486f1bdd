package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMediaCore/internal/config"
	"github.com/KevinKickass/OpenMediaCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	lm      interfaces.LifecycleManager
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	metrics http.Handler
}

// NewServer builds the control API. metrics may be nil, in which case
// /metrics is not served.
func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, metrics http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		lm:      lm,
		logger:  logger,
		wsHub:   wsHub,
		metrics: metrics,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/api/v1")
	{
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", s.shutdown)
		}

		composites := v1.Group("/composites")
		{
			composites.GET("", s.listComposites)
			composites.GET("/:name", s.getComposite)
			composites.PUT("/:name/state", s.setCompositeState)
			composites.POST("/:name/eos", s.endOfStream)
			composites.GET("/:name/properties", s.getProperties)
			composites.PUT("/:name/properties/:property", s.setProperty)
		}

		if s.wsHub != nil {
			ws := v1.Group("/ws")
			{
				ws.GET("/live", s.wsLiveConnection)
				ws.GET("/status", s.wsStatus)
			}
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

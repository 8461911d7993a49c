package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/api/websocket"
	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	callbacks   *CallbackValidator
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	callbacks, err := NewCallbackValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger.With(zap.String("component", "rest")),
		wsHub:       wsHub,
		authService: authService,
		callbacks:   callbacks,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// cloud webhook and on-device script, no auth
	s.router.GET("/health", s.healthCheck)
	s.router.POST("/callback", s.callback)
	s.router.POST("/status", s.confirm)
	s.router.GET("/status", s.statusPing)
	s.router.PUT("/status_update", s.statusUpdate)
	s.router.GET("/account/unique", s.claimAccount)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		authed := v1.Group("")
		authed.Use(s.authService.AuthMiddleware())
		{
			authed.GET("/auth/verify", s.verify)

			ops := authed.Group("")
			ops.Use(auth.RequirePermission(auth.PermOperator))
			{
				ops.GET("/pads", s.listPads)
				ops.GET("/pads/:code", s.getPad)
				ops.GET("/pads/:code/proxy", s.getPadProxy)
				ops.GET("/pipelines", s.listPipelines)
				ops.GET("/proxy/countries", s.listProxyCountries)
				ops.GET("/system/status", s.getSystemStatus)
				ops.GET("/ws/status", s.wsStatus)
				ops.GET("/accounts", s.listAccounts)
				ops.GET("/accounts/:id", s.getAccount)
				ops.GET("/fleet/available", s.fleetAvailable)
				ops.GET("/fleet/current", s.fleetCurrent)
				ops.GET("/fleet/compare", s.fleetCompare)
				ops.GET("/statistics/hourly-growth", s.hourlyGrowth)
				ops.GET("/statistics/overall-summary", s.overallSummary)
			}

			admin := authed.Group("")
			admin.Use(auth.RequirePermission(auth.PermAdmin))
			{
				admin.POST("/pads/:code/reset", s.resetPad)
				admin.DELETE("/pads/:code", s.deletePad)
				admin.POST("/proxy/set", s.setPadProxy)
				admin.POST("/proxy/reload", s.reloadProxyCatalog)
				admin.POST("/accounts", s.createAccount)
				admin.PUT("/accounts/:id", s.updateAccount)
				admin.DELETE("/accounts/:id", s.deleteAccount)
				admin.POST("/fleet/sync", s.fleetSync)
				admin.POST("/fleet/add", s.fleetAdd)
				admin.POST("/fleet/remove", s.fleetRemove)
				admin.POST("/fleet/replace", s.fleetReplace)
			}
		}

		// auth by first message
		v1.GET("/ws/live", s.wsLiveConnection)
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

func (s *Server) statusPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Package server exposes the engine over HTTP with gin
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KOMKZ/go-yogan-meter/engine"
	"github.com/KOMKZ/go-yogan-meter/httpx"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP surface of one engine
type Server struct {
	engine *engine.Engine
	router *gin.Engine
	http   *http.Server
	logger *logger.CtxZapLogger
}

// New builds the router. The middleware order is trace id, request log,
// metrics, error logging and recovery.
func New(eng *engine.Engine) *Server {
	cfg := eng.Config()
	gin.SetMode(cfg.Server.Mode)

	log := logger.GetLogger("server")
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(middleware.TraceID())
	r.Use(middleware.RequestLog(cfg.RequestLog, logger.GetLogger("http")))
	r.Use(middleware.Metrics(eng.Requests, eng.Registry()))
	r.Use(httpx.ErrorLoggingMiddleware(cfg.HTTPErrors))
	r.Use(middleware.Recovery(log))

	r.NoRoute(httpx.NoRouteHandler())
	r.NoMethod(httpx.NoMethodHandler())

	s := &Server{engine: eng, router: r, logger: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	h := &handlers{engine: s.engine}

	s.router.GET("/livez", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.engine.Registry(), promhttp.HandlerOpts{})))
	s.router.GET("/health", h.health)

	u := s.router.Group("/usage")
	u.POST("/check", httpx.Wrap(h.check))
	u.POST("/record", httpx.WrapStatus(http.StatusAccepted, h.record))
	u.GET("/status/:entity_id", httpx.Wrap(h.status))

	a := s.router.Group("/alerts")
	a.GET("", httpx.Wrap(h.listAlerts))
	a.POST("/:id/resolve", httpx.Wrap(h.resolveAlert))

	s.router.GET("/metrics/history", httpx.Wrap(h.history))
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// Bind errors are returned synchronously.
func (s *Server) Start() error {
	cfg := s.engine.Config().Server
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server started", zap.String("addr", ln.Addr().String()), zap.String("mode", cfg.Mode))
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.engine.Config().Server.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

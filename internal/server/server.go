// Package server wires the engines, store, and middleware into the HTTP
// service surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/config"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/monitoring"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/ratelimit"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/store"
	"github.com/andrewcho-dev/opsconductor-ng-sub010/internal/tracing"
)

// Server wraps the HTTP server and engine dependencies.
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	http    *http.Server
	store   *store.Client
	tracer  *tracing.Tracer
	limiter *ratelimit.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// New constructs the server: store connection, both engines, middleware
// chain, and routes.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	client, err := store.Connect(store.Options{
		Addr:           cfg.Redis.Addr,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		OpTimeout:      cfg.Redis.OpTimeout,
		ConnectRetries: cfg.Redis.ConnectRetries,
	}, logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()

	tracer := tracing.New(tracing.Config{
		ServiceName:      cfg.Tracing.ServiceName,
		SamplingRate:     cfg.Tracing.SamplingRate,
		MaxTraceDuration: cfg.Tracing.MaxTraceDuration,
		CleanupInterval:  cfg.Tracing.CleanupInterval,
		ExportInterval:   cfg.Tracing.ExportInterval,
	}, client, metrics, logger)

	limiter := ratelimit.NewManager(client, metrics, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(tracing.HTTPMiddleware(tracer))
	if cfg.RateLimit.Enabled {
		router.Use(ratelimit.LocalGuard(cfg.RateLimit.LocalRPS, cfg.RateLimit.LocalBurst))
		router.Use(ratelimit.Middleware(limiter, "global_api", "per_ip"))
	}

	h := newHandlers(tracer, limiter, logger)

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/traces/:id", h.GetTrace)
	router.GET("/traces", h.SearchTraces)
	router.GET("/tracing/stats", h.TracingStats)

	router.GET("/ratelimit/stats", h.RateLimitStats)
	router.POST("/ratelimit/policies", h.AddPolicy)
	router.POST("/ratelimit/check", h.CheckPolicy)
	router.DELETE("/ratelimit/policies/:policy/:identifier", h.ResetPolicy)

	return &Server{
		cfg:     cfg,
		router:  router,
		store:   client,
		tracer:  tracer,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Run starts serving and blocks until the listener stops.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.logger.Info("starting server", zap.String("addr", addr))

	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener, stops the tracer's background loops,
// and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(drainCtx); err != nil {
			s.logger.Warn("http shutdown error", zap.Error(err))
		}
	}

	if err := s.tracer.Shutdown(ctx); err != nil {
		s.logger.Warn("tracer shutdown error", zap.Error(err))
	}

	return s.store.Close()
}

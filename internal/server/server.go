package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/config"
	trackingdomain "github.com/smallbiznis/aitime/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Engine      *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	TrackingSvc trackingdomain.Service
	BalanceSvc  balancedomain.Service
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	trackingSvc trackingdomain.Service
	balanceSvc  balancedomain.Service
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:      p.Engine,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		trackingSvc: p.TrackingSvc,
		balanceSvc:  p.BalanceSvc,
	}
	s.registerRoutes()
	return s
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1/ai-time")
	{
		v1.POST("/tracking/start", s.StartTracking)
		v1.POST("/tracking/end", s.EndTracking)
		v1.GET("/balance/:user_id", s.GetBalance)
		v1.POST("/purchases", s.AddPurchase)
	}

	internal := s.engine.Group("/internal/ai-time")
	{
		internal.POST("/reset-daily", s.ResetDaily)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(
		NewEngine,
		NewServer,
	),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

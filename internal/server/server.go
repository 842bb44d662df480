package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	"github.com/talktime/talktime/internal/config"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	"github.com/talktime/talktime/internal/observability/metrics"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(metrics.GinMiddleware())
	engine.Use(ErrorHandlingMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	ConsultationSvc consultationdomain.Service
	WalletSvc       walletdomain.Service
	Coordinator     billingdomain.Coordinator
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	consultationSvc consultationdomain.Service
	walletSvc       walletdomain.Service
	coordinator     billingdomain.Coordinator
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		consultationSvc: p.ConsultationSvc,
		walletSvc:       p.WalletSvc,
		coordinator:     p.Coordinator,
	}
}

func registerRoutes(s *Server) {
	api := s.engine.Group("/api")

	consultations := api.Group("/consultations")
	consultations.POST("", s.createConsultation)
	consultations.GET("/:id", s.getConsultation)
	consultations.POST("/:id/heartbeat", s.heartbeat)
	consultations.POST("/:id/cancel", s.cancelConsultation)

	wallet := api.Group("/wallet")
	wallet.GET("/balance", s.getBalance)
	wallet.GET("/transactions", s.listTransactions)
	wallet.POST("/credit", s.creditWallet)
	wallet.POST("/recharge/initiate", s.initiateRecharge)
	wallet.POST("/recharge/confirm", s.confirmRecharge)

	s.engine.POST("/webhooks/video", s.videoWebhook)
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server failed", zap.Error(err))
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

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	allocationdomain "github.com/smallbiznis/flowgate/internal/allocation/domain"
	"github.com/smallbiznis/flowgate/internal/breaker"
	"github.com/smallbiznis/flowgate/internal/config"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
	"github.com/smallbiznis/flowgate/internal/tenantctx"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(Run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TenantContextMiddleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

// TenantContextMiddleware propagates the caller's tenant from the
// X-Tenant-ID header into the request context for audit attribution.
func TenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-Tenant-ID"); raw != "" {
			if id, err := snowflake.ParseString(raw); err == nil {
				c.Request = c.Request.WithContext(
					tenantctx.WithTenantID(c.Request.Context(), int64(id)),
				)
			}
		}
		c.Next()
	}
}

type Params struct {
	fx.In

	Engine      *gin.Engine
	Config      config.Config
	Log         *zap.Logger
	WalletSvc   walletdomain.Service
	AllocSvc    allocationdomain.Service
	MeterSvc    meterdomain.Service
	BreakerReg  *breaker.Registry
}

// Server is the thin web surface of the governance engine. Everything
// it does is translate between HTTP and the domain services.
type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	walletSvc  walletdomain.Service
	allocSvc   allocationdomain.Service
	meterSvc   meterdomain.Service
	breakerReg *breaker.Registry
}

func NewServer(p Params) *Server {
	return &Server{
		engine:     p.Engine,
		cfg:        p.Config,
		log:        p.Log.Named("server"),
		walletSvc:  p.WalletSvc,
		allocSvc:   p.AllocSvc,
		meterSvc:   p.MeterSvc,
		breakerReg: p.BreakerReg,
	}
}

func RegisterRoutes(s *Server) {
	r := s.engine

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		wallets := v1.Group("/wallets")
		wallets.POST("", s.GetOrCreateWallet)
		wallets.GET("/:id", s.GetWallet)
		wallets.GET("/:id/check", s.CheckCredits)
		wallets.POST("/:id/deduct", s.DeductCredits)
		wallets.POST("/:id/accumulate", s.AccumulateCredits)
		wallets.POST("/:id/credits", s.AddCredits)
		wallets.GET("/:id/transactions", s.ListTransactions)
		wallets.POST("/:id/reset-monthly", s.ResetMonthlyUsage)

		allocations := v1.Group("/allocations")
		allocations.PUT("", s.SetAllocation)
		allocations.GET("", s.ListAllocations)
		allocations.GET("/remaining", s.GetRemaining)
		allocations.GET("/effective-limit", s.GetEffectiveLimit)

		meterGroup := v1.Group("/meter")
		meterGroup.POST("/track/:tenant", s.TrackExecution)
		meterGroup.GET("/count/:tenant", s.GetExecutionCount)
		meterGroup.GET("/can-execute/:tenant", s.CanExecute)

		breakers := v1.Group("/breakers")
		breakers.GET("", s.BreakerStats)
		breakers.POST("/:name/reset", s.ResetBreaker)
	}
}

// Run starts the HTTP listener under the fx lifecycle.
func Run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server starting", zap.String("addr", s.cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	"github.com/smallbiznis/escrowd/internal/authorization"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	"github.com/smallbiznis/escrowd/internal/observability"
	obslogger "github.com/smallbiznis/escrowd/internal/observability/logger"
	obstracing "github.com/smallbiznis/escrowd/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/escrowd/internal/payout/domain"
	providerdomain "github.com/smallbiznis/escrowd/internal/provider/domain"
	"github.com/smallbiznis/escrowd/internal/ratelimit"
	refunddomain "github.com/smallbiznis/escrowd/internal/refund/domain"
	settlementdomain "github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(RunHTTP),
)

type EngineParams struct {
	fx.In

	ObsCfg    observability.Config
	Telemetry *telemetry.Metrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		Metrics:         p.Telemetry,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger

	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	paymentSvc    paymentdomain.Service
	webhookSvc    paymentdomain.WebhookService
	payoutSvc     payoutdomain.Service
	settlementSvc settlementdomain.Service
	refundSvc     refunddomain.Service
	ledgerSvc     ledgerdomain.Service
	providerSvc   providerdomain.Service
	limiter       *ratelimit.WebhookLimiter
	telemetry     *telemetry.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	PaymentSvc    paymentdomain.Service
	WebhookSvc    paymentdomain.WebhookService
	PayoutSvc     payoutdomain.Service
	SettlementSvc settlementdomain.Service
	RefundSvc     refunddomain.Service
	LedgerSvc     ledgerdomain.Service
	ProviderSvc   providerdomain.Service
	Limiter       *ratelimit.WebhookLimiter `optional:"true"`
	Telemetry     *telemetry.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		paymentSvc:    p.PaymentSvc,
		webhookSvc:    p.WebhookSvc,
		payoutSvc:     p.PayoutSvc,
		settlementSvc: p.SettlementSvc,
		refundSvc:     p.RefundSvc,
		ledgerSvc:     p.LedgerSvc,
		providerSvc:   p.ProviderSvc,
		limiter:       p.Limiter,
		telemetry:     p.Telemetry,
	}

	s.registerHealthRoutes()
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerFallback()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payments --------
	api.POST("/payments", s.CreatePayment)
	api.GET("/payments/:id", s.GetPayment)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminActorRequired())

	// -------- Payments --------
	admin.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.ListPayments)
	admin.GET("/payments/:id", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.GetPayment)

	// -------- Payouts --------
	admin.GET("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionView), s.ListPayouts)
	admin.POST("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutCreate), s.CreatePayout)
	admin.GET("/payouts/:id", s.authorize(authorization.ObjectPayout, authorization.ActionView), s.GetPayout)
	admin.POST("/payouts/:id/approve", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutApprove), s.ApprovePayout)
	admin.POST("/payouts/:id/cancel", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutCancel), s.CancelPayout)

	// -------- Payout Batches --------
	admin.GET("/payout-batches", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionView), s.ListPayoutBatches)
	admin.POST("/payout-batches", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionBatchExport), s.ExportPayoutBatch)
	admin.GET("/payout-batches/:id", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionView), s.GetPayoutBatch)
	admin.GET("/payout-batches/:id/file", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionView), s.DownloadPayoutBatchFile)
	admin.POST("/payout-batches/:id/execute", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionBatchExecute), s.ExecutePayoutBatch)
	admin.POST("/payout-batches/:id/cancel", s.authorize(authorization.ObjectPayoutBatch, authorization.ActionBatchCancel), s.CancelPayoutBatch)

	// -------- Settlements --------
	admin.GET("/settlements", s.authorize(authorization.ObjectSettlement, authorization.ActionView), s.ListSettlements)
	admin.GET("/settlements/:id", s.authorize(authorization.ObjectSettlement, authorization.ActionView), s.GetSettlement)
	admin.POST("/settlements/:id/reconcile", s.authorize(authorization.ObjectSettlement, authorization.ActionSettlementReconcile), s.ReconcileSettlement)

	// -------- Refunds --------
	admin.GET("/refunds", s.authorize(authorization.ObjectRefund, authorization.ActionView), s.ListRefunds)
	admin.POST("/refunds", s.authorize(authorization.ObjectRefund, authorization.ActionRefundIssue), s.IssueRefund)
	admin.GET("/refunds/:id", s.authorize(authorization.ObjectRefund, authorization.ActionView), s.GetRefund)
	admin.POST("/refunds/:id/retry", s.authorize(authorization.ObjectRefund, authorization.ActionRefundRetry), s.RetryRefund)

	// -------- Ledger --------
	admin.GET("/ledger/balances", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.GetLedgerBalances)
	admin.GET("/ledger/entries", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.ListLedgerEntries)
	admin.GET("/ledger/invariant", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.CheckLedgerInvariant)

	// -------- Providers --------
	admin.GET("/providers/:id/bank-account", s.authorize(authorization.ObjectProvider, authorization.ActionView), s.GetProviderBankAccount)
	admin.PUT("/providers/:id/bank-account", s.authorize(authorization.ObjectProvider, authorization.ActionProviderManage), s.UpsertProviderBankAccount)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

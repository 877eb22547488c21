package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/freshfold/freshfold/internal/audit"
	auditdomain "github.com/freshfold/freshfold/internal/audit/domain"
	"github.com/freshfold/freshfold/internal/config"
	"github.com/freshfold/freshfold/internal/invoice"
	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
	"github.com/freshfold/freshfold/internal/logger"
	obsmetrics "github.com/freshfold/freshfold/internal/observability/metrics"
	"github.com/freshfold/freshfold/internal/providers/pdf"
	"github.com/freshfold/freshfold/internal/subscription"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	audit.Module,
	pdf.Module,
	subscription.Module,
	invoice.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, registry *prometheus.Registry, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(log))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, registry *prometheus.Registry, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, registry, httpMetrics)
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

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	auditSvc        auditdomain.Service
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node

	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	AuditSvc        auditdomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		auditSvc:        p.AuditSvc,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	orders := api.Group("/orders")
	{
		orders.POST("/:orderId/invoices/draft", s.SaveInvoiceDraft)
		orders.POST("/:orderId/invoices/ack/issue", s.IssueAckInvoice)
		orders.POST("/:orderId/invoices/final/issue", s.IssueFinalInvoice)
		orders.GET("/:orderId/invoices", s.ListOrderInvoices)
	}

	invoices := api.Group("/invoices")
	{
		invoices.GET("", s.ListInvoices)
		invoices.GET("/:id", s.GetInvoiceByID)
		invoices.GET("/:id/items", s.GetInvoiceItems)
		invoices.POST("/:id/void", s.VoidInvoice)
		invoices.POST("/:id/reverse-usage", s.ReverseInvoiceUsage)
		invoices.POST("/:id/payment", s.UpdateInvoicePayment)
		invoices.POST("/:id/pdf", s.RegenerateInvoicePDF)
	}

	subscriptions := api.Group("/subscriptions")
	{
		subscriptions.POST("/purchase", s.PurchaseSubscription)
		subscriptions.GET("/:id", s.GetSubscription)
		subscriptions.GET("/:id/usage", s.ListSubscriptionUsage)
		subscriptions.POST("/:id/adjust", s.AdjustSubscriptionBalance)
	}

	api.GET("/customers/:customerId/subscriptions", s.ListCustomerSubscriptions)
	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) incInvoiceIssued(invoiceType invoicedomain.InvoiceType) {
	if s.obsMetrics != nil {
		s.obsMetrics.InvoicesIssued.WithLabelValues(string(invoiceType)).Inc()
	}
}

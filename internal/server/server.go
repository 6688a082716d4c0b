package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/billing/adapters"
	billingdomain "github.com/smallbiznis/stratus/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/config"
	"github.com/smallbiznis/stratus/internal/entitlement"
	"github.com/smallbiznis/stratus/internal/iam"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
	"github.com/smallbiznis/stratus/internal/observability"
	obslogger "github.com/smallbiznis/stratus/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
	"github.com/smallbiznis/stratus/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/stratus/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	if obsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	if metrics != nil {
		r.Use(metrics.GinMiddleware())
	}
	r.GET("/metrics", obsmetrics.Handler())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(log, obsCfg, metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	tenantSvc      tenantdomain.Service
	ledgerSvc      ledgerdomain.Service
	usageSvc       usagedomain.Service
	entitlementSvc entitlement.Service
	catalogSvc     catalogdomain.Service
	billingSvc     billingdomain.Service
	adapters       *adapters.Registry
	iamSvc         iam.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
	usageLimiter   *ratelimit.UsageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	TenantSvc      tenantdomain.Service
	LedgerSvc      ledgerdomain.Service
	UsageSvc       usagedomain.Service
	EntitlementSvc entitlement.Service
	CatalogSvc     catalogdomain.Service
	BillingSvc     billingdomain.Service
	Adapters       *adapters.Registry
	IamSvc         iam.Service
	AuditSvc       auditdomain.Service
	ObsMetrics     *obsmetrics.Metrics           `optional:"true"`
	UsageLimiter   *ratelimit.UsageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		genID:          p.GenID,
		tenantSvc:      p.TenantSvc,
		ledgerSvc:      p.LedgerSvc,
		usageSvc:       p.UsageSvc,
		entitlementSvc: p.EntitlementSvc,
		catalogSvc:     p.CatalogSvc,
		billingSvc:     p.BillingSvc,
		adapters:       p.Adapters,
		iamSvc:         p.IamSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		usageLimiter:   p.UsageLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.PrincipalRequired())

	tenants := v1.Group("/tenants")
	{
		tenants.POST("", s.CreateTenant)
		tenants.GET("", s.ListUserTenants)
		tenants.GET("/current", s.GetCurrentTenant)
		tenants.PUT("/members/:userId/role", s.Authorize(iam.ObjectMember, iam.ActionMemberManage), s.SetMemberRole)
	}

	usage := v1.Group("/usage")
	{
		usage.POST("", s.Authorize(iam.ObjectUsage, iam.ActionUsageIngest), s.UsageRateLimit(), s.RecordUsage)
		usage.GET("/aggregates", s.Authorize(iam.ObjectUsage, iam.ActionUsageView), s.ListUsageAggregates)
		usage.GET("/events", s.Authorize(iam.ObjectUsage, iam.ActionUsageView), s.ListUsageEvents)
		usage.GET("/overage-fees", s.Authorize(iam.ObjectUsage, iam.ActionUsageView), s.ListOverageFees)
	}

	v1.POST("/entitlements/check", s.Authorize(iam.ObjectEntitlement, iam.ActionEntitlementCheck), s.CheckEntitlement)

	credits := v1.Group("/credits")
	{
		credits.GET("/balance", s.Authorize(iam.ObjectCredits, iam.ActionCreditsView), s.GetCreditBalance)
		credits.GET("/ledger", s.Authorize(iam.ObjectCredits, iam.ActionCreditsView), s.ListCreditEntries)
	}

	v1.GET("/plans", s.ListActivePlans)
	v1.GET("/plans/:id/features", s.ListPlanFeatures)

	v1.GET("/invoices", s.Authorize(iam.ObjectInvoice, iam.ActionInvoiceView), s.ListInvoices)
	v1.GET("/invoices/:id", s.Authorize(iam.ObjectInvoice, iam.ActionInvoiceView), s.GetInvoice)
	v1.GET("/subscriptions", s.Authorize(iam.ObjectSubscription, iam.ActionSubscriptionView), s.ListSubscriptions)

	v1.GET("/audit-logs", s.Authorize(iam.ObjectAuditLog, iam.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin", s.PrincipalRequired())

	admin.POST("/credits", s.Authorize(iam.ObjectCredits, iam.ActionCreditsGrant), s.GrantCredits)

	plans := admin.Group("/plans", s.Authorize(iam.ObjectPlan, iam.ActionPlanManage))
	{
		plans.POST("", s.CreatePlan)
		plans.GET("", s.ListAllPlans)
		plans.DELETE("/:id", s.DeactivatePlan)
		plans.PUT("/:id/features", s.SetPlanFeature)
		plans.PUT("/:id/prices", s.UpsertPlanPrice)
	}

	admin.POST("/features", s.Authorize(iam.ObjectFeature, iam.ActionFeatureManage), s.CreateFeature)
	admin.GET("/features", s.Authorize(iam.ObjectFeature, iam.ActionFeatureManage), s.ListFeatures)

	admin.POST("/product-mappings", s.Authorize(iam.ObjectProductMapping, iam.ActionMappingManage), s.CreateProductMapping)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

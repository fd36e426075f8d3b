package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/authorization"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/gateway"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/observability"
	obslogger "github.com/smallbiznis/valkyrie/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/valkyrie/internal/observability/metrics"
	obstracing "github.com/smallbiznis/valkyrie/internal/observability/tracing"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	partnerAPIPrefix = "/api/valkyrie/v1"
	zeusAPIPrefix    = "/api/zeus/v1"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(g *gateway.Gateway) Admitter { return g }),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// Admitter is the gateway surface the HTTP layer drives.
type Admitter interface {
	AdmitRequest(ctx context.Context, cred authdomain.Credential, endpoint string) (gateway.Admission, error)
	RecordCall(ctx context.Context, partnerID snowflake.ID) error
	AdmitOrder(ctx context.Context, pc partnercontext.PartnerContext, req gateway.OrderRequest) (orderclient.Response, error)
	RegisterDriver(ctx context.Context, pc partnercontext.PartnerContext, payload []byte) (orderclient.Response, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	authsvc    authdomain.Service
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	apiKeySvc  apikeydomain.Service
	partnerSvc partnerdomain.Service
	zoneSvc    geofencedomain.Service
	usageSvc   usagedomain.Service
	billingSvc billingdomain.Service
	gateway    Admitter
	throttle   *ratelimit.IPThrottle
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Authsvc    authdomain.Service
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	APIKeySvc  apikeydomain.Service
	PartnerSvc partnerdomain.Service
	ZoneSvc    geofencedomain.Service
	UsageSvc   usagedomain.Service
	BillingSvc billingdomain.Service
	Gateway    Admitter
	Throttle   *ratelimit.IPThrottle
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		authsvc:    p.Authsvc,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		apiKeySvc:  p.APIKeySvc,
		partnerSvc: p.PartnerSvc,
		zoneSvc:    p.ZoneSvc,
		usageSvc:   p.UsageSvc,
		billingSvc: p.BillingSvc,
		gateway:    p.Gateway,
		throttle:   p.Throttle,
	}

	svc.registerPartnerRoutes()
	svc.registerZeusRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPartnerRoutes() {
	api := s.engine.Group(partnerAPIPrefix)

	api.POST("/auth/token", s.ThrottleByIP(), s.IssuePartnerToken)
	api.POST("/auth/setup-password", s.ThrottleByIP(), s.SetupPassword)
	api.POST("/auth/logout", s.Logout)

	// Order creation is metered as an order, not as a generic call.
	api.POST("/orders", s.PartnerAuthRequired(false), s.authorize(authorization.ObjectOrder, authorization.ActionCreate), s.CreateOrder)

	authed := api.Group("", s.PartnerAuthRequired(true))
	{
		authed.GET("/partner", s.authorize(authorization.ObjectPartner, authorization.ActionView), s.GetOwnPartner)
		authed.POST("/partner/api-key", s.authorize(authorization.ObjectAPIKey, authorization.ActionGenerate), s.GenerateAPIKey)

		authed.GET("/zones", s.authorize(authorization.ObjectZone, authorization.ActionView), s.ListOwnZones)
		authed.POST("/zones", s.authorize(authorization.ObjectZone, authorization.ActionCreate), s.CreateOwnZone)
		authed.PATCH("/zones/:id", s.authorize(authorization.ObjectZone, authorization.ActionUpdate), s.UpdateZone)
		authed.DELETE("/zones/:id", s.authorize(authorization.ObjectZone, authorization.ActionDelete), s.DeleteZone)

		authed.POST("/drivers", s.authorize(authorization.ObjectDriver, authorization.ActionCreate), s.CreateDriver)

		authed.GET("/usage", s.authorize(authorization.ObjectUsage, authorization.ActionView), s.GetOwnUsage)
		authed.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListOwnInvoices)

		authed.GET("/users", s.authorize(authorization.ObjectPartnerUser, authorization.ActionView), s.ListOwnUsers)
		authed.POST("/users", s.authorize(authorization.ObjectPartnerUser, authorization.ActionInvite), s.InviteOwnUser)
	}
}

func (s *Server) registerZeusRoutes() {
	zeus := s.engine.Group(zeusAPIPrefix)

	zeus.POST("/auth/token", s.ThrottleByIP(), s.IssueZeusToken)

	admin := zeus.Group("", s.ZeusAuthRequired())
	{
		// -------- Partners --------
		admin.GET("/partners", s.authorize(authorization.ObjectPartner, authorization.ActionView), s.ListPartners)
		admin.POST("/partners", s.authorize(authorization.ObjectPartner, authorization.ActionManage), s.CreatePartner)
		admin.GET("/partners/:id", s.authorize(authorization.ObjectPartner, authorization.ActionView), s.GetPartner)
		admin.PATCH("/partners/:id", s.authorize(authorization.ObjectPartner, authorization.ActionManage), s.UpdatePartner)
		admin.DELETE("/partners/:id", s.authorize(authorization.ObjectPartner, authorization.ActionManage), s.DeletePartner)
		admin.POST("/partners/:id/status", s.authorize(authorization.ObjectPartner, authorization.ActionManage), s.SetPartnerStatus)
		admin.POST("/partners/:id/users", s.authorize(authorization.ObjectPartnerUser, authorization.ActionInvite), s.InvitePartnerUser)

		// -------- Geofences --------
		admin.GET("/partners/:id/geofences", s.authorize(authorization.ObjectZone, authorization.ActionView), s.ListPartnerZones)
		admin.POST("/partners/:id/geofences", s.authorize(authorization.ObjectZone, authorization.ActionCreate), s.CreatePartnerZone)
		admin.PATCH("/geofences/:id", s.authorize(authorization.ObjectZone, authorization.ActionUpdate), s.UpdateZone)
		admin.DELETE("/geofences/:id", s.authorize(authorization.ObjectZone, authorization.ActionDelete), s.DeleteZone)

		// -------- Usage --------
		admin.GET("/usage/:partnerId", s.authorize(authorization.ObjectUsage, authorization.ActionView), s.GetPartnerUsage)
		admin.POST("/usage/:partnerId/corrections", s.authorize(authorization.ObjectUsage, authorization.ActionCorrect), s.CorrectUsage)

		// -------- Invoices --------
		admin.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListInvoices)
		admin.POST("/invoices/close", s.authorize(authorization.ObjectInvoice, authorization.ActionClose), s.ClosePeriod)
		admin.POST("/invoices/:id/issue", s.authorize(authorization.ObjectInvoice, authorization.ActionIssue), s.IssueInvoice)
		admin.POST("/invoices/:id/pay", s.authorize(authorization.ObjectInvoice, authorization.ActionPay), s.MarkInvoicePaid)
		admin.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.DownloadInvoicePDF)

		admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

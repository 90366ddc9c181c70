package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/permit-api/internal/handler"
	internalmiddleware "github.com/noah-isme/permit-api/internal/middleware"
	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/service"
	"github.com/noah-isme/permit-api/internal/workflow"
	"github.com/noah-isme/permit-api/pkg/config"
	"github.com/noah-isme/permit-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/permit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/permit-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *workflow.Registry
	metrics   *service.MetricsService
	tokens    internalmiddleware.TokenValidator
	audit     internalmiddleware.AuditSink
	auth      *handler.AuthHandler
	permits   *handler.PermitHandler
	authority *handler.AuthorityHandler
	ops       *handler.MetricsHandler
	events    *handler.EventHandler
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(internalmiddleware.Tracing(d.cfg.Telemetry.ServiceName))
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(d.cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(d.metrics, "/health", "/ready", "/metrics"))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", d.ops.Health)
	r.GET("/ready", d.ops.Ready)
	r.GET("/metrics", d.ops.Prometheus)

	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(d.cfg.APIPrefix)
	api.POST("/auth/login", d.auth.Login)
	api.GET("/permits/download", d.permits.DownloadPermit)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(d.tokens))
	secured.GET("/auth/me", d.auth.Me)
	secured.GET("/roles", d.auth.Roles)
	secured.GET("/metrics/system", internalmiddleware.RequireRoles(d.registry, models.RoleAdmin), d.ops.System)
	secured.GET("/events/recent", internalmiddleware.RequireRoles(d.registry, models.RoleAdmin), d.events.Recent)

	applications := secured.Group("/permit-applications")
	applicantOnly := internalmiddleware.RequireRoles(d.registry, models.RoleApplicant)
	applications.POST("", applicantOnly, d.permits.Create)
	applications.POST("/with-pdf", applicantOnly, d.permits.CreateWithDocument)
	applications.GET("", d.permits.List)
	applications.GET("/mine", applicantOnly, d.permits.Mine)
	applications.GET("/export",
		internalmiddleware.Audit(d.audit, d.logger, models.AuditActionPermitExport, "permit_applications"),
		d.permits.Export,
	)
	applications.GET("/:id", d.permits.Get)
	applications.GET("/:id/download-document", d.permits.DownloadDocument)
	applications.GET("/:id/view-document", d.permits.ViewDocument)
	applications.GET("/:id/permit", d.permits.Permit)
	applications.GET("/:id/permit-url", d.permits.PermitURL)

	authority := secured.Group("/authority")
	authority.Use(internalmiddleware.RequireAuthority(d.registry))
	authority.GET("/inbox", d.authority.Inbox)
	authority.GET("/inbox/:stage", internalmiddleware.RequireStageAccess(d.registry, "stage"), d.authority.InboxByStage)
	authority.PUT("/dc/forward-sp/:id", d.authority.ForwardToSP)
	authority.PUT("/sp/forward-sdpo/:id", d.authority.ForwardToSDPO)
	authority.PUT("/sdpo/forward-oc/:id", d.authority.ForwardToOC)
	authority.PUT("/oc/report/:id", d.authority.SubmitOCReport)
	authority.PUT("/sdpo/forward-sp/:id", d.authority.ForwardToSPFromSDPO)
	authority.PUT("/sp/recommend-dc/:id", d.authority.RecommendToDC)
	authority.PUT("/dc/approve/:id", d.authority.ApproveByDC)
	authority.PUT("/dc/reject/:id", d.authority.RejectByDC)

	return r
}

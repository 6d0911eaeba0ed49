package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/dref-api/internal/handler"
	"github.com/noah-isme/dref-api/internal/middleware"
	"github.com/noah-isme/dref-api/internal/models"
	"github.com/noah-isme/dref-api/internal/repository"
	"github.com/noah-isme/dref-api/internal/service"
	"github.com/noah-isme/dref-api/pkg/config"
	"github.com/noah-isme/dref-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/dref-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/dref-api/pkg/middleware/requestid"
)

type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *service.MetricsService
	auth    *service.AuthService
	audit   *repository.AuditRepository
	checks  map[string]handler.Pinger

	drefs   *service.DrefService
	updates *service.OperationalUpdateService
	reports *service.FinalReportService
	chains  *service.AggregationService
}

func (a *application) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger))
	r.Use(corsmiddleware.New(a.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	system := handler.NewMetricsHandler(a.metrics, a.checks)
	r.GET("/health", system.Health)
	r.GET("/ready", system.Ready)
	r.GET("/metrics", system.Prometheus)

	if a.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(a.cfg.APIPrefix)
	api.Use(middleware.JWT(a.auth), middleware.DenyGuestWrites())

	api.GET("/metrics/summary", middleware.RequireRoles(models.RoleSuperAdmin), system.Snapshot)

	chains := handler.NewDref3Handler(a.chains)
	api.GET("/dref3", middleware.Audit(a.audit, "DREF_CHAIN_LIST", "dref3"), chains.List)
	api.GET("/dref3/:appeal_code", chains.Chain)

	drefs := handler.NewDrefHandler(a.drefs)
	dref := api.Group("/dref")
	dref.POST("", drefs.Create)
	dref.GET("/:id", drefs.Get)
	dref.PATCH("/:id", drefs.Update)
	dref.POST("/:id/finalize", drefs.Finalize)
	dref.POST("/:id/approve", drefs.Approve)
	dref.POST("/:id/share", drefs.Share)

	updates := handler.NewOperationalUpdateHandler(a.updates)
	update := api.Group("/dref-op-update")
	update.POST("", updates.Create)
	update.GET("/:id", updates.Get)
	update.PATCH("/:id", updates.Update)
	update.POST("/:id/finalize", updates.Finalize)
	update.POST("/:id/approve", updates.Approve)

	reports := handler.NewFinalReportHandler(a.reports)
	report := api.Group("/dref-final-report")
	report.POST("", reports.Create)
	report.GET("/:id", reports.Get)
	report.PATCH("/:id", reports.Update)
	report.POST("/:id/finalize", reports.Finalize)
	report.POST("/:id/approve", reports.Approve)

	return r
}

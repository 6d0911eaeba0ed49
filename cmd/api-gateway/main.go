package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/dref-api/api/swagger"
	"github.com/noah-isme/dref-api/internal/handler"
	"github.com/noah-isme/dref-api/internal/repository"
	"github.com/noah-isme/dref-api/internal/service"
	"github.com/noah-isme/dref-api/pkg/cache"
	"github.com/noah-isme/dref-api/pkg/config"
	"github.com/noah-isme/dref-api/pkg/database"
	"github.com/noah-isme/dref-api/pkg/logger"
)

// @title DREF API
// @version 1.0.0
// @description Disaster Response Emergency Fund lifecycle: applications, operational updates and final reports chained by appeal code.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": db}

	drefRepo := repository.NewDrefRepository(db)
	updateRepo := repository.NewOperationalUpdateRepository(db)
	reportRepo := repository.NewFinalReportRepository(db)
	sharingRepo := repository.NewSharingRepository(db)
	privilegeRepo := repository.NewPrivilegeRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	access := service.NewAccessPolicy(privilegeRepo, logr)
	support := &service.StageSupport{
		Access:      access,
		Memberships: drefRepo,
		Sharing:     sharingRepo,
		Lifecycle:   service.NewLifecycle(cfg.Dref.CanonicalLanguage, service.PendingFlagChecker{}),
		Guard:       service.NewConcurrencyGuard(metricsSvc),
		Audit:       auditRepo,
		Metrics:     metricsSvc,
		Logger:      logr,
	}

	var dispatcher *service.EventDispatcher
	if cfg.Dref.Events.Enabled {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("lifecycle events disabled: redis unavailable", zap.Error(err))
		} else {
			defer redisClient.Close()
			checks["redis"] = cache.Pinger{Client: redisClient}
			bus := repository.NewEventBusRepository(redisClient, cfg.Dref.Events.Channel)
			dispatcher = service.NewEventDispatcher(bus, metricsSvc, logr, service.EventDispatcherConfig{
				Workers:    cfg.Dref.Events.Workers,
				Retries:    cfg.Dref.Events.Retries,
				RetryDelay: cfg.Dref.Events.RetryDelay,
			})
			dispatcher.Start(ctx)
			defer dispatcher.Stop()
			support.Events = dispatcher
		}
	}

	validate := validator.New()
	carry := service.NewCarryForwardEngine()

	app := &application{
		cfg:     cfg,
		logger:  logr,
		metrics: metricsSvc,
		auth: service.NewAuthService(logr, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			Issuer:            cfg.JWT.Issuer,
			Audience:          cfg.JWT.Audience,
			Leeway:            cfg.JWT.Leeway,
		}),
		audit:   auditRepo,
		checks:  checks,
		drefs:   service.NewDrefService(drefRepo, db, support, validate),
		updates: service.NewOperationalUpdateService(updateRepo, drefRepo, db, carry, support, validate),
		reports: service.NewFinalReportService(reportRepo, drefRepo, updateRepo, db, carry, support, validate),
		chains: service.NewAggregationService(drefRepo, updateRepo, reportRepo, sharingRepo, access, service.NewChainBuilder(), metricsSvc, logr, service.AggregationConfig{
			Workers:      cfg.Dref.AggregationWorkers,
			DefaultLimit: cfg.Dref.ListDefaultLimit,
			MaxLimit:     cfg.Dref.ListMaxLimit,
		}),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "events", support.Events != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

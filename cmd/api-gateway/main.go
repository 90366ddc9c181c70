package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/permit-api/api/swagger"
	"github.com/noah-isme/permit-api/internal/handler"
	"github.com/noah-isme/permit-api/internal/repository"
	"github.com/noah-isme/permit-api/internal/service"
	"github.com/noah-isme/permit-api/internal/workflow"
	"github.com/noah-isme/permit-api/pkg/cache"
	"github.com/noah-isme/permit-api/pkg/config"
	"github.com/noah-isme/permit-api/pkg/database"
	"github.com/noah-isme/permit-api/pkg/export"
	"github.com/noah-isme/permit-api/pkg/logger"
	"github.com/noah-isme/permit-api/pkg/storage"
	"github.com/noah-isme/permit-api/pkg/telemetry"
)

// @title Permit Issuance API
// @version 1.0.0
// @description Event permit applications routed through DC, SP, SDPO and OC review.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logr.Warn("flush traces", zap.Error(err))
		}
	}()

	registry := workflow.DefaultRegistry()
	if cfg.Workflow.RoleRegistryFile != "" {
		registry, err = workflow.LoadRegistryFile(cfg.Workflow.RoleRegistryFile)
		if err != nil {
			return fmt.Errorf("load role registry: %w", err)
		}
		logr.Info("role registry loaded", zap.String("file", cfg.Workflow.RoleRegistryFile))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, inbox cache and event stream disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()
	permitRepo := repository.NewPermitRepository(db)
	userRepo := repository.NewUserRepository(db)

	var (
		cacheRepo service.CacheRepository
		events    service.TransitionPublisher
		eventRepo *repository.EventStreamRepository
	)
	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)}
	if redisClient != nil {
		redisCache := repository.NewCacheRepository(redisClient, logr)
		eventRepo = repository.NewEventStreamRepository(redisClient, cfg.Events.Stream, cfg.Events.MaxLen)
		cacheRepo = redisCache
		events = eventRepo
		checks["redis"] = redisCache
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Inbox.CacheTTL, logr, redisClient != nil)

	documents, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		return fmt.Errorf("documents storage: %w", err)
	}
	permits, err := storage.NewLocalStorage(cfg.Permits.StorageDir)
	if err != nil {
		return fmt.Errorf("permits storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Permits.SignedURLSecret, cfg.Permits.SignedURLTTL)

	loc, err := time.LoadLocation(cfg.Permits.Timezone)
	if err != nil {
		logr.Warn("unknown permit timezone, using UTC", zap.String("timezone", cfg.Permits.Timezone), zap.Error(err))
		loc = time.UTC
	}
	generator := service.NewPDFPermitGenerator(export.NewPermitRenderer(loc), permits, cfg.Permits.Issuer, cfg.Permits.Conditions)

	notifier := service.NewNotificationService(service.NotificationConfig{
		WebhookURL: cfg.Notify.WebhookURL,
		Timeout:    cfg.Notify.Timeout,
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
	}, metricsSvc, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	engine := service.NewTransitionService(permitRepo, registry, logr,
		service.WithPermitGenerator(generator),
		service.WithTransitionAudit(userRepo),
		service.WithTransitionCache(cacheSvc),
		service.WithTransitionPublisher(events),
		service.WithTransitionNotifier(notifier),
		service.WithTransitionMetrics(metricsSvc),
	)
	inboxSvc := service.NewInboxService(permitRepo, registry, cacheSvc, metricsSvc, logr, service.InboxServiceConfig{
		MaxParallel: cfg.Inbox.MaxParallel,
		CacheTTL:    cfg.Inbox.CacheTTL,
	})

	validate := validator.New()
	if err := service.RegisterValidations(validate); err != nil {
		return fmt.Errorf("register validations: %w", err)
	}
	authSvc := service.NewAuthService(userRepo, registry, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	permitSvc := service.NewPermitService(permitRepo, registry, validate, documents, permits, signer, userRepo, logr, service.PermitServiceConfig{
		MaxDocumentSize: cfg.Documents.MaxFileSizeBytes,
		APIPrefix:       cfg.APIPrefix,
	}, service.WithPermitCache(cacheSvc))

	router := newRouter(routerDeps{
		cfg:       cfg,
		logger:    logr,
		registry:  registry,
		metrics:   metricsSvc,
		tokens:    authSvc,
		audit:     userRepo,
		auth:      handler.NewAuthHandler(authSvc),
		permits:   handler.NewPermitHandler(permitSvc),
		authority: handler.NewAuthorityHandler(service.NewAuthorityService(engine), inboxSvc),
		ops:       handler.NewMetricsHandler(metricsSvc, checks),
		events:    handler.NewEventHandler(eventReader(eventRepo)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// eventReader keeps a nil repository from becoming a non-nil interface.
func eventReader(repo *repository.EventStreamRepository) handler.EventReader {
	if repo == nil {
		return nil
	}
	return repo
}

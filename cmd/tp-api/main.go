package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tp-workflow-api/api/swagger"
	"github.com/noah-isme/tp-workflow-api/internal/handler"
	"github.com/noah-isme/tp-workflow-api/internal/migrations"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	"github.com/noah-isme/tp-workflow-api/internal/service"
	"github.com/noah-isme/tp-workflow-api/pkg/cache"
	"github.com/noah-isme/tp-workflow-api/pkg/config"
	"github.com/noah-isme/tp-workflow-api/pkg/database"
	"github.com/noah-isme/tp-workflow-api/pkg/export"
	"github.com/noah-isme/tp-workflow-api/pkg/jobs"
	"github.com/noah-isme/tp-workflow-api/pkg/logger"
	"github.com/noah-isme/tp-workflow-api/pkg/storage"
)

// @title Teaching Practice Workflow API
// @version 1.0.0
// @description Lesson plan review, observation scheduling and feedback for teaching practice
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		runner, err := migrations.NewRunner(db, logr)
		if err != nil {
			logr.Sugar().Fatalw("failed to load migrations", "error", err)
		}
		if _, err := runner.Up(ctx); err != nil {
			logr.Sugar().Fatalw("failed to apply migrations", "error", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, list cache disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	app, err := buildApp(ctx, cfg, db, redisClient, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build application", "error", err)
	}
	defer app.shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// application holds the wired handlers and the background workers they depend on.
type application struct {
	auth         *service.AuthService
	metrics      *service.MetricsService
	users        *repository.UserRepository
	authH        *handler.AuthHandler
	lessonPlansH *handler.LessonPlanHandler
	observationH *handler.ObservationHandler
	usersH       *handler.UserHandler
	assignmentsH *handler.TPAssignmentHandler
	reportsH     *handler.ReportHandler
	metricsH     *handler.MetricsHandler
	reportQueue  *jobs.Queue
}

func (a *application) shutdown() {
	if a.reportQueue != nil {
		a.reportQueue.Stop()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	validate := newValidator()
	metrics := service.NewMetricsService()

	var (
		cacheRepo  service.CacheRepository
		redisCache *repository.CacheRepository
	)
	if redisClient != nil {
		redisCache = repository.NewCacheRepository(redisClient, "tp", logr)
		cacheRepo = redisCache
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.ListTTL, logr, cfg.Cache.Enabled)

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	planRepo := repository.NewLessonPlanRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	observationRepo := repository.NewObservationRepository(db)
	assignmentRepo := repository.NewTPAssignmentRepository(db)
	reportRepo := repository.NewReportRepository(db)

	authSvc := service.NewAuthService(userRepo, sessionRepo, metrics, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})

	planSvc := service.NewLessonPlanService(planRepo, cacheSvc, userRepo, validate, logr, service.LessonPlanServiceConfig{
		PageSize: cfg.Pagination.LessonPlanPageSize,
		CacheTTL: cfg.Cache.ListTTL,
	})
	reviewSvc := service.NewReviewService(planRepo, reviewRepo, observationRepo, assignmentRepo, db, cacheSvc, userRepo, metrics, logr)
	observationSvc := service.NewObservationService(observationRepo, planRepo, userRepo, assignmentRepo, cacheSvc, userRepo, metrics, logr, service.ObservationServiceConfig{
		PageSize:      cfg.Pagination.ObservationPageSize,
		ImportMaxRows: cfg.Observations.ImportMaxRows,
		CacheTTL:      cfg.Cache.ListTTL,
	})
	assistantSvc := service.NewAssistantService(nil, validate, logr, service.AssistantConfig{
		URL:     cfg.Assistant.URL,
		APIKey:  cfg.Assistant.APIKey,
		Timeout: cfg.Assistant.Timeout,
	})

	docStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("documents storage: %w", err)
	}
	pdf := export.NewPDFExporter()
	documentSvc := service.NewDocumentService(planSvc, planRepo, reviewRepo, pdf, docStore,
		storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL), cfg.APIPrefix, logr)

	app := &application{
		auth:         authSvc,
		metrics:      metrics,
		users:        userRepo,
		authH:        handler.NewAuthHandler(authSvc, handler.RefreshCookie{
			Enabled: cfg.JWT.RefreshCookie,
			Path:    cfg.APIPrefix + "/auth",
			Secure:  cfg.IsProduction(),
			MaxAge:  cfg.JWT.RefreshExpiration,
		}),
		lessonPlansH: handler.NewLessonPlanHandler(planSvc, reviewSvc, assistantSvc, documentSvc),
		observationH: handler.NewObservationHandler(observationSvc),
		usersH:       handler.NewUserHandler(service.NewUserService(userRepo, sessionRepo, validate, logr)),
		assignmentsH: handler.NewTPAssignmentHandler(service.NewTPAssignmentService(userRepo, assignmentRepo, userRepo, validate, logr)),
	}

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}
	app.metricsH = handler.NewMetricsHandler(metrics, checks)

	if cfg.Reports.Enabled {
		reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("reports storage: %w", err)
		}
		exporter := service.NewExportService(planRepo, observationRepo, reportStore,
			storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
			logr, export.NewCSVExporter(), pdf)

		worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			RetryDelay: cfg.Reports.RetryDelay,
			Logger:     logr,
			OnDone: func(job jobs.Job, err error, took time.Duration) {
				metrics.ObserveJob("reports", err, took)
			},
		})
		queue.Start(ctx)
		app.reportQueue = queue

		reportSvc := service.NewReportService(reportRepo, assignmentRepo, queue, exporter, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
		app.reportsH = handler.NewReportHandler(reportSvc, logr)
	}

	return app, nil
}

// newValidator reports struct fields by their JSON names so validation
// details match the request payload.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

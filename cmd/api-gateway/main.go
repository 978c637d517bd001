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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sqlclassroom-api/api/swagger"
	"github.com/noah-isme/sqlclassroom-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sqlclassroom-api/internal/middleware"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/internal/repository"
	"github.com/noah-isme/sqlclassroom-api/internal/service"
	"github.com/noah-isme/sqlclassroom-api/pkg/cache"
	"github.com/noah-isme/sqlclassroom-api/pkg/config"
	"github.com/noah-isme/sqlclassroom-api/pkg/database"
	"github.com/noah-isme/sqlclassroom-api/pkg/jobs"
	"github.com/noah-isme/sqlclassroom-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sqlclassroom-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sqlclassroom-api/pkg/middleware/requestid"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
	"github.com/noah-isme/sqlclassroom-api/pkg/storage"
)

// @title SQL Classroom API
// @version 1.0.0
// @description Sandboxed execution and grading of student SQL scripts
// @BasePath /api
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect metadata database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository = repository.NewMemoryCache()
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, using in-process cache", zap.Error(err))
	} else if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Evaluation.EtalonCacheTTL, logr, true)

	engine, err := sandbox.NewEngine(ctx, cfg.Sandbox)
	if err != nil {
		logr.Fatal("failed to init sandbox engine", zap.String("engine", cfg.Sandbox.Engine), zap.Error(err))
	}
	manager := sandbox.NewManager(engine, sandbox.OptionsFromConfig(cfg.Sandbox, logr.Named("sandbox"), metrics))
	defer manager.Close() //nolint:errcheck

	store, err := storage.New(ctx, cfg.Dumps)
	if err != nil {
		logr.Fatal("failed to init dump store", zap.String("store", cfg.Dumps.Store), zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Dumps.SignedURLSecret, cfg.Dumps.SignedURLTTL)

	taskRepo := repository.NewTaskRepository(db)
	dumpRepo := repository.NewTeacherDatabaseRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	authService := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	submissionService := service.NewSubmissionService(submissionRepo, taskRepo, metrics, logr)

	recorder := jobs.NewQueue("submissions", submissionService.HandleRecordJob, jobs.QueueConfig{
		Workers:    cfg.Evaluation.RecorderWorkers,
		MaxRetries: cfg.Evaluation.RecorderRetries,
		Logger:     logr,
	})
	recorder.Start(ctx)

	evaluationService := service.NewEvaluationService(service.EvaluationDeps{
		Tasks:       taskRepo,
		Dumps:       dumpRepo,
		Store:       store,
		Sandbox:     manager,
		Cache:       cacheService,
		Recorder:    recorder,
		Submissions: submissionRepo,
		Metrics:     metrics,
	}, service.EvaluationConfig{
		SessionTTL:     cfg.Evaluation.SessionTTL,
		EtalonCacheTTL: cfg.Evaluation.EtalonCacheTTL,
		MaxDumpBytes:   cfg.Dumps.MaxUploadBytes,
	}, logr)
	databaseService := service.NewDatabaseService(dumpRepo, store, evaluationService, signer, cacheService, logr, service.DatabaseServiceConfig{
		MaxUploadBytes: cfg.Dumps.MaxUploadBytes,
		APIPrefix:      cfg.APIPrefix,
	})

	evaluationHandler := handler.NewEvaluationHandler(evaluationService)
	databaseHandler := handler.NewDatabaseHandler(databaseService, cfg.Dumps.MaxUploadBytes)
	submissionHandler := handler.NewSubmissionHandler(submissionService)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	identify := internalmiddleware.OptionalJWT(authService)
	if cfg.Auth.Enabled {
		identify = internalmiddleware.JWT(authService)
	}
	limiter := internalmiddleware.NewRateLimiter(cfg.Evaluation.RateLimit, cfg.Evaluation.RateBurst, 10*time.Minute)
	staff := []gin.HandlerFunc{internalmiddleware.JWT(authService), internalmiddleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)}

	api := r.Group(cfg.APIPrefix)
	{
		eval := api.Group("", identify)
		eval.GET("/tasks/:id/", evaluationHandler.GetTask)
		eval.GET("/tasks/:id/schema/", evaluationHandler.TaskSchema)
		eval.GET("/database-schema/:dbId/", evaluationHandler.DatabaseSchema)
		eval.GET("/sql-history/", submissionHandler.History)

		limited := eval.Group("", internalmiddleware.RateLimit(limiter))
		limited.POST("/tasks/:id/execute/", evaluationHandler.Execute)
		limited.POST("/tasks/:id/submit/", evaluationHandler.Submit)
		limited.POST("/execute-sql/", evaluationHandler.ExecuteSQL)

		teacher := api.Group("", staff...)
		teacher.GET("/tasks/:id/submissions/export", submissionHandler.Export)
		teacher.POST("/teacher-databases/", databaseHandler.Upload)
		teacher.GET("/teacher-databases/", databaseHandler.List)
		teacher.GET("/teacher-databases/:id/", databaseHandler.Get)
		teacher.GET("/teacher-databases/:id/download", databaseHandler.Download)
		teacher.DELETE("/teacher-databases/:id/", databaseHandler.Delete)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "engine", cfg.Sandbox.Engine)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	recorder.Stop()
}

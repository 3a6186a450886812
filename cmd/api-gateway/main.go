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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-lms-api/api/swagger"
	"github.com/noah-isme/sma-lms-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-lms-api/internal/middleware"
	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	"github.com/noah-isme/sma-lms-api/internal/service"
	"github.com/noah-isme/sma-lms-api/pkg/cache"
	"github.com/noah-isme/sma-lms-api/pkg/config"
	"github.com/noah-isme/sma-lms-api/pkg/database"
	"github.com/noah-isme/sma-lms-api/pkg/export"
	"github.com/noah-isme/sma-lms-api/pkg/jobs"
	"github.com/noah-isme/sma-lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-lms-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-lms-api/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

// @title SMA LMS API
// @version 1.0.0
// @description Courses, timetables, grades, dashboards and chat for a senior high school.
// @BasePath /api/v1
// @schemes http

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
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	mongoClient, mongoDB, err := database.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		logr.Warn("mongo unavailable, chat disabled", zap.Error(err))
	} else {
		defer mongoClient.Disconnect(context.Background()) //nolint:errcheck
	}

	metricsSvc := service.NewMetricsService()
	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient), metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
	}
	validate := validator.New()

	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	terms := repository.NewTermRepository(db)
	schedules := repository.NewScheduleRepository(db)
	classes := repository.NewClassRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	attendance := repository.NewAttendanceRepository(db)

	authSvc := service.NewAuthService(logr, service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	access := service.NewCourseAccess(courses)
	checker := service.NewScheduleConflictChecker(courses, users, logr)
	enrollmentSvc := service.NewEnrollmentService(db, courses, users, checker, cacheSvc, metricsSvc, validate, logr)
	scheduleSvc := service.NewCourseScheduleService(db, courses, schedules, checker, cacheSvc, metricsSvc, validate, logr)
	termSvc := service.NewTermService(db, terms, cacheSvc, logr)
	gradeSvc := service.NewGradeService(courses, assignments, submissions, attendance, terms, cfg.Grading, logr)
	intelligenceSvc := service.NewIntelligenceService(submissions, terms, logr)
	gradingSvc := service.NewGradingService(submissions, assignments, courses, cacheSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendance, courses, cacheSvc, validate, logr)

	handlers := handler.Handlers{
		Courses: handler.NewCourseHandler(handler.CourseHandlerDeps{
			Access:     access,
			Conflicts:  checker,
			Enrollment: enrollmentSvc,
			Schedules:  scheduleSvc,
			Grades:     gradeSvc,
			Attendance: attendanceSvc,
		}),
		Students:    handler.NewStudentHandler(gradeSvc, intelligenceSvc),
		Submissions: handler.NewSubmissionHandler(gradingSvc),
		Terms:       handler.NewTermHandler(termSvc),
	}

	if cfg.Dashboard.Enabled {
		dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
			Users:        users,
			Courses:      courses,
			Attendance:   attendance,
			Submissions:  submissions,
			Assignments:  assignments,
			Classes:      classes,
			Terms:        terms,
			Grades:       gradeSvc,
			Intelligence: intelligenceSvc,
			Cache:        cacheSvc,
			Logger:       logr,
			Config: service.DashboardServiceConfig{
				CacheTTL:               cfg.Dashboard.CacheTTL,
				LowAttendanceThreshold: cfg.Dashboard.LowAttendanceThreshold,
				UpcomingHorizon:        cfg.Dashboard.UpcomingDeadlineHorizon,
			},
		})
		handlers.Dashboards = handler.NewDashboardHandler(dashboardSvc)
	}

	if mongoDB != nil {
		chatRepo := repository.NewChatRepository(mongoDB)
		if err := chatRepo.EnsureIndexes(ctx); err != nil {
			logr.Warn("failed to ensure chat indexes", zap.Error(err))
		}
		chatSvc := service.NewChatService(chatRepo, users, cacheSvc, metricsSvc, cfg.Chat, validate, logr)
		handlers.Chat = handler.NewChatHandler(chatSvc)
	}

	if cfg.Reports.Enabled {
		reportSvc, queue, err := buildReports(cfg, db, courses, users, attendance, gradeSvc, metricsSvc, validate, logr)
		if err != nil {
			logr.Fatal("failed to set up gradebook export", zap.Error(err))
		}
		queue.Start(ctx)
		defer queue.Stop()
		if requeued := reportSvc.RecoverPendingJobs(ctx); requeued > 0 {
			logr.Info("requeued pending report jobs", zap.Int("count", requeued))
		}
		reportSvc.StartCleanup(ctx)
		handlers.Reports = handler.NewReportHandler(reportSvc)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))

	handler.RegisterOps(r, handler.NewMetricsHandler(metricsSvc, readinessChecks(db, redisClient, mongoClient), logr))
	handler.Register(r.Group(cfg.APIPrefix), authSvc, handlers, logr)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		logr.Error("server failed", zap.Error(err))
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("could not stop server gracefully", zap.Error(err))
		_ = srv.Close()
	}
}

func buildReports(
	cfg *config.Config,
	db *sqlx.DB,
	courses *repository.CourseRepository,
	users *repository.UserRepository,
	attendance *repository.AttendanceRepository,
	grades *service.GradeService,
	metrics *service.MetricsService,
	validate *validator.Validate,
	logr *zap.Logger,
) (*service.ReportService, *jobs.Queue, error) {
	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open export storage: %w", err)
	}
	exporter := service.NewExportService(service.ExportServiceParams{
		Courses:    courses,
		Users:      users,
		Attendance: attendance,
		Grades:     grades,
		Storage:    files,
		Signer:     storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
		CSV:        export.NewCSVExporter(),
		PDF:        export.NewPDFExporter(),
		Config:     service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
		Logger:     logr,
	})

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exporter, metrics, logr)
	queue := jobs.New("reports", jobs.Config{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnGiveUp:   worker.Fail,
	})
	queue.Handle(string(models.ReportTypeGradebook), worker.Handle)

	reportSvc := service.NewReportService(reportRepo, courses, queue, exporter, metrics, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})
	return reportSvc, queue, nil
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client, mongoClient *mongo.Client) map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if mongoClient != nil {
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) }
	}
	return checks
}

// Package main runs the upload manager: recorder webhook, status endpoints and
// the upload worker in one process, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/uploadmgr/config"
	"github.com/aura-webinar/uploadmgr/internal/auth"
	"github.com/aura-webinar/uploadmgr/internal/metrics"
	"github.com/aura-webinar/uploadmgr/internal/middleware"
	"github.com/aura-webinar/uploadmgr/internal/models"
	"github.com/aura-webinar/uploadmgr/internal/notify"
	"github.com/aura-webinar/uploadmgr/internal/platform"
	"github.com/aura-webinar/uploadmgr/internal/platform/s3archive"
	"github.com/aura-webinar/uploadmgr/internal/uploads"
	"github.com/aura-webinar/uploadmgr/internal/worker"
	"github.com/aura-webinar/uploadmgr/pkg/database"
	"github.com/aura-webinar/uploadmgr/pkg/queue"
	"github.com/aura-webinar/uploadmgr/pkg/redis"
	"github.com/aura-webinar/uploadmgr/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	var notifier notify.Publisher = notify.Nop{}
	if rdb != nil {
		defer rdb.Close()
		notifier = notify.NewRedisPubSub(rdb.Client, cfg.Redis.Channel, logger)
	}

	policy := queue.PolicyBlock
	if cfg.Queue.Policy == config.QueueReject {
		policy = queue.PolicyReject
	}
	jobs := queue.New[*models.RecordingEvent](cfg.Queue.Capacity, policy)
	progress := uploads.NewProgress()
	m := metrics.New(prometheus.DefaultRegisterer, func() float64 { return float64(jobs.Len()) })

	endpoints := make(map[platform.Line]string, len(cfg.Uploader.LineEndpoints))
	for name, url := range cfg.Uploader.LineEndpoints {
		endpoints[platform.Line(name)] = url
	}
	archives, err := s3archive.NewClient(s3archive.Config{
		Region:        cfg.AWS.Region,
		Bucket:        cfg.AWS.ArchiveBucket,
		PublicBaseURL: cfg.AWS.PublicBaseURL,
		Endpoints:     endpoints,
		Fallback: s3archive.Credentials{
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		},
	}, logger)
	if err != nil {
		logger.Fatal("archive platform", zap.Error(err))
	}

	store := uploads.NewRepository(pool)

	processor := worker.NewUploadProcessor(store, jobs, progress, archives, &cfg.Uploader, logger)
	processor.SetNotifier(notifier)
	processor.SetMetrics(m)

	uploadHandler := uploads.NewHandler(store, jobs, progress, logger)
	uploadHandler.SetMetrics(m)
	uploadHandler.SetHistoryWindow(cfg.Server.HistoryWindow)
	uploadHandler.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger, "/health", "/metrics"))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Metrics(m))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "queued": jobs.Len(), "busy": progress.Busy()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/recorder", uploadHandler.Recorder)
	router.GET("/stat", uploadHandler.Status)
	router.GET("/history", uploadHandler.History)

	retry := []gin.HandlerFunc{uploadHandler.Retry}
	if cfg.JWT.Secret != "" {
		jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
		retry = []gin.HandlerFunc{
			middleware.JWT(jwtService),
			middleware.RequireRole(auth.RoleOperator),
			uploadHandler.Retry,
		}
	} else {
		logger.Warn("JWT_SECRET not set, /retry is unauthenticated")
	}
	router.POST("/retry/:event_id", retry...)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(workerDone)
	}()

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("line", string(cfg.Uploader.Line)),
			zap.Int("rooms", len(cfg.Uploader.Rooms)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// An interrupted upload stays pending in the store and is resumed by /retry.
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("upload worker did not stop in time")
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"PromptToVideo-server/config"
	"PromptToVideo-server/models"
	"PromptToVideo-server/routers"
	"PromptToVideo-server/routers/api"
	"PromptToVideo-server/service"
	"PromptToVideo-server/service/gateway"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := config.AppConfig
	logger := initLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()
	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("server starting", zap.String("port", cfg.Server.Port))

	gw := gateway.NewGeminiGateway(gateway.GeminiConfig{
		APIKey:            cfg.Gemini.APIKey,
		BaseURL:           cfg.Gemini.BaseURL,
		TextModel:         cfg.Gemini.TextModel,
		ImageModel:        cfg.Gemini.ImageModel,
		VideoModel:        cfg.Gemini.VideoModel,
		Timeout:           cfg.Gemini.Timeout,
		VideoTimeout:      cfg.Gemini.VideoTimeout,
		VideoPollInterval: cfg.Gemini.VideoPollInterval,
	}, logger)

	store := initStore(cfg, logger)

	var db *gorm.DB
	if cfg.MySQL.DSN != "" {
		var err error
		db, err = models.InitDB(cfg.MySQL.DSN)
		if err != nil {
			logger.Fatal("database init failed", zap.Error(err))
		}
		logger.Info("database initialized")
	}

	recorder := initRecorder(cfg, db, logger)

	orch := service.NewOrchestrator(service.Deps{
		Gateway:    gw,
		Store:      store,
		Recorder:   recorder,
		Authorizer: service.RoleAuthorizer{Required: cfg.Auth.RequiredRole},
		Logger:     logger,
	}, service.Options{
		DefaultShotCount:    cfg.Pipeline.DefaultShotCount,
		MoodBoardSize:       cfg.Pipeline.MoodBoardSize,
		ContinuityThreshold: cfg.Pipeline.ContinuityThreshold,
		SpeakingRate:        cfg.Pipeline.SpeakingRate,
		AspectRatio:         cfg.Pipeline.AspectRatio,
		RenderConcurrency:   cfg.Pipeline.RenderConcurrency,
	})

	h := api.NewHandler(orch, db, cfg.Pipeline.EventBuffer, logger)
	r := routers.InitRouter(h, routers.AuthConfig{
		JWTSecret:    cfg.Auth.JWTSecret,
		Issuer:       cfg.Auth.Issuer,
		RequiredRole: cfg.Auth.RequiredRole,
	}, logger)
	if err := r.Run(cfg.Server.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// initStore 配置了 MinIO 则上传到对象存储，否则素材以 data URI 内联在 checkpoint 中
func initStore(cfg *config.Config, logger *zap.Logger) service.ArtifactStore {
	if cfg.MinIO.Endpoint == "" {
		logger.Info("MinIO not configured, artifacts are inlined")
		return service.InlineStore{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := service.NewMinioStore(ctx, service.MinioConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	}, logger)
	if err != nil {
		logger.Fatal("MinIO init failed", zap.Error(err))
	}
	logger.Info("MinIO initialized", zap.String("bucket", cfg.MinIO.Bucket))
	return store
}

// initRecorder 有 Redis 时经队列异步落库，否则直接写库
func initRecorder(cfg *config.Config, db *gorm.DB, logger *zap.Logger) service.Recorder {
	if db == nil {
		logger.Warn("database not configured, finished clips are not recorded")
		return service.NopRecorder{}
	}
	if cfg.Redis.Addr == "" {
		return &service.DBRecorder{DB: db}
	}
	opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
	processor := service.NewProcessor(db, logger)
	processor.StartProcessor(opt, 5)
	logger.Info("queue initialized", zap.String("redis", cfg.Redis.Addr))
	return service.NewQueueRecorder(opt, logger)
}

func initLogger(levelName, format string) *zap.Logger {
	// 解析日志级别
	level := zapcore.InfoLevel
	if err := level.Set(levelName); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

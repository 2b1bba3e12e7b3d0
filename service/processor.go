package service

import (
	"context"
	"encoding/json"
	"fmt"

	"PromptToVideo-server/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processor 处理队列任务：把成片记录写入数据库
type Processor struct {
	DB     *gorm.DB
	logger *zap.Logger
	srv    *asynq.Server
}

func NewProcessor(db *gorm.DB, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{DB: db, logger: logger.With(zap.String("component", "processor"))}
}

// Mux 注册任务处理函数
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRecordArtifact, p.HandleRecordArtifact)
	return mux
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(opt asynq.RedisClientOpt, concurrency int) {
	p.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger: newAsynqLogger(p.logger),
	})

	p.logger.Info("starting task processor", zap.Int("concurrency", concurrency))
	go func() {
		if err := p.srv.Run(p.Mux()); err != nil {
			p.logger.Fatal("could not run processor", zap.Error(err))
		}
	}()
}

// Shutdown 等待进行中的任务完成后停止
func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleRecordArtifact 核心处理逻辑
func (p *Processor) HandleRecordArtifact(ctx context.Context, t *asynq.Task) error {
	var payload RecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID == "" || payload.Artifact.URL == "" {
		return fmt.Errorf("incomplete record payload: %w", asynq.SkipRetry)
	}

	rec := newRecord(payload.SessionID, payload.ShotIndex, payload.Artifact)
	if err := models.CreateArtifactRecord(p.DB.WithContext(ctx), rec); err != nil {
		// 返回 err 触发重试
		return fmt.Errorf("写入成片记录失败: %w", err)
	}
	p.logger.Info("artifact recorded",
		zap.String("session_id", payload.SessionID),
		zap.Int("shot_index", payload.ShotIndex),
		zap.Uint("record_id", rec.ID))
	return nil
}

// asynqLogger routes asynq's internal logging through zap.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func newAsynqLogger(l *zap.Logger) asynqLogger {
	return asynqLogger{s: l.Named("asynq").Sugar()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }

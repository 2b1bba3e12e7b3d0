package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PromptToVideo-server/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	TypeRecordArtifact = "artifact:record"
)

// ArtifactRef is a finished clip handle plus what it was generated from.
type ArtifactRef struct {
	URL        string   `json:"url"`
	Prompt     string   `json:"prompt,omitempty"`
	References []string `json:"references,omitempty"`
}

// Recorder durably logs a finished clip.
type Recorder interface {
	RecordArtifact(ctx context.Context, sessionID string, shotIndex int, ref ArtifactRef) error
}

// NopRecorder drops every record; used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) RecordArtifact(context.Context, string, int, ArtifactRef) error { return nil }

// DBRecorder writes records synchronously through gorm.
type DBRecorder struct {
	DB *gorm.DB
}

func (r *DBRecorder) RecordArtifact(ctx context.Context, sessionID string, shotIndex int, ref ArtifactRef) error {
	return models.CreateArtifactRecord(r.DB.WithContext(ctx), newRecord(sessionID, shotIndex, ref))
}

func newRecord(sessionID string, shotIndex int, ref ArtifactRef) *models.ArtifactRecord {
	return &models.ArtifactRecord{
		SessionID:  sessionID,
		ShotIndex:  shotIndex,
		Kind:       models.ArtifactKindClip,
		URL:        ref.URL,
		Provenance: models.RecordMetadata{Prompt: ref.Prompt, References: ref.References},
	}
}

type RecordPayload struct {
	SessionID string      `json:"session_id"`
	ShotIndex int         `json:"shot_index"`
	Artifact  ArtifactRef `json:"artifact"`
}

// QueueRecorder 把记录写入 asynq 队列，由 Processor 异步落库
type QueueRecorder struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueRecorder 初始化
func NewQueueRecorder(opt asynq.RedisClientOpt, logger *zap.Logger) *QueueRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueRecorder{
		client: asynq.NewClient(opt),
		logger: logger.With(zap.String("component", "queue_recorder")),
	}
}

func (q *QueueRecorder) RecordArtifact(ctx context.Context, sessionID string, shotIndex int, ref ArtifactRef) error {
	payload, err := json.Marshal(RecordPayload{SessionID: sessionID, ShotIndex: shotIndex, Artifact: ref})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeRecordArtifact, payload,
		asynq.MaxRetry(3),             // 失败重试 3 次
		asynq.Timeout(time.Minute),    // 只是一次数据库写入
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.logger.Info("record enqueued",
		zap.String("session_id", sessionID),
		zap.Int("shot_index", shotIndex),
		zap.String("task_id", info.ID))
	return nil
}

func (q *QueueRecorder) Close() error {
	return q.client.Close()
}

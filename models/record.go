package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	ArtifactKindClip = "clip"
)

// ArtifactRecord 持久化记录已完成的成片片段（record_artifact）
type ArtifactRecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	SessionID  string         `gorm:"type:varchar(64);index:idx_record_session_shot" json:"sessionId"`
	ShotIndex  int            `gorm:"index:idx_record_session_shot" json:"shotIndex"`
	Kind       string         `gorm:"type:varchar(16)" json:"kind"`
	URL        string         `gorm:"type:text" json:"url"`
	Provenance RecordMetadata `gorm:"type:json" json:"provenance"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// RecordMetadata 记录生成时所用的参考素材
type RecordMetadata struct {
	Prompt     string   `json:"prompt,omitempty"`
	References []string `json:"references,omitempty"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (m RecordMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (m *RecordMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
}

func (ArtifactRecord) TableName() string {
	return "artifact_record"
}

func CreateArtifactRecord(db *gorm.DB, r *ArtifactRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Kind == "" {
		r.Kind = ArtifactKindClip
	}
	return db.Create(r).Error
}

// ListArtifactRecords returns a session's records, newest last.
func ListArtifactRecords(db *gorm.DB, sessionID string) ([]ArtifactRecord, error) {
	var out []ArtifactRecord
	err := db.Where("session_id = ?", sessionID).Order("shot_index ASC, id ASC").Find(&out).Error
	return out, err
}

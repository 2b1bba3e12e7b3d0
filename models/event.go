package models

import "time"

type EventType string

// 进度事件类型
const (
	EventStageStart       EventType = "stage-start"
	EventStageLog         EventType = "stage-log"
	EventStageFallback    EventType = "stage-fallback" // 降级处理，不是错误
	EventStageComplete    EventType = "stage-complete"
	EventItemComplete     EventType = "item-complete"
	EventItemError        EventType = "item-error"
	EventPipelineComplete EventType = "pipeline-complete"
	EventPipelineError    EventType = "pipeline-error"
)

// Event is an immutable progress record. Seq is strictly increasing within one invocation.
type Event struct {
	Seq       int64        `json:"seq"`
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Stage     string       `json:"stage,omitempty"`
	Message   string       `json:"message,omitempty"`
	Key       string       `json:"key,omitempty"`
	URL       string       `json:"url,omitempty"`
	Error     *ErrorReport `json:"error,omitempty"`
	Succeeded int          `json:"succeeded"`
	Total     int          `json:"total"`
	Timestamp time.Time    `json:"timestamp"`
}

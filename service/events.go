package service

import (
	"context"
	"sync"
	"time"

	"PromptToVideo-server/models"

	"go.uber.org/zap"
)

// EventSink receives progress events in emission order.
type EventSink interface {
	Emit(ev models.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(models.Event)

func (f SinkFunc) Emit(ev models.Event) { f(ev) }

// ChannelSink forwards events to a channel until ctx is done. Sends block, so the
// consumer must drain the channel while the invocation runs.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- models.Event
}

func NewChannelSink(ctx context.Context, ch chan<- models.Event) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: ch}
}

func (s *ChannelSink) Emit(ev models.Event) {
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

// Emitter stamps events with a sequence number and timestamp, keeps the
// append-only log for the invocation and forwards each event to the sink.
type Emitter struct {
	mu        sync.Mutex
	sessionID string
	seq       int64
	log       []models.Event
	sink      EventSink
	logger    *zap.Logger
	now       func() time.Time
}

func NewEmitter(sessionID string, sink EventSink, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		sessionID: sessionID,
		sink:      sink,
		logger:    logger.With(zap.String("session_id", sessionID)),
		now:       time.Now,
	}
}

func (e *Emitter) emit(ev models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev.Seq = e.seq
	ev.SessionID = e.sessionID
	ev.Timestamp = e.now()
	e.log = append(e.log, ev)
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

// Events returns a copy of everything emitted so far.
func (e *Emitter) Events() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Event, len(e.log))
	copy(out, e.log)
	return out
}

func (e *Emitter) StageStart(stage, msg string) {
	e.logger.Info("stage started", zap.String("stage", stage))
	e.emit(models.Event{Type: models.EventStageStart, Stage: stage, Message: msg})
}

func (e *Emitter) Log(stage, msg string) {
	e.logger.Debug(msg, zap.String("stage", stage))
	e.emit(models.Event{Type: models.EventStageLog, Stage: stage, Message: msg})
}

func (e *Emitter) Fallback(stage, msg string) {
	e.logger.Warn("stage fallback", zap.String("stage", stage), zap.String("reason", msg))
	e.emit(models.Event{Type: models.EventStageFallback, Stage: stage, Message: msg})
}

func (e *Emitter) StageComplete(stage string, succeeded, total int) {
	e.logger.Info("stage completed", zap.String("stage", stage), zap.Int("succeeded", succeeded), zap.Int("total", total))
	e.emit(models.Event{Type: models.EventStageComplete, Stage: stage, Succeeded: succeeded, Total: total})
}

func (e *Emitter) ItemComplete(stage, key, url string) {
	e.emit(models.Event{Type: models.EventItemComplete, Stage: stage, Key: key, URL: url})
}

func (e *Emitter) ItemError(stage, key string, rep *models.ErrorReport) {
	fields := []zap.Field{zap.String("stage", stage), zap.String("key", key)}
	if rep != nil {
		fields = append(fields, zap.String("error", rep.Summary), zap.String("type", rep.Type), zap.Strings("causes", rep.Causes))
	}
	e.logger.Warn("item failed", fields...)
	e.emit(models.Event{Type: models.EventItemError, Stage: stage, Key: key, Error: rep})
}

func (e *Emitter) PipelineComplete(phase models.Phase) {
	e.emit(models.Event{Type: models.EventPipelineComplete, Stage: string(phase)})
}

func (e *Emitter) PipelineError(phase models.Phase, rep *models.ErrorReport) {
	e.logger.Error("pipeline failed", zap.String("phase", string(phase)), zap.String("error", rep.Summary))
	e.emit(models.Event{Type: models.EventPipelineError, Stage: string(phase), Error: rep})
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type invocation func(ctx context.Context, sink service.EventSink) (service.Result, error)

type outcome struct {
	res service.Result
	err error
}

// start runs inv in the background, forwarding its events to the returned channel.
func (h *Handler) start(ctx context.Context, inv invocation) (<-chan models.Event, <-chan outcome) {
	events := make(chan models.Event, h.eventBuffer)
	done := make(chan outcome, 1)
	go func() {
		res, err := inv(ctx, service.NewChannelSink(ctx, events))
		done <- outcome{res: res, err: err}
	}()
	return events, done
}

// stream 以 SSE 推送进度事件，最后一条 checkpoint 事件携带完整状态。
// 请求级错误（参数、阶段不符）发生在任何事件之前，以普通 JSON 错误返回。
func (h *Handler) stream(c *gin.Context, inv invocation) {
	ctx := c.Request.Context()
	events, done := h.start(ctx, inv)

	var (
		pending []models.Event
		out     *outcome
	)
	select {
	case ev := <-events:
		pending = append(pending, ev)
	case o := <-done:
		if o.err != nil {
			c.JSON(statusFor(o.err), gin.H{"error": o.err.Error()})
			return
		}
		out = &o
	case <-ctx.Done():
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		for _, ev := range pending {
			c.SSEvent("progress", ev)
		}
		pending = nil
		if out != nil {
			// the invocation has returned, so nothing else is sent
			for len(events) > 0 {
				c.SSEvent("progress", <-events)
			}
			if out.err != nil {
				c.SSEvent("error", gin.H{"error": out.err.Error()})
			} else {
				c.SSEvent("checkpoint", out.res)
			}
			return false
		}
		select {
		case ev := <-events:
			c.SSEvent("progress", ev)
		case o := <-done:
			out = &o
		case <-ctx.Done():
			return false
		}
		return true
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsRequest 客户端每条消息触发一次调用
type wsRequest struct {
	Action     string          `json:"action"`
	Checkpoint *models.Session `json:"checkpoint"`
	ShotIndex  int             `json:"shotIndex"`
	Input      json.RawMessage `json:"input"`
}

type wsMessage struct {
	Type   string          `json:"type"` // event | checkpoint | error
	Event  *models.Event   `json:"event,omitempty"`
	Result *service.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SessionWebSocket 通过 WebSocket 驱动流水线：每条请求消息对应一次调用，
// 进度事件逐条推送，调用结束推送 checkpoint。
func (h *Handler) SessionWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	actor := actorFrom(c)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		inv, err := h.wsInvocation(actor, req)
		if err != nil {
			if werr := conn.WriteJSON(wsMessage{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		events, done := h.start(ctx, inv)
		var out outcome
	loop:
		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(wsMessage{Type: "event", Event: &ev}); err != nil {
					cancel()
					return
				}
			case out = <-done:
				break loop
			}
		}
		for len(events) > 0 {
			ev := <-events
			if err := conn.WriteJSON(wsMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
		msg := wsMessage{Type: "checkpoint", Result: &out.res}
		if out.err != nil {
			msg = wsMessage{Type: "error", Error: out.err.Error()}
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *Handler) wsInvocation(actor service.Actor, req wsRequest) (invocation, error) {
	decode := func(v any) error {
		if len(req.Input) == 0 || string(req.Input) == "null" {
			return nil
		}
		return json.Unmarshal(req.Input, v)
	}
	switch req.Action {
	case "start":
		var in service.IdeaInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.Start(ctx, actor, in, sink)
		}, nil
	case "moodboard":
		var sel service.MoodBoardSelection
		if err := decode(&sel); err != nil {
			return nil, err
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.ContinueMoodBoard(ctx, req.Checkpoint, sel, sink)
		}, nil
	case "characters":
		var sel service.CharacterSelection
		if err := decode(&sel); err != nil {
			return nil, err
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.ContinueCharacters(ctx, req.Checkpoint, sel, sink)
		}, nil
	case "render":
		var in service.RenderInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.Render(ctx, req.Checkpoint, in, sink)
		}, nil
	case "rerun":
		in := service.RerunInput{ShotIndex: req.ShotIndex}
		if err := decode(&in); err != nil {
			return nil, err
		}
		if in.ShotIndex == 0 {
			in.ShotIndex = req.ShotIndex
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.Rerun(ctx, req.Checkpoint, in, sink)
		}, nil
	case "advance":
		var in service.PhaseInput
		if err := decode(&in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, sink service.EventSink) (service.Result, error) {
			return h.pipeline.Advance(ctx, actor, req.Checkpoint, in, sink)
		}, nil
	}
	return nil, errUnknownAction(req.Action)
}

type errUnknownAction string

func (e errUnknownAction) Error() string { return "unknown action: " + string(e) }

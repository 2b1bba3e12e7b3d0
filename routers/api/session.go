package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"PromptToVideo-server/models"
	"PromptToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// 每个续跑请求都携带上一阶段返回的完整 checkpoint
type moodBoardRequest struct {
	Checkpoint *models.Session            `json:"checkpoint" binding:"required"`
	Selection  service.MoodBoardSelection `json:"selection"`
}

type charactersRequest struct {
	Checkpoint *models.Session            `json:"checkpoint" binding:"required"`
	Selection  service.CharacterSelection `json:"selection"`
}

type renderRequest struct {
	Checkpoint *models.Session     `json:"checkpoint" binding:"required"`
	Input      service.RenderInput `json:"input"`
}

type rerunRequest struct {
	Checkpoint *models.Session       `json:"checkpoint" binding:"required"`
	Prompt     string                `json:"prompt"`
	Options    service.RenderOptions `json:"options"`
}

type advanceRequest struct {
	Checkpoint *models.Session    `json:"checkpoint"`
	Input      service.PhaseInput `json:"input"`
}

// 创建会话：Idea -> Scenes -> 情绪板确认
func (h *Handler) StartSession(c *gin.Context) {
	var in service.IdeaInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := actorFrom(c)
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.Start(ctx, actor, in, sink)
	})
}

// 确认情绪板：生成角色肖像
func (h *Handler) ContinueMoodBoard(c *gin.Context) {
	var req moodBoardRequest
	if !h.bindCheckpoint(c, &req, func() *models.Session { return req.Checkpoint }) {
		return
	}
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.ContinueMoodBoard(ctx, req.Checkpoint, req.Selection, sink)
	})
}

// 确认角色：生成场景与分镜帧
func (h *Handler) ContinueCharacters(c *gin.Context) {
	var req charactersRequest
	if !h.bindCheckpoint(c, &req, func() *models.Session { return req.Checkpoint }) {
		return
	}
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.ContinueCharacters(ctx, req.Checkpoint, req.Selection, sink)
	})
}

// 生成视频
func (h *Handler) Render(c *gin.Context) {
	var req renderRequest
	if !h.bindCheckpoint(c, &req, func() *models.Session { return req.Checkpoint }) {
		return
	}
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.Render(ctx, req.Checkpoint, req.Input, sink)
	})
}

// 重新生成单个分镜的视频
func (h *Handler) RerunShot(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shot index"})
		return
	}
	var req rerunRequest
	if !h.bindCheckpoint(c, &req, func() *models.Session { return req.Checkpoint }) {
		return
	}
	in := service.RerunInput{ShotIndex: index, Prompt: req.Prompt, Options: req.Options}
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.Rerun(ctx, req.Checkpoint, in, sink)
	})
}

// 通用推进：按 checkpoint 当前阶段分派
func (h *Handler) Advance(c *gin.Context) {
	var req advanceRequest
	if !h.bindCheckpoint(c, &req, func() *models.Session { return req.Checkpoint }) {
		return
	}
	actor := actorFrom(c)
	h.stream(c, func(ctx context.Context, sink service.EventSink) (service.Result, error) {
		return h.pipeline.Advance(ctx, actor, req.Checkpoint, req.Input, sink)
	})
}

// bindCheckpoint decodes the body and checks the path session id matches the checkpoint.
func (h *Handler) bindCheckpoint(c *gin.Context, req any, cp func() *models.Session) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	s := cp()
	if s == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkpoint is required"})
		return false
	}
	if id := c.Param("session_id"); s.ID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("checkpoint session %q does not match path %q", s.ID, id)})
		return false
	}
	return true
}

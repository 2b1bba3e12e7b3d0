package api

import (
	"net/http"

	"PromptToVideo-server/models"

	"github.com/gin-gonic/gin"
)

// 获取会话已记录的成片：GET /v1/api/sessions/:session_id/records
func (h *Handler) ListRecords(c *gin.Context) {
	sessionID := c.Param("session_id")
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置数据库"})
		return
	}

	records, err := models.ListArtifactRecords(h.db.WithContext(c.Request.Context()), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取成片记录失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records":       records,
		"session_id":    sessionID,
		"total_records": len(records),
	})
}

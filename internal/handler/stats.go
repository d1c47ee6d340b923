package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/middleware"
	"github.com/user/startv/internal/utils"
)

// UserStats 获取当前用户的观看统计
func (h *Handler) UserStats(c *gin.Context) {
	username := middleware.GetUsername(c)
	stat, err := h.Stats.UserStats(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取观看统计失败")
		return
	}
	utils.Success(c, stat)
}

// SiteStats 获取全站统计（管理员）
func (h *Handler) SiteStats(c *gin.Context) {
	stats, err := h.Stats.SiteStats(c.Request.Context())
	if err != nil {
		utils.InternalServerError(c, "获取全站统计失败")
		return
	}
	utils.Success(c, stats)
}

// CheckUpdates 检测当前用户播放记录的更新状态
// 5 分钟内的重复请求命中引擎缓存，不会反复打详情接口
func (h *Handler) CheckUpdates(c *gin.Context) {
	username := middleware.GetUsername(c)
	records, err := h.Cache.GetAllPlayRecords(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取播放记录失败")
		return
	}

	summary, err := h.Update.Check(c.Request.Context(), username, records)
	if err != nil {
		utils.InternalServerError(c, "更新检测失败")
		return
	}
	utils.Success(c, summary)
}

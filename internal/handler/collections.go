package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/middleware"
	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/utils"
)

// ==================== 播放记录 ====================

// GetPlayRecords 获取当前用户全部播放记录
func (h *Handler) GetPlayRecords(c *gin.Context) {
	username := middleware.GetUsername(c)
	records, err := h.Cache.GetAllPlayRecords(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取播放记录失败")
		return
	}
	utils.Success(c, records)
}

// savePlayRecordRequest 播放进度上报
type savePlayRecordRequest struct {
	Key    string            `json:"key" binding:"required"`
	Record *model.PlayRecord `json:"record" binding:"required"`
}

// SavePlayRecord 保存播放记录（进度上报入口）
// play_time 不直接采信客户端上报的原始进度，而是按增量规则推进，
// 抵抗拖进度条刷时长和重复上报（见 stats.ComputeIncrement）
func (h *Handler) SavePlayRecord(c *gin.Context) {
	username := middleware.GetUsername(c)

	var req savePlayRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请求参数不正确")
		return
	}
	if _, _, err := model.ParseStorageKey(req.Key); err != nil {
		utils.BadRequest(c, "存储键格式不正确")
		return
	}

	records, err := h.Cache.GetAllPlayRecords(c.Request.Context(), username)
	if err == nil {
		if prev := records[req.Key]; prev != nil && prev.Index == req.Record.Index {
			elapsed := time.Since(time.UnixMilli(prev.SaveTime))
			inc := h.Increment.ComputeIncrement(prev.PlayTime, req.Record.PlayTime, elapsed)
			req.Record.PlayTime = prev.PlayTime + inc
		}
	}

	if err := h.Cache.SavePlayRecord(c.Request.Context(), username, req.Key, req.Record); err != nil {
		utils.InternalServerError(c, "保存播放记录失败")
		return
	}
	utils.Success(c, req.Record)
}

// DeletePlayRecord 删除单条播放记录，key 为空时清空全部
func (h *Handler) DeletePlayRecord(c *gin.Context) {
	username := middleware.GetUsername(c)
	key := c.Query("key")

	var err error
	if key == "" {
		err = h.Cache.ClearAllPlayRecords(c.Request.Context(), username)
	} else {
		err = h.Cache.DeletePlayRecord(c.Request.Context(), username, key)
	}
	if err != nil {
		utils.InternalServerError(c, "删除播放记录失败")
		return
	}
	utils.Success(c, nil)
}

// ==================== 收藏 ====================

// GetFavorites 获取当前用户全部收藏
func (h *Handler) GetFavorites(c *gin.Context) {
	username := middleware.GetUsername(c)
	favorites, err := h.Cache.GetAllFavorites(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取收藏失败")
		return
	}
	utils.Success(c, favorites)
}

// saveFavoriteRequest 添加收藏
type saveFavoriteRequest struct {
	Key      string          `json:"key" binding:"required"`
	Favorite *model.Favorite `json:"favorite" binding:"required"`
}

// SaveFavorite 添加收藏
func (h *Handler) SaveFavorite(c *gin.Context) {
	username := middleware.GetUsername(c)

	var req saveFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请求参数不正确")
		return
	}
	if _, _, err := model.ParseStorageKey(req.Key); err != nil {
		utils.BadRequest(c, "存储键格式不正确")
		return
	}

	if err := h.Cache.SaveFavorite(c.Request.Context(), username, req.Key, req.Favorite); err != nil {
		utils.InternalServerError(c, "添加收藏失败")
		return
	}
	utils.Success(c, req.Favorite)
}

// DeleteFavorite 取消收藏，key 为空时清空全部
func (h *Handler) DeleteFavorite(c *gin.Context) {
	username := middleware.GetUsername(c)
	key := c.Query("key")

	var err error
	if key == "" {
		err = h.Cache.ClearAllFavorites(c.Request.Context(), username)
	} else {
		err = h.Cache.DeleteFavorite(c.Request.Context(), username, key)
	}
	if err != nil {
		utils.InternalServerError(c, "取消收藏失败")
		return
	}
	utils.Success(c, nil)
}

// ==================== 搜索历史 ====================

// GetSearchHistory 获取搜索历史
func (h *Handler) GetSearchHistory(c *gin.Context) {
	username := middleware.GetUsername(c)
	history, err := h.Cache.GetSearchHistory(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取搜索历史失败")
		return
	}
	utils.Success(c, history)
}

// addSearchHistoryRequest 添加搜索关键词
type addSearchHistoryRequest struct {
	Keyword string `json:"keyword" binding:"required,max=64"`
}

// AddSearchHistory 添加搜索关键词
func (h *Handler) AddSearchHistory(c *gin.Context) {
	username := middleware.GetUsername(c)

	var req addSearchHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "关键词不能为空")
		return
	}

	if err := h.Cache.AddSearchHistory(c.Request.Context(), username, req.Keyword); err != nil {
		utils.InternalServerError(c, "添加搜索历史失败")
		return
	}
	utils.Success(c, nil)
}

// DeleteSearchHistory 删除搜索关键词，keyword 为空时清空全部
func (h *Handler) DeleteSearchHistory(c *gin.Context) {
	username := middleware.GetUsername(c)
	keyword := c.Query("keyword")

	var err error
	if keyword == "" {
		err = h.Cache.ClearSearchHistory(c.Request.Context(), username)
	} else {
		err = h.Cache.DeleteSearchHistory(c.Request.Context(), username, keyword)
	}
	if err != nil {
		utils.InternalServerError(c, "删除搜索历史失败")
		return
	}
	utils.Success(c, nil)
}

// ==================== 跳过配置 ====================

// GetSkipConfigs 获取跳过配置，带 key 参数时返回单条（不存在返回 null）
func (h *Handler) GetSkipConfigs(c *gin.Context) {
	username := middleware.GetUsername(c)

	if key := c.Query("key"); key != "" {
		cfg, err := h.Cache.GetSkipConfig(c.Request.Context(), username, key)
		if err != nil {
			utils.InternalServerError(c, "获取跳过配置失败")
			return
		}
		utils.Success(c, cfg)
		return
	}

	configs, err := h.Cache.GetAllSkipConfigs(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "获取跳过配置失败")
		return
	}
	utils.Success(c, configs)
}

// saveSkipConfigRequest 保存跳过配置
type saveSkipConfigRequest struct {
	Key    string            `json:"key" binding:"required"`
	Config *model.SkipConfig `json:"config" binding:"required"`
}

// SaveSkipConfig 保存跳过配置，片段列表整体替换
func (h *Handler) SaveSkipConfig(c *gin.Context) {
	username := middleware.GetUsername(c)

	var req saveSkipConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请求参数不正确")
		return
	}
	if _, _, err := model.ParseStorageKey(req.Key); err != nil {
		utils.BadRequest(c, "存储键格式不正确")
		return
	}

	if err := h.Cache.SaveSkipConfig(c.Request.Context(), username, req.Key, req.Config); err != nil {
		utils.InternalServerError(c, "保存跳过配置失败")
		return
	}
	utils.Success(c, req.Config)
}

// DeleteSkipConfig 删除跳过配置
func (h *Handler) DeleteSkipConfig(c *gin.Context) {
	username := middleware.GetUsername(c)
	key := c.Query("key")
	if key == "" {
		utils.BadRequest(c, "缺少存储键")
		return
	}

	if err := h.Cache.DeleteSkipConfig(c.Request.Context(), username, key); err != nil {
		utils.InternalServerError(c, "删除跳过配置失败")
		return
	}
	utils.Success(c, nil)
}
